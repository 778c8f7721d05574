// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/grailbio/devicelog/errors"
)

// EnvPrefix prefixes the names of environment variables read by
// FromEnv.
const EnvPrefix = "DEVLOG_"

// FromEnv overlays DEVLOG_* environment variables onto cfg. Variables
// that are unset or empty are ignored; malformed values are an error.
func FromEnv(cfg *Config) error {
	var once errors.Once
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, bits int, set func(int64)) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, bits)
		if err != nil {
			once.Set(errors.E(errors.Invalid, EnvPrefix+name, err))
			return
		}
		set(n)
	}

	str("DIR", &cfg.Dir)
	str("SEGMENT", &cfg.Segment)
	num("SEQ_MIN", 64, func(n int64) { cfg.SeqMin = n })
	num("SEQ_MAX", 64, func(n int64) { cfg.SeqMax = n })
	num("MAX_ENTRIES", 32, func(n int64) { cfg.MaxEntries = int32(n) })
	str("ORDERING", &cfg.Ordering)
	if v := os.Getenv(EnvPrefix + "LOCK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			once.Set(errors.E(errors.Invalid, EnvPrefix+"LOCK", err))
		} else {
			cfg.Lock = b
		}
	}
	str("CHECK_SUFFIX", &cfg.Check.Suffix)
	str("CHECK_OUT_DIR", &cfg.Check.OutDir)
	num("CHECK_PARALLEL", 32, func(n int64) { cfg.Check.Parallel = int(n) })
	if v := os.Getenv(EnvPrefix + "CHECK_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			once.Set(errors.E(errors.Invalid, EnvPrefix+"CHECK_LOCK_TIMEOUT", err))
		} else {
			cfg.Check.LockTimeout = d
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	return once.Err()
}
