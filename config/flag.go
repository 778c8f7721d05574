// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/grailbio/devicelog/errors"
)

type int32Flag struct{ p *int32 }

func (f int32Flag) String() string {
	if f.p == nil {
		return "0"
	}
	return strconv.FormatInt(int64(*f.p), 10)
}

func (f int32Flag) Set(value string) error {
	n, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return err
	}
	*f.p = int32(n)
	return nil
}

// Flags binds a Config to a flag set. It is returned by RegisterFlags.
type Flags struct {
	Config

	fs     *flag.FlagSet
	prefix string
	path   string
	dump   bool
}

// RegisterFlags registers a set of flags on the provided FlagSet.
// These flags configure the returned Flags when Process is called
// (after flag parsing). Besides one flag for each configuration
// field, the flags are:
//
//	-config path
//		Loads the YAML configuration at the given path. If it is
//		not given, the defaults are used.
//
//	-configdump
//		Writes the configuration (after processing all layers) to
//		standard error and exits.
//
// The flag names are prefixed with the provided prefix.
func RegisterFlags(fs *flag.FlagSet, prefix string) *Flags {
	f := &Flags{Config: Default(), fs: fs, prefix: prefix}
	fs.StringVar(&f.path, prefix+"config", "", "load the YAML configuration at the provided path")
	fs.BoolVar(&f.dump, prefix+"configdump", false, "dump the configuration to stderr and exit")
	bind(fs, prefix, &f.Config)
	return f
}

func bind(fs *flag.FlagSet, prefix string, c *Config) {
	fs.StringVar(&c.Dir, prefix+"dir", c.Dir, "directory holding device logs")
	fs.StringVar(&c.Segment, prefix+"segment", c.Segment, "log segment name")
	fs.Int64Var(&c.SeqMin, prefix+"seq-min", c.SeqMin, "smallest assigned sequence number")
	fs.Int64Var(&c.SeqMax, prefix+"seq-max", c.SeqMax, "largest assigned sequence number")
	fs.Var(int32Flag{&c.MaxEntries}, prefix+"max-entries", "maximum number of records per index")
	fs.StringVar(&c.Ordering, prefix+"ordering", c.Ordering, "key ordering policy (trust, reject)")
	fs.BoolVar(&c.Lock, prefix+"lock", c.Lock, "lock device logs for exclusive writing")
	fs.StringVar(&c.Check.Suffix, prefix+"suffix", c.Check.Suffix, "suffix of rebuilt index files")
	fs.StringVar(&c.Check.OutDir, prefix+"out", c.Check.OutDir, "directory for rebuilt index files")
	fs.IntVar(&c.Check.Parallel, prefix+"parallel", c.Check.Parallel, "number of devices to check concurrently")
	fs.DurationVar(&c.Check.LockTimeout, prefix+"lock-timeout", c.Check.LockTimeout, "wait at most this long for a device lock while checking; 0 disables locking")
	fs.StringVar(&c.Log.Level, prefix+"log", c.Log.Level, "log level (off, error, info, debug)")
	fs.StringVar(&c.Log.Format, prefix+"logformat", c.Log.Format, "log format (text, zap)")
}

// Process assembles the configuration from its layers: the defaults,
// the file named by -config, the environment, and finally the flags
// that were set explicitly. The result is validated.
func (f *Flags) Process() error {
	cfg := Default()
	if f.path != "" {
		var err error
		if cfg, err = Load(f.path); err != nil {
			return err
		}
	}
	if err := FromEnv(&cfg); err != nil {
		return err
	}
	// Replay explicitly set flags onto the assembled configuration.
	replay := flag.NewFlagSet("replay", flag.ContinueOnError)
	bind(replay, f.prefix, &cfg)
	var once errors.Once
	f.fs.Visit(func(fl *flag.Flag) {
		if replay.Lookup(fl.Name) == nil {
			return
		}
		if err := replay.Set(fl.Name, fl.Value.String()); err != nil {
			once.Set(errors.E(errors.Invalid, "flag", fl.Name, err))
		}
	})
	if err := once.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.Config = cfg
	if f.dump {
		if err := cfg.Dump(os.Stderr); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	return nil
}
