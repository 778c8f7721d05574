// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config configures device logs, the consistency checker, and
// logging for the devlog tool and for services that embed device logs.
//
// A Config is assembled in layers. Each layer overrides the previous:
//
//   - the defaults returned by Default;
//   - a YAML file, loaded by Load;
//   - DEVLOG_* environment variables, applied by FromEnv;
//   - command line flags registered by RegisterFlags.
//
// A YAML configuration looks like this:
//
//	dir: /var/lib/devlog
//	segment: "2020"
//	seq_min: 1
//	max_entries: 1000000
//	ordering: reject
//	lock: true
//	check:
//	  suffix: .rebuilt
//	  parallel: 4
//	  lock_timeout: 30s
//	log:
//	  level: debug
//	  format: zap
package config

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/grailbio/devicelog/checker"
	"github.com/grailbio/devicelog/devicelog"
	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/log"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the devlog tool.
type Config struct {
	// Dir is the directory holding device logs.
	Dir string `yaml:"dir"`
	// Segment names the log segment (the part of the file name
	// following the device id).
	Segment string `yaml:"segment"`
	// SeqMin and SeqMax bound the sequence numbers assigned to
	// records. Numbering wraps from SeqMax back to SeqMin.
	SeqMin int64 `yaml:"seq_min"`
	SeqMax int64 `yaml:"seq_max"`
	// MaxEntries is the number of records an index may hold before
	// appends are refused.
	MaxEntries int32 `yaml:"max_entries"`
	// Ordering is the key ordering policy: "trust" or "reject".
	Ordering string `yaml:"ordering"`
	// Lock tells whether writers take the per-device advisory lock.
	Lock bool `yaml:"lock"`

	Check Check `yaml:"check"`
	Log   Log   `yaml:"log"`
}

// Check configures the consistency checker.
type Check struct {
	// Suffix is appended to the name of rebuilt indexes.
	Suffix string `yaml:"suffix"`
	// OutDir is the directory for rebuilt indexes. If empty, they
	// are written next to the original.
	OutDir string `yaml:"out_dir"`
	// Parallel is the number of devices checked concurrently.
	Parallel int `yaml:"parallel"`
	// LockTimeout bounds how long the checker waits for a device's
	// lock. Zero means do not lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Log configures logging.
type Log struct {
	// Level is one of "off", "error", "info", or "debug".
	Level string `yaml:"level"`
	// Format is "text" for Go's log package or "zap" for JSON
	// output via zap.
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Dir:        ".",
		Segment:    "0",
		SeqMin:     1,
		SeqMax:     math.MaxInt64,
		MaxEntries: math.MaxInt32,
		Ordering:   devicelog.TrustCaller.String(),
		Check: Check{
			Suffix:   checker.DefaultSuffix,
			Parallel: 1,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the YAML configuration at path on top of the defaults.
// Unknown fields are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.E("config: read", path, err)
	}
	if err := cfg.parse(b); err != nil {
		return cfg, errors.E("config:", path, err)
	}
	return cfg, nil
}

func (c *Config) parse(b []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.E(errors.Invalid, err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.E(errors.Invalid, "config: empty dir")
	case c.Segment == "":
		return errors.E(errors.Invalid, "config: empty segment")
	case c.SeqMin < 1:
		return errors.E(errors.Invalid, fmt.Sprintf("config: seq_min %d must be positive", c.SeqMin))
	case c.SeqMin > c.SeqMax:
		return errors.E(errors.Invalid, fmt.Sprintf("config: seq_min %d exceeds seq_max %d", c.SeqMin, c.SeqMax))
	case c.MaxEntries <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("config: max_entries %d must be positive", c.MaxEntries))
	case c.Check.Parallel <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("config: check.parallel %d must be positive", c.Check.Parallel))
	case c.Check.LockTimeout < 0:
		return errors.E(errors.Invalid, "config: negative check.lock_timeout")
	case c.Log.Format != "text" && c.Log.Format != "zap":
		return errors.E(errors.Invalid, fmt.Sprintf("config: unknown log format %q", c.Log.Format))
	}
	if _, err := devicelog.ParseOrdering(c.Ordering); err != nil {
		return errors.E("config", err)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.E(errors.Invalid, "config", err)
	}
	return nil
}

// Options returns the device log options described by c.
func (c Config) Options() (devicelog.Options, error) {
	if err := c.Validate(); err != nil {
		return devicelog.Options{}, err
	}
	ordering, _ := devicelog.ParseOrdering(c.Ordering)
	return devicelog.Options{
		SeqMin:     c.SeqMin,
		SeqMax:     c.SeqMax,
		MaxEntries: c.MaxEntries,
		Ordering:   ordering,
		Lock:       c.Lock,
	}, nil
}

// CheckOptions returns checker options for the device with the
// provided id.
func (c Config) CheckOptions(deviceID string, repair bool) checker.Options {
	return checker.Options{
		Location:    devicelog.Location{Dir: c.Dir, DeviceID: deviceID, Segment: c.Segment},
		Repair:      repair,
		OutDir:      c.Check.OutDir,
		Suffix:      c.Check.Suffix,
		Lock:        c.Check.LockTimeout > 0,
		LockTimeout: c.Check.LockTimeout,
	}
}

// SetupLog installs the configured log level and outputter. The
// returned function flushes the outputter and should be called before
// the program exits.
func (c Config) SetupLog() (flush func() error, err error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.E(errors.Invalid, "config", err)
	}
	switch c.Log.Format {
	case "text":
		log.SetLevel(level)
		return func() error { return nil }, nil
	case "zap":
		out, sync, err := log.NewProductionZapOutputter(level)
		if err != nil {
			return nil, errors.E("config: zap logger", err)
		}
		log.SetOutputter(out)
		return sync, nil
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("config: unknown log format %q", c.Log.Format))
	}
}

// Dump writes c as YAML to w.
func (c Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
