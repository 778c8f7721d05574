// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/gobwas/glob"
	"github.com/grailbio/devicelog/checker"
	"github.com/grailbio/devicelog/config"
	"github.com/grailbio/devicelog/devicelog"
	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/log"
	"golang.org/x/sync/errgroup"
)

// Check checks (and optionally repairs) the device logs in a
// directory. It fails if any log is damaged.
func Check(ctx context.Context, cfg config.Config, out io.Writer, args []string) error {
	var (
		flags       = flag.NewFlagSet("check", flag.ContinueOnError)
		repairFlag  = flags.Bool("repair", false, "write a rebuilt index for each device")
		outFlag     = flags.String("out", cfg.Check.OutDir, "directory for rebuilt indexes")
		suffixFlag  = flags.String("suffix", cfg.Check.Suffix, "suffix of rebuilt indexes")
		parallel    = flags.Int("parallel", cfg.Check.Parallel, "number of devices checked concurrently")
		lockTimeout = flags.Duration("lock-timeout", cfg.Check.LockTimeout, "wait at most this long for each device lock; 0 disables locking")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return errors.E(errors.Invalid, "check: missing directory")
	}
	if *parallel <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("check: parallelism %d must be positive", *parallel))
	}
	cfg.Dir = flags.Arg(0)
	cfg.Check.OutDir = *outFlag
	cfg.Check.Suffix = *suffixFlag
	cfg.Check.LockTimeout = *lockTimeout

	ids, err := matchDevices(cfg.Dir, cfg.Segment, flags.Args()[1:])
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.E(errors.NotExist, "check: no matching devices in", cfg.Dir)
	}
	reports := make([]*checker.Report, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			r, err := checker.Check(ctx, cfg.CheckOptions(id, *repairFlag))
			if err != nil {
				return errors.E("check", id, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	var damaged int
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if _, err := r.WriteTo(out); err != nil {
			return err
		}
		if !r.OK() {
			damaged++
		}
	}
	if damaged > 0 {
		return errors.E(errors.Integrity, fmt.Sprintf("check: %d of %d devices damaged", damaged, len(reports)))
	}
	log.Printf("check: %d devices ok", len(reports))
	return nil
}

// matchDevices returns the ids of the devices in dir that match any of
// the provided glob patterns, or all of them if there are none.
func matchDevices(dir, segment string, patterns []string) ([]string, error) {
	ids, err := devicelog.Devices(dir, segment)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return ids, nil
	}
	globs := make([]glob.Glob, len(patterns))
	for i, pattern := range patterns {
		if globs[i], err = glob.Compile(pattern); err != nil {
			return nil, errors.E(errors.Invalid, "check: bad pattern", pattern, err)
		}
	}
	var matched []string
	for _, id := range ids {
		for _, g := range globs {
			if g.Match(id) {
				matched = append(matched, id)
				break
			}
		}
	}
	return matched, nil
}
