// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cmd implements the subcommands of devlog.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/devicelog/config"
	"github.com/grailbio/devicelog/devicelog"
	"github.com/grailbio/devicelog/errors"
)

var commands = []struct {
	name     string
	callback func(ctx context.Context, cfg config.Config, out io.Writer, args []string) error
	help     string
}{
	{"check", Check, `Check scans the data files of device logs and reports their damage.
It is invoked as check [-repair] dir [pattern...]. Patterns select device
ids using the syntax of https://github.com/gobwas/glob; all devices of the
segment are checked if none are given. With -repair, a new index is written
for each device without modifying the original files.`},
	{"stat", Stat, `Stat prints the index journal of a device: stat dir device.`},
	{"dump", Dump, `Dump prints the records of a device in a key range:
dump [-from key] [-to key] [-max n] dir device.`},
	{"tail", Tail, `Tail prints the unread records of a device and advances its cursor:
tail dir device.`},
}

// PrintHelp describes the subcommands on standard error.
func PrintHelp() {
	fmt.Fprintln(os.Stderr, "Subcommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "%s: %s\n", c.name, c.help)
	}
}

// Run runs the subcommand named by args[0], writing its output to
// standard output.
func Run(ctx context.Context, cfg config.Config, args []string) error {
	return run(ctx, cfg, os.Stdout, args)
}

func run(ctx context.Context, cfg config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		PrintHelp()
		return errors.E(errors.Invalid, "no subcommand given")
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.callback(ctx, cfg, out, args[1:])
		}
	}
	PrintHelp()
	return errors.E(errors.Invalid, "unknown command", args[0])
}

// openDevice opens the existing log of the device in dir. Unlike
// devicelog.Open, it does not create missing logs or indexes; a log
// opened readOnly is not modified at all.
func openDevice(cfg config.Config, dir, deviceID string, readOnly bool) (*devicelog.DeviceLog, error) {
	loc := devicelog.Location{Dir: dir, DeviceID: deviceID, Segment: cfg.Segment}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(loc.DataPath()); err != nil {
		return nil, errors.E("open", loc.String(), err)
	}
	if _, err := os.Stat(loc.IndexPath("")); err != nil {
		return nil, errors.E("open", loc.String(), "index is missing; rebuild it with check -repair", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts.ReadOnly = readOnly
	return devicelog.Open(loc, opts)
}

// deviceArgs parses the dir and device arguments of stat, dump and
// tail.
func deviceArgs(name string, args []string) (dir, deviceID string, err error) {
	if len(args) != 2 {
		return "", "", errors.E(errors.Invalid, fmt.Sprintf("%s: expected dir and device, got %q", name, args))
	}
	return args[0], args[1], nil
}
