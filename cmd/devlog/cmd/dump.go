// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"

	"github.com/grailbio/devicelog/config"
	"github.com/grailbio/devicelog/errors"
)

// Dump prints the records of a device log whose keys lie in a range.
func Dump(_ context.Context, cfg config.Config, out io.Writer, args []string) (err error) {
	var (
		flags    = flag.NewFlagSet("dump", flag.ContinueOnError)
		fromFlag = flags.Int64("from", math.MinInt64, "smallest key")
		toFlag   = flags.Int64("to", math.MaxInt64, "largest key")
		maxFlag  = flags.Int("max", 1000, "maximum number of records")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	dir, id, err := deviceArgs("dump", flags.Args())
	if err != nil {
		return err
	}
	l, err := openDevice(cfg, dir, id, true)
	if err != nil {
		return err
	}
	defer errors.CleanUp(l.Close, &err)
	recs, complete, err := l.GetPackets(*fromFlag, *toFlag, *maxFlag)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Fprintln(out, rec)
	}
	if !complete {
		fmt.Fprintf(out, "(more than %d records)\n", len(recs))
	}
	return nil
}

// Tail prints the records of a device log that have not yet been read
// and advances the log's cursor past them.
func Tail(_ context.Context, cfg config.Config, out io.Writer, args []string) (err error) {
	dir, id, err := deviceArgs("tail", args)
	if err != nil {
		return err
	}
	l, err := openDevice(cfg, dir, id, false)
	if err != nil {
		return err
	}
	defer errors.CleanUp(l.Close, &err)
	for {
		rec, err := l.GetNextPacket()
		if errors.Is(errors.NotExist, err) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rec)
	}
}
