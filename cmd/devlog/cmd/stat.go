// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/grailbio/devicelog/config"
	"github.com/grailbio/devicelog/errors"
)

// Stat prints the index journal of a device log.
func Stat(_ context.Context, cfg config.Config, out io.Writer, args []string) (err error) {
	dir, id, err := deviceArgs("stat", args)
	if err != nil {
		return err
	}
	l, err := openDevice(cfg, dir, id, true)
	if err != nil {
		return err
	}
	defer errors.CleanUp(l.Close, &err)
	j, err := l.Journal()
	if err != nil {
		return err
	}
	info, err := os.Stat(l.Location().DataPath())
	if err != nil {
		return errors.E("stat", err)
	}
	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "device\t%s\n", id)
	fmt.Fprintf(tw, "segment\t%s\n", cfg.Segment)
	fmt.Fprintf(tw, "entries\t%d\n", j.NumEntries)
	fmt.Fprintf(tw, "unread\t%d\n", j.NumEntries-j.LastEntryAccessed)
	fmt.Fprintf(tw, "min key\t%d\n", j.MinKey)
	fmt.Fprintf(tw, "max key\t%d\n", j.MaxKey)
	fmt.Fprintf(tw, "last sequence\t%d\n", j.LastSequenceNumber)
	fmt.Fprintf(tw, "last metadata\t%d\n", j.LastMetadataRef)
	fmt.Fprintf(tw, "data bytes\t%d\n", info.Size())
	return tw.Flush()
}
