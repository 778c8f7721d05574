// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package checker

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/grailbio/devicelog/devicelog"
	"github.com/grailbio/devicelog/packet"
)

// Report summarizes a check of a device log.
type Report struct {
	// Location is the log that was checked.
	Location devicelog.Location
	// Repaired tells whether a rebuilt index was written.
	Repaired bool
	// DataPath and DataSize describe the scanned data file.
	DataPath string
	DataSize int64

	// SyncPatterns is the number of sync markers found by the scan.
	// Markers inside valid records are not counted.
	SyncPatterns int
	// Valid is the number of valid records.
	Valid int
	// Kinds counts the valid records by payload kind.
	Kinds map[packet.Kind]int

	// StreamCorrupted counts records that failed to decode.
	StreamCorrupted int
	// EndOfFile counts records cut short by the end of the file.
	EndOfFile int
	// ReadSizeMismatch counts runs of bytes following a valid record
	// that do not begin with a sync marker.
	ReadSizeMismatch int
	// MissingMetadata counts records whose metadata back-reference
	// names no preceding metadata record.
	MissingMetadata int
	// Unknown counts records of unrecognized kind and other failures.
	Unknown int

	// OldIndex is the journal of the log's index, if it exists.
	OldIndex *devicelog.Journal
	// OldIndexErr is the error encountered reading the log's index,
	// if any.
	OldIndexErr error
	// OrphanedEntries counts entries of the log's index that do not
	// locate a valid record.
	OrphanedEntries int
	// UnindexedRecords counts valid records that the log's index does
	// not reference.
	UnindexedRecords int

	// RebuiltPath and NewIndex describe the rebuilt index, if any.
	RebuiltPath string
	NewIndex    *devicelog.Journal
}

// Errors returns the total number of record errors.
func (r *Report) Errors() int {
	return r.StreamCorrupted + r.EndOfFile + r.ReadSizeMismatch + r.MissingMetadata + r.Unknown
}

// OK tells whether the check found no damage. Unindexed records and
// orphaned entries count as damage.
func (r *Report) OK() bool {
	return r.Errors() == 0 && r.OldIndexErr == nil && r.OrphanedEntries == 0 && r.UnindexedRecords == 0
}

// WriteTo writes a human-readable summary of the report to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "device %s segment %s\n", r.Location.DeviceID, r.Location.Segment)
	fmt.Fprintf(&b, "data %s (%d bytes)\n", r.DataPath, r.DataSize)
	fmt.Fprintf(&b, "repair %v\n", r.Repaired)

	tw := tabwriter.NewWriter(&b, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "sync patterns\t%d\n", r.SyncPatterns)
	fmt.Fprintf(tw, "valid records\t%d\n", r.Valid)
	for _, k := range packet.Kinds {
		fmt.Fprintf(tw, "  %s\t%d\n", k, r.Kinds[k])
	}
	fmt.Fprintf(tw, "errors\t%d\n", r.Errors())
	fmt.Fprintf(tw, "  stream corrupted\t%d\n", r.StreamCorrupted)
	fmt.Fprintf(tw, "  end of file\t%d\n", r.EndOfFile)
	fmt.Fprintf(tw, "  read size mismatch\t%d\n", r.ReadSizeMismatch)
	fmt.Fprintf(tw, "  missing metadata\t%d\n", r.MissingMetadata)
	fmt.Fprintf(tw, "  unknown\t%d\n", r.Unknown)
	tw.Flush()

	switch {
	case r.OldIndexErr != nil:
		fmt.Fprintf(&b, "index %s: %v\n", r.Location.IndexPath(""), r.OldIndexErr)
	case r.OldIndex == nil:
		fmt.Fprintf(&b, "index %s: missing\n", r.Location.IndexPath(""))
	default:
		fmt.Fprintf(&b, "index %s: %d orphaned entries, %d unindexed records\n",
			r.Location.IndexPath(""), r.OrphanedEntries, r.UnindexedRecords)
	}
	if r.OldIndex != nil || r.NewIndex != nil {
		tw = tabwriter.NewWriter(&b, 2, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "journal\told\tnew\t\n")
		row := func(name string, get func(*devicelog.Journal) int64) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", name, journalField(r.OldIndex, get), journalField(r.NewIndex, get))
		}
		row("entries", func(j *devicelog.Journal) int64 { return int64(j.NumEntries) })
		row("min key", func(j *devicelog.Journal) int64 { return j.MinKey })
		row("max key", func(j *devicelog.Journal) int64 { return j.MaxKey })
		row("last sequence", func(j *devicelog.Journal) int64 { return j.LastSequenceNumber })
		row("last metadata", func(j *devicelog.Journal) int64 { return j.LastMetadataRef })
		tw.Flush()
	}
	if r.RebuiltPath != "" {
		fmt.Fprintf(&b, "rebuilt index %s\n", r.RebuiltPath)
	}
	return b.WriteTo(w)
}

func journalField(j *devicelog.Journal, get func(*devicelog.Journal) int64) string {
	if j == nil {
		return "-"
	}
	return fmt.Sprint(get(j))
}
