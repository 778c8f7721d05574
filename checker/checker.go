// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package checker verifies the data file of a device log and rebuilds
// its index. The checker scans the data file from the beginning,
// resynchronizing on the sync marker that frames each record, and
// counts the valid records by kind and the damage it encounters. It
// never modifies a log's files: in repair mode, it writes a new index
// next to (or in a different directory from) the original.
//
// The checker is an offline, operator-facing tool. Damaged records are
// counted, not returned as errors; Check fails only when the data file
// cannot be read at all, when the rebuilt index cannot be written, or
// when it is canceled.
package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/grailbio/devicelog/devicelog"
	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/flock"
	"github.com/grailbio/devicelog/log"
	"github.com/grailbio/devicelog/packet"
	"github.com/willf/bitset"
)

// DefaultSuffix is the default suffix of rebuilt indexes.
const DefaultSuffix = ".rebuilt"

const (
	windowSize = 64 << 10
	// entryBatch is the number of old index entries read at once.
	entryBatch = 4096
)

// Options configures Check.
type Options struct {
	// Location is the device log to check.
	Location devicelog.Location
	// Repair writes a rebuilt index.
	Repair bool
	// OutDir is the directory of the rebuilt index. If empty, the
	// log's directory is used.
	OutDir string
	// Suffix is inserted into the name of the rebuilt index. If both
	// Suffix and OutDir are empty, DefaultSuffix is used.
	Suffix string
	// Lock acquires the device's advisory lock before scanning, so
	// that the log is not checked while it is being written.
	Lock bool
	// LockTimeout bounds the wait for the lock. Zero waits until the
	// context is done.
	LockTimeout time.Duration
}

// rebuilt returns the location and suffix of the rebuilt index.
func (o Options) rebuilt() (devicelog.Location, string) {
	loc := o.Location
	if o.OutDir != "" {
		loc.Dir = o.OutDir
	}
	suffix := o.Suffix
	if suffix == "" && o.OutDir == "" {
		suffix = DefaultSuffix
	}
	return loc, suffix
}

// Check scans the data file of the log at opts.Location and returns a
// report of its contents. If opts.Repair is set, a new index of the
// valid records is written.
func Check(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.Location.Validate(); err != nil {
		return nil, err
	}
	rebuiltLoc, suffix := opts.rebuilt()
	if opts.Repair && rebuiltLoc.IndexPath(suffix) == opts.Location.IndexPath("") {
		return nil, errors.E(errors.Invalid, "checker: rebuilt index would overwrite", opts.Location.IndexPath(""))
	}
	if opts.Lock {
		lock := flock.New(opts.Location.LockPath())
		lockCtx := ctx
		if opts.LockTimeout > 0 {
			var cancel context.CancelFunc
			lockCtx, cancel = context.WithTimeout(ctx, opts.LockTimeout)
			defer cancel()
		}
		if err := lock.Lock(lockCtx); err != nil {
			return nil, errors.E("checker:", opts.Location.String(), err)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Error.Printf("checker: %s: unlock: %v", opts.Location, err)
			}
		}()
	}
	data, err := devicelog.OpenData(opts.Location, true)
	if err != nil {
		return nil, errors.E("checker", err)
	}
	defer data.Close()

	c := &checker{
		report: &Report{
			Location: opts.Location,
			Repaired: opts.Repair,
			DataPath: data.Path(),
			DataSize: data.Length(),
			Kinds:    make(map[packet.Kind]int),
		},
		data:     data,
		metaSeen: make(map[int64]bool),
		offsets:  make(map[int64]int),
	}
	if opts.Repair {
		path := rebuiltLoc.IndexPath(suffix)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.E(errors.IO, "checker: remove stale index", path, err)
		}
		if c.rebuilt, err = devicelog.OpenIndex(rebuiltLoc, devicelog.IndexOptions{Suffix: suffix}); err != nil {
			return nil, errors.E("checker", err)
		}
		c.report.RebuiltPath = path
	}
	err = c.scan(ctx)
	if c.rebuilt != nil {
		j := c.rebuilt.Journal()
		c.report.NewIndex = &j
		errors.CleanUp(c.rebuilt.Close, &err)
	}
	if err != nil {
		return nil, err
	}
	c.crossCheck()
	return c.report, nil
}

type checker struct {
	report  *Report
	data    *devicelog.LogData
	rebuilt *devicelog.LogIndex

	// window buffers the data file for marker searches; base is the
	// file offset of window[0].
	window []byte
	base   int64

	metaSeen map[int64]bool
	// offsets maps the offset of each valid record to its position in
	// scan order.
	offsets map[int64]int
	sizes   []int32
}

// findNextSync returns the offset of the first sync marker at or after
// off, or -1 if there is none.
func (c *checker) findNextSync(off int64) (int64, error) {
	for {
		if off >= c.base && off+packet.SyncMarkerSize <= c.base+int64(len(c.window)) {
			if i := bytes.Index(c.window[off-c.base:], packet.SyncMarker[:]); i >= 0 {
				return off + int64(i), nil
			}
			// A marker may straddle the end of the window.
			off = c.base + int64(len(c.window)) - (packet.SyncMarkerSize - 1)
		}
		if c.window == nil {
			c.window = make([]byte, windowSize)
		}
		if err := c.data.Seek(off); err != nil {
			return -1, err
		}
		n, err := c.data.ReadBytes(c.window[:cap(c.window)])
		if err != nil {
			return -1, err
		}
		c.window, c.base = c.window[:n], off
		if n < packet.SyncMarkerSize {
			return -1, nil
		}
	}
}

// decode decodes the record framed by the marker at off, returning the
// record and the size of its frame.
func (c *checker) decode(off int64) (*packet.Record, int64, error) {
	var hdr [packet.HeaderSize]byte
	start := off + packet.SyncMarkerSize
	n, err := c.data.ReadAt(hdr[:], start)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	size, err := packet.PayloadSize(hdr[:n])
	if err != nil {
		return nil, 0, err
	}
	if start+int64(size) > c.report.DataSize {
		return nil, 0, errors.E(errors.Truncated, fmt.Sprintf("record at %d needs %d bytes, %d remain", off, size, c.report.DataSize-start))
	}
	p := make([]byte, size)
	if _, err := c.data.ReadAt(p, start); err != nil {
		return nil, 0, err
	}
	rec, _, err := packet.Unmarshal(p)
	if err != nil {
		return nil, 0, err
	}
	return rec, packet.SyncMarkerSize + int64(size), nil
}

func (c *checker) scan(ctx context.Context) error {
	r := c.report
	// validEnd is the end of the last record if it was valid, or -1.
	var off, validEnd int64
	for {
		if err := ctx.Err(); err != nil {
			return errors.E("checker: scan", r.Location.String(), err)
		}
		m, err := c.findNextSync(off)
		if err != nil {
			return err
		}
		if validEnd >= 0 && ((m < 0 && validEnd < r.DataSize) || m > validEnd) {
			log.Debug.Printf("checker: %s: %d stray bytes after record ending at %d", r.Location, gap(m, validEnd, r.DataSize), validEnd)
			r.ReadSizeMismatch++
		}
		if m < 0 {
			return nil
		}
		r.SyncPatterns++
		rec, size, err := c.decode(m)
		if err != nil {
			switch errors.KindOf(err) {
			case errors.Integrity:
				r.StreamCorrupted++
			case errors.Truncated:
				// A record overrunning the file is cut short by the end
				// of the file only if no record follows it.
				next, err := c.findNextSync(m + 1)
				if err != nil {
					return err
				}
				if next < 0 {
					r.EndOfFile++
				} else {
					r.StreamCorrupted++
				}
			case errors.UnknownType:
				r.Unknown++
			case errors.IO, errors.Precondition:
				return errors.E("checker: scan", r.Location.String(), err)
			default:
				r.Unknown++
			}
			log.Debug.Printf("checker: %s: bad record at %d: %v", r.Location, m, err)
			off, validEnd = m+1, -1
			continue
		}
		if err := c.add(m, size, rec); err != nil {
			return err
		}
		off, validEnd = m+size, m+size
	}
}

func gap(m, end, size int64) int64 {
	if m < 0 {
		return size - end
	}
	return m - end
}

// add accounts for the valid record rec, framed at off.
func (c *checker) add(off, size int64, rec *packet.Record) error {
	r := c.report
	r.Valid++
	r.Kinds[rec.Kind()]++
	if rec.MetadataRef != 0 && !c.metaSeen[rec.MetadataRef] {
		r.MissingMetadata++
	}
	if rec.Kind() == packet.KindMetadata {
		c.metaSeen[rec.SequenceNumber] = true
	}
	c.offsets[off] = len(c.sizes)
	c.sizes = append(c.sizes, int32(size))
	if c.rebuilt == nil {
		return nil
	}
	if _, err := c.rebuilt.AddIndexEntry(devicelog.IndexEntry{
		DataOffset:     off,
		DataSize:       int32(size),
		Key:            rec.Key,
		SequenceNumber: rec.SequenceNumber,
	}); err != nil {
		return errors.E("checker: rebuild index", err)
	}
	if rec.Kind() == packet.KindMetadata {
		if err := c.rebuilt.UpdateMetadataRef(rec.SequenceNumber); err != nil {
			return errors.E("checker: rebuild index", err)
		}
	}
	return nil
}

// crossCheck compares the log's original index, if any, with the
// records found by the scan.
func (c *checker) crossCheck() {
	r := c.report
	old, err := devicelog.OpenIndex(r.Location, devicelog.IndexOptions{ReadOnly: true})
	if errors.Is(errors.NotExist, err) {
		return
	} else if err != nil {
		r.OldIndexErr = err
		return
	}
	defer old.Close()
	j := old.Journal()
	r.OldIndex = &j

	var (
		indexed = bitset.New(uint(j.NumEntries) + 1)
		found   = bitset.New(uint(len(c.sizes)))
	)
	for ordinal := int32(1); ordinal <= j.NumEntries; ordinal += entryBatch {
		entries, err := old.Entries(ordinal, entryBatch)
		if err != nil {
			r.OldIndexErr = err
			return
		}
		for _, e := range entries {
			i, ok := c.offsets[e.DataOffset]
			if !ok || c.sizes[i] != e.DataSize {
				continue
			}
			indexed.Set(uint(e.Ordinal))
			found.Set(uint(i))
		}
	}
	r.OrphanedEntries = int(j.NumEntries) - int(indexed.Count())
	r.UnindexedRecords = len(c.sizes) - int(found.Count())
}
