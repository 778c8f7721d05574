// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"fmt"
	"math"
	"sync"

	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/flock"
	"github.com/grailbio/devicelog/log"
	"github.com/grailbio/devicelog/packet"
)

// Ordering is the policy applied to the keys of appended records.
type Ordering int

const (
	// TrustCaller accepts records in any key order. Range queries
	// assume non-decreasing keys; it is the caller's responsibility
	// to append them so.
	TrustCaller Ordering = iota
	// RejectOutOfOrder refuses records whose key is less than the
	// largest key in the log.
	RejectOutOfOrder
)

func (o Ordering) String() string {
	switch o {
	case TrustCaller:
		return "trust"
	case RejectOutOfOrder:
		return "reject"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// ParseOrdering parses an ordering policy as produced by
// Ordering.String.
func ParseOrdering(s string) (Ordering, error) {
	switch s {
	case "trust", "":
		return TrustCaller, nil
	case "reject":
		return RejectOutOfOrder, nil
	}
	return TrustCaller, errors.E(errors.Invalid, fmt.Sprintf("devicelog: unknown ordering %q", s))
}

// Options configures a DeviceLog. The zero Options is valid.
type Options struct {
	// SeqMin and SeqMax bound the assigned sequence numbers; numbering
	// wraps from SeqMax to SeqMin. SeqMin must be positive, as
	// sequence number 0 denotes "no metadata record". If both are zero,
	// sequence numbers are [1, math.MaxInt64].
	SeqMin, SeqMax int64
	// MaxEntries bounds the number of records in the log. Zero means
	// math.MaxInt32.
	MaxEntries int32
	// Ordering is the key ordering policy.
	Ordering Ordering
	// Lock acquires the device's advisory lock for the lifetime of the
	// log, failing if another process holds it. It is ignored by
	// read-only logs.
	Lock bool
	// ReadOnly opens an existing log for queries only. Its files are
	// never created or modified; appends and cursor movements fail
	// with errors.Precondition.
	ReadOnly bool
}

func (o Options) withDefaults() (Options, error) {
	if o.SeqMin == 0 && o.SeqMax == 0 {
		o.SeqMin, o.SeqMax = 1, math.MaxInt64
	}
	if o.MaxEntries == 0 {
		o.MaxEntries = math.MaxInt32
	}
	switch {
	case o.SeqMin < 1:
		return o, errors.E(errors.Invalid, fmt.Sprintf("devicelog: sequence minimum %d is not positive", o.SeqMin))
	case o.SeqMin > o.SeqMax:
		return o, errors.E(errors.Invalid, fmt.Sprintf("devicelog: sequence minimum %d exceeds maximum %d", o.SeqMin, o.SeqMax))
	case o.MaxEntries < 0:
		return o, errors.E(errors.Invalid, fmt.Sprintf("devicelog: negative max entries %d", o.MaxEntries))
	case o.Ordering != TrustCaller && o.Ordering != RejectOutOfOrder:
		return o, errors.E(errors.Invalid, "devicelog: invalid ordering", o.Ordering.String())
	}
	return o, nil
}

// DeviceLog is the persistent log of a single device. It combines a
// LogIndex and a LogData, assigns sequence numbers and metadata
// back-references to appended records, and answers queries. A
// DeviceLog is open from the time it is returned by Open until it is
// closed; closed logs cannot be reopened, and their methods return
// errors of kind errors.Precondition.
type DeviceLog struct {
	loc  Location
	opts Options

	mu      sync.Mutex
	index   *LogIndex
	data    *LogData
	lock    flock.FileLock
	seq     *sequence
	metaRef int64
	buf     []byte
	closed  bool
}

// Open opens the device log at loc, creating it if it does not exist
// unless opts.ReadOnly is set. An existing log resumes its sequence
// numbering, metadata back-reference, and unread cursor from its index
// journal.
func Open(loc Location, opts Options) (*DeviceLog, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	l := &DeviceLog{loc: loc, opts: opts}
	if opts.Lock && !opts.ReadOnly {
		l.lock = flock.New(loc.LockPath())
		if err := l.lock.TryLock(); err != nil {
			return nil, errors.E("devicelog: open", loc.String(), err)
		}
	}
	if l.index, err = OpenIndex(loc, IndexOptions{MaxEntries: opts.MaxEntries, ReadOnly: opts.ReadOnly}); err != nil {
		l.unlock()
		return nil, err
	}
	if l.data, err = OpenData(loc, opts.ReadOnly); err != nil {
		l.index.Close()
		l.unlock()
		return nil, err
	}
	j := l.index.Journal()
	l.seq = newSequence(opts.SeqMin, opts.SeqMax, j.LastSequenceNumber)
	l.metaRef = j.LastMetadataRef
	if j.NumEntries > 0 {
		l.checkTail(j)
	}
	return l, nil
}

// checkTail compares the end of the last indexed record with the
// size of the data file. A mismatch is not repaired; it is logged so
// that operators may run the checker.
func (l *DeviceLog) checkTail(j Journal) {
	last, err := l.index.Entry(j.NumEntries)
	if err != nil {
		log.Error.Printf("devicelog: %s: read last entry: %v", l.loc, err)
		return
	}
	end, size := last.DataOffset+int64(last.DataSize), l.data.Length()
	switch {
	case end > size:
		log.Error.Printf("devicelog: %s: data file (%d bytes) is shorter than its index claims (%d bytes)", l.loc, size, end)
	case end < size:
		log.Printf("devicelog: %s: %d bytes of data are not indexed", l.loc, size-end)
	}
}

func (l *DeviceLog) unlock() {
	if l.lock == nil {
		return
	}
	if err := l.lock.Unlock(); err != nil {
		log.Error.Printf("devicelog: %s: unlock: %v", l.loc, err)
	}
}

// Location returns the location of the log.
func (l *DeviceLog) Location() Location {
	return l.loc
}

func (l *DeviceLog) check() error {
	if l.closed {
		return errors.E(errors.Precondition, "devicelog:", l.loc.String(), "is closed")
	}
	return nil
}

func (l *DeviceLog) checkWritable() error {
	if err := l.check(); err != nil {
		return err
	}
	if l.opts.ReadOnly {
		return errors.E(errors.Precondition, "devicelog:", l.loc.String(), "is read-only")
	}
	return nil
}

func (l *DeviceLog) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Append appends rec to the log. If assignSequence is true, the next
// sequence number and the current metadata back-reference are stamped
// onto rec; otherwise rec's own numbers are stored, and the sequence
// generator skips past them. Metadata records become the
// back-reference of subsequently appended records.
//
// Append refuses records when the log is full (errors.Capacity) and,
// under RejectOutOfOrder, records whose key precedes the largest key
// (errors.Invalid). Refused records leave the log unchanged.
func (l *DeviceLog) Append(rec *packet.Record, assignSequence bool) (IndexEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkWritable(); err != nil {
		return IndexEntry{}, err
	}
	if rec == nil || rec.Payload == nil {
		return IndexEntry{}, errors.E(errors.Invalid, "devicelog: append: record has no payload")
	}
	j := l.index.Journal()
	if l.opts.Ordering == RejectOutOfOrder && j.NumEntries > 0 && rec.Key < j.MaxKey {
		return IndexEntry{}, errors.E(errors.Invalid,
			fmt.Sprintf("devicelog: %s: key %d precedes max key %d", l.loc, rec.Key, j.MaxKey))
	}
	if l.index.full() {
		log.Error.Printf("devicelog: %s: log is full (%d entries); refusing record key:%d", l.loc, j.NumEntries, rec.Key)
		return IndexEntry{}, errors.E(errors.Capacity,
			fmt.Sprintf("devicelog: %s: log is full (%d entries)", l.loc, j.NumEntries))
	}
	if assignSequence {
		rec.SequenceNumber = l.seq.Next()
		rec.MetadataRef = l.metaRef
	} else {
		l.seq.Observe(rec.SequenceNumber)
	}
	var err error
	if l.buf, err = packet.AppendFrame(l.buf[:0], rec); err != nil {
		return IndexEntry{}, errors.E("devicelog: append", l.loc.String(), err)
	}
	off, size, err := l.data.AppendLogData(l.buf)
	if err != nil {
		return IndexEntry{}, err
	}
	e, err := l.index.AddIndexEntry(IndexEntry{
		DataOffset:     off,
		DataSize:       size,
		Key:            rec.Key,
		SequenceNumber: rec.SequenceNumber,
	})
	if err != nil {
		return IndexEntry{}, err
	}
	if rec.Kind() == packet.KindMetadata {
		l.metaRef = rec.SequenceNumber
		if err := l.index.UpdateMetadataRef(l.metaRef); err != nil {
			return e, err
		}
	}
	return e, nil
}

// GetPackets returns the records with keys in [start, end], in key
// order, up to maxCount of them. The returned boolean tells whether
// all matching records were returned. When no record matches, an
// error of kind errors.NotExist is returned.
func (l *DeviceLog) GetPackets(start, end int64, maxCount int) ([]*packet.Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return nil, false, err
	}
	if maxCount <= 0 {
		return nil, false, errors.E(errors.Invalid, fmt.Sprintf("devicelog: max count %d is not positive", maxCount))
	}
	if start > end {
		return nil, false, errors.E(errors.NotExist, fmt.Sprintf("devicelog: no data: empty key range [%d,%d]", start, end))
	}
	n, err := l.index.NEntries(start, end)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, errors.E(errors.NotExist, fmt.Sprintf("devicelog: %s: no data in key range [%d,%d]", l.loc, start, end))
	}
	count, complete := int(n), true
	if count > maxCount {
		count, complete = maxCount, false
	}
	entries, err := l.index.EntriesFromKey(start, count)
	if err != nil {
		return nil, false, err
	}
	recs := make([]*packet.Record, len(entries))
	for i, e := range entries {
		if recs[i], err = l.getPacket(e); err != nil {
			return nil, false, err
		}
	}
	return recs, complete, nil
}

// GetLastPacket returns the most recently appended record.
func (l *DeviceLog) GetLastPacket() (*packet.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return nil, err
	}
	n := l.index.Journal().NumEntries
	if n == 0 {
		return nil, errors.E(errors.NotExist, "devicelog:", l.loc.String(), "no data")
	}
	e, err := l.index.Entry(n)
	if err != nil {
		return nil, err
	}
	return l.getPacket(e)
}

// GetNextPacket returns the record following the unread cursor and
// advances the cursor. When all records have been read, an error of
// kind errors.NotExist is returned. The cursor advances only when the
// record is decoded, so an unreadable record is returned as an error
// on every call until the cursor is moved past it with ResetCursor.
func (l *DeviceLog) GetNextPacket() (*packet.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkWritable(); err != nil {
		return nil, err
	}
	j := l.index.Journal()
	if j.LastEntryAccessed >= j.NumEntries {
		return nil, errors.E(errors.NotExist, "devicelog:", l.loc.String(), "has no unread records")
	}
	e, err := l.index.Entry(j.LastEntryAccessed + 1)
	if err != nil {
		return nil, err
	}
	rec, err := l.getPacket(e)
	if err != nil {
		return nil, err
	}
	if err := l.index.ResetCursor(e.Ordinal); err != nil {
		return nil, err
	}
	return rec, nil
}

// NUnread returns the number of records past the unread cursor.
func (l *DeviceLog) NUnread() (int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return 0, err
	}
	return l.index.NUnreadEntries(), nil
}

// ResetCursor positions the unread cursor after the record with the
// provided ordinal; 0 rewinds to the beginning of the log.
func (l *DeviceLog) ResetCursor(ordinal int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return err
	}
	return l.index.ResetCursor(ordinal)
}

// GetPacket reads and decodes the record located by e.
func (l *DeviceLog) GetPacket(e IndexEntry) (*packet.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return nil, err
	}
	return l.getPacket(e)
}

func (l *DeviceLog) getPacket(e IndexEntry) (*packet.Record, error) {
	p, err := l.data.ReadLogData(e)
	if err != nil {
		return nil, err
	}
	if len(p) < packet.SyncMarkerSize {
		return nil, errors.E(errors.Truncated, fmt.Sprintf("devicelog: %s: record %v is shorter than its sync marker", l.loc, e))
	}
	if !packet.HasSyncMarker(p) {
		log.Error.Printf("devicelog: %s: missing sync marker for %v; decoding anyway", l.loc, e)
	}
	rec, n, err := packet.Unmarshal(p[packet.SyncMarkerSize:])
	if err != nil {
		return nil, errors.E("devicelog:", l.loc.String(), fmt.Sprintf("read %v", e), err)
	}
	if n != len(p)-packet.SyncMarkerSize {
		log.Error.Printf("devicelog: %s: %v holds %d trailing bytes", l.loc, e, len(p)-packet.SyncMarkerSize-n)
	}
	return rec, nil
}

// Journal returns a snapshot of the log's index journal.
func (l *DeviceLog) Journal() (Journal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return Journal{}, err
	}
	return l.index.Journal(), nil
}

// Close flushes and closes the log and releases its lock.
func (l *DeviceLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return err
	}
	l.closed = true
	err := l.data.Close()
	errors.CleanUp(l.index.Close, &err)
	if l.lock != nil {
		errors.CleanUp(l.lock.Unlock, &err)
	}
	return err
}
