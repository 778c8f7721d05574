// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/log"
)

// FindMode selects the ordinal returned by LogIndex.FindKeyIndex.
type FindMode int

const (
	// FindLower finds the rightmost ordinal whose key is at most the
	// target.
	FindLower FindMode = iota
	// FindUpper finds the leftmost ordinal whose key is at least the
	// target.
	FindUpper
)

func (m FindMode) String() string {
	switch m {
	case FindLower:
		return "lower"
	case FindUpper:
		return "upper"
	}
	return fmt.Sprintf("FindMode(%d)", int(m))
}

// IndexOptions configures OpenIndex.
type IndexOptions struct {
	// Suffix is inserted into the index file name before its
	// extension, e.g., ".rebuilt".
	Suffix string
	// ReadOnly opens an existing index without modifying it.
	ReadOnly bool
	// MaxEntries bounds the number of entries. Zero means
	// math.MaxInt32.
	MaxEntries int32
}

// LogIndex manages the index file of a device log: it appends entries,
// maintains the journal, answers key range queries by binary search,
// and keeps the persistent unread cursor.
type LogIndex struct {
	path       string
	readOnly   bool
	maxEntries int32

	mu      sync.Mutex
	file    *os.File
	journal Journal
	buf     [JournalSize]byte
	closed  bool
}

// OpenIndex opens the index of the log at loc. An existing index is
// restored from its journal; otherwise a new index is created with an
// empty journal, unless opts.ReadOnly is set, in which case an error
// of kind errors.NotExist is returned.
func OpenIndex(loc Location, opts IndexOptions) (*LogIndex, error) {
	x := &LogIndex{
		path:       loc.IndexPath(opts.Suffix),
		readOnly:   opts.ReadOnly,
		maxEntries: opts.MaxEntries,
	}
	if x.maxEntries <= 0 {
		x.maxEntries = math.MaxInt32
	}
	var err error
	if x.readOnly {
		x.file, err = os.Open(x.path)
	} else {
		x.file, err = os.OpenFile(x.path, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		if x.readOnly && os.IsNotExist(err) {
			return nil, errors.E(errors.NotExist, "devicelog: open index", x.path, err)
		}
		return nil, errors.E(errors.IO, "devicelog: open index", x.path, err)
	}
	if err := x.restore(); err != nil {
		x.file.Close()
		return nil, errors.E("devicelog: restore index", x.path, err)
	}
	return x, nil
}

func (x *LogIndex) restore() error {
	info, err := x.file.Stat()
	if err != nil {
		return errors.E(errors.IO, err)
	}
	size := info.Size()
	switch {
	case size == 0 && x.readOnly:
		return nil
	case size == 0:
		return x.writeJournal(x.journal)
	case size < JournalSize:
		return errors.E(errors.Integrity, fmt.Sprintf("index file holds %d bytes, shorter than its journal", size))
	}
	if _, err := x.file.ReadAt(x.buf[:], 0); err != nil {
		return errors.E(errors.IO, "read journal", err)
	}
	x.journal.decode(x.buf[:])
	if err := x.journal.validate(); err != nil {
		return err
	}
	if want := entryOffset(x.journal.NumEntries + 1); size < want {
		return errors.E(errors.Integrity, fmt.Sprintf("index file holds %d bytes, journal claims %d entries (%d bytes)", size, x.journal.NumEntries, want))
	}
	log.Debug.Printf("devicelog: restored %s: %v", x.path, x.journal)
	return nil
}

// Path returns the path of the index file.
func (x *LogIndex) Path() string {
	return x.path
}

// writeJournal persists j. It is the durability point of every
// index mutation.
func (x *LogIndex) writeJournal(j Journal) error {
	j.encode(x.buf[:])
	if _, err := x.file.WriteAt(x.buf[:], 0); err != nil {
		return errors.E(errors.IO, "write journal", err)
	}
	if err := x.file.Sync(); err != nil {
		return errors.E(errors.IO, "sync journal", err)
	}
	return nil
}

func (x *LogIndex) check(mutate bool) error {
	if x.closed {
		return errors.E(errors.Precondition, "devicelog: index", x.path, "is closed")
	}
	if mutate && x.readOnly {
		return errors.E(errors.Precondition, "devicelog: index", x.path, "is read-only")
	}
	return nil
}

// full tells whether the index can accept another entry.
func (x *LogIndex) full() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.journal.NumEntries >= x.maxEntries
}

// AddIndexEntry appends an entry for the record located by e, which
// must have its DataOffset, DataSize, Key, and SequenceNumber set. The
// entry's ordinal is assigned by the index; the completed entry is
// returned. When the index has reached its maximum size, the entry is
// refused with an error of kind errors.Capacity.
func (x *LogIndex) AddIndexEntry(e IndexEntry) (IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(true); err != nil {
		return IndexEntry{}, err
	}
	if x.journal.NumEntries >= x.maxEntries {
		log.Error.Printf("devicelog: %s: index is full (%d entries); refusing record seq:%d key:%d",
			x.path, x.journal.NumEntries, e.SequenceNumber, e.Key)
		return IndexEntry{}, errors.E(errors.Capacity, fmt.Sprintf("devicelog: index %s is full (%d entries)", x.path, x.journal.NumEntries))
	}
	e.Ordinal = x.journal.NumEntries + 1
	var b [EntrySize]byte
	e.encode(b[:])
	if _, err := x.file.WriteAt(b[:], entryOffset(e.Ordinal)); err != nil {
		return IndexEntry{}, errors.E(errors.IO, "devicelog: write index entry", x.path, err)
	}
	j := x.journal.add(e)
	if err := x.writeJournal(j); err != nil {
		return IndexEntry{}, errors.E("devicelog:", x.path, err)
	}
	x.journal = j
	return e, nil
}

// Entry returns the entry with the provided ordinal. Ordinals outside
// [1, NumEntries] are errors of kind errors.NotExist.
func (x *LogIndex) Entry(ordinal int32) (IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return IndexEntry{}, err
	}
	return x.entry(ordinal)
}

func (x *LogIndex) entry(ordinal int32) (IndexEntry, error) {
	if ordinal < 1 || ordinal > x.journal.NumEntries {
		return IndexEntry{}, errors.E(errors.NotExist, fmt.Sprintf("devicelog: ordinal %d outside [1,%d]", ordinal, x.journal.NumEntries))
	}
	var (
		b [EntrySize]byte
		e IndexEntry
	)
	if _, err := x.file.ReadAt(b[:], entryOffset(ordinal)); err != nil {
		return IndexEntry{}, errors.E(errors.IO, "devicelog: read index entry", x.path, err)
	}
	e.decode(b[:])
	if e.Ordinal != ordinal {
		return IndexEntry{}, errors.E(errors.Integrity, fmt.Sprintf("devicelog: %s: entry at ordinal %d claims ordinal %d", x.path, ordinal, e.Ordinal))
	}
	return e, nil
}

// Entries returns up to count consecutive entries starting at the
// provided ordinal. The start ordinal must exist.
func (x *LogIndex) Entries(ordinal int32, count int) ([]IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return nil, err
	}
	return x.entries(ordinal, count)
}

func (x *LogIndex) entries(ordinal int32, count int) ([]IndexEntry, error) {
	if ordinal < 1 || ordinal > x.journal.NumEntries {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("devicelog: ordinal %d outside [1,%d]", ordinal, x.journal.NumEntries))
	}
	if count <= 0 {
		return nil, nil
	}
	if n := int(x.journal.NumEntries-ordinal) + 1; count > n {
		count = n
	}
	b := make([]byte, count*EntrySize)
	if _, err := x.file.ReadAt(b, entryOffset(ordinal)); err != nil {
		return nil, errors.E(errors.IO, "devicelog: read index entries", x.path, err)
	}
	entries := make([]IndexEntry, count)
	for i := range entries {
		entries[i].decode(b[i*EntrySize:])
		if want := ordinal + int32(i); entries[i].Ordinal != want {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("devicelog: %s: entry at ordinal %d claims ordinal %d", x.path, want, entries[i].Ordinal))
		}
	}
	return entries, nil
}

// FindKeyIndex finds the ordinal of the entry with the provided key
// by binary search, assuming that keys are non-decreasing in ordinal
// order. With FindLower, it returns the rightmost ordinal whose key is
// at most key; with FindUpper, the leftmost ordinal whose key is at
// least key. A key beyond the stored bounds resolves to the last
// (FindLower) or first (FindUpper) ordinal; a key outside the bounds
// in the other direction is an error of kind errors.OutOfRange. An
// empty index yields errors.NotExist.
func (x *LogIndex) FindKeyIndex(key int64, mode FindMode) (int32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return 0, err
	}
	return x.findKeyIndex(key, mode)
}

func (x *LogIndex) findKeyIndex(key int64, mode FindMode) (int32, error) {
	j := x.journal
	if j.NumEntries == 0 {
		return 0, errors.E(errors.NotExist, "devicelog: index is empty")
	}
	switch mode {
	case FindLower:
		if key >= j.MaxKey {
			return j.NumEntries, nil
		}
		if key < j.MinKey {
			return 0, errors.E(errors.OutOfRange, fmt.Sprintf("devicelog: key %d precedes min key %d", key, j.MinKey))
		}
	case FindUpper:
		if key <= j.MinKey {
			return 1, nil
		}
		if key > j.MaxKey {
			return 0, errors.E(errors.OutOfRange, fmt.Sprintf("devicelog: key %d exceeds max key %d", key, j.MaxKey))
		}
	default:
		return 0, errors.E(errors.Invalid, "devicelog: invalid find mode", mode.String())
	}
	lo, hi := int32(1), j.NumEntries
	for lo <= hi {
		mid := lo + (hi-lo)/2
		e, err := x.entry(mid)
		if err != nil {
			return 0, err
		}
		switch {
		case e.Key < key:
			lo = mid + 1
		case e.Key > key:
			hi = mid - 1
		default:
			first, last, err := x.duplicateRange(mid, e.Key)
			if err != nil {
				return 0, err
			}
			if mode == FindLower {
				return last, nil
			}
			return first, nil
		}
	}
	// No entry has the key: hi is the last ordinal below it and lo the
	// first above it.
	if mode == FindLower {
		if hi < 1 {
			return 0, errors.E(errors.OutOfRange, fmt.Sprintf("devicelog: no key at most %d", key))
		}
		return hi, nil
	}
	if lo > j.NumEntries {
		return 0, errors.E(errors.OutOfRange, fmt.Sprintf("devicelog: no key at least %d", key))
	}
	return lo, nil
}

// DuplicateRange returns the inclusive range of ordinals around the
// provided ordinal whose entries share its key.
func (x *LogIndex) DuplicateRange(ordinal int32) (first, last int32, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return 0, 0, err
	}
	e, err := x.entry(ordinal)
	if err != nil {
		return 0, 0, err
	}
	return x.duplicateRange(ordinal, e.Key)
}

func (x *LogIndex) duplicateRange(ordinal int32, key int64) (first, last int32, err error) {
	first, last = ordinal, ordinal
	for first > 1 {
		e, err := x.entry(first - 1)
		if err != nil {
			return 0, 0, err
		}
		if e.Key != key {
			break
		}
		first--
	}
	for last < x.journal.NumEntries {
		e, err := x.entry(last + 1)
		if err != nil {
			return 0, 0, err
		}
		if e.Key != key {
			break
		}
		last++
	}
	return first, last, nil
}

// NEntries returns the number of entries with keys in [start, end].
// Ranges without matches yield 0.
func (x *LogIndex) NEntries(start, end int64) (int32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return 0, err
	}
	return x.nEntries(start, end)
}

func (x *LogIndex) nEntries(start, end int64) (int32, error) {
	if start > end {
		return 0, nil
	}
	first, err := x.findKeyIndex(start, FindUpper)
	if errors.Is(errors.NotExist, err) || errors.Is(errors.OutOfRange, err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	last, err := x.findKeyIndex(end, FindLower)
	if errors.Is(errors.NotExist, err) || errors.Is(errors.OutOfRange, err) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	if last < first {
		return 0, nil
	}
	return last - first + 1, nil
}

// EntriesFromKey returns up to count consecutive entries beginning
// with the leftmost entry whose key is at least start. If there is no
// such entry, an error of kind errors.NotExist is returned.
func (x *LogIndex) EntriesFromKey(start int64, count int) ([]IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return nil, err
	}
	first, err := x.findKeyIndex(start, FindUpper)
	if err != nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("devicelog: no entry with key at least %d", start), err)
	}
	return x.entries(first, count)
}

// NextIndexEntry returns the entry following the unread cursor and
// advances the cursor past it. The cursor is persisted. When there are
// no unread entries, an error of kind errors.NotExist is returned.
func (x *LogIndex) NextIndexEntry() (IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(true); err != nil {
		return IndexEntry{}, err
	}
	if x.journal.LastEntryAccessed >= x.journal.NumEntries {
		return IndexEntry{}, errors.E(errors.NotExist, "devicelog: no unread entries")
	}
	e, err := x.entry(x.journal.LastEntryAccessed + 1)
	if err != nil {
		return IndexEntry{}, err
	}
	j := x.journal
	j.LastEntryAccessed = e.Ordinal
	if err := x.writeJournal(j); err != nil {
		return IndexEntry{}, errors.E("devicelog:", x.path, err)
	}
	x.journal = j
	return e, nil
}

// NUnreadEntries returns the number of entries past the unread
// cursor.
func (x *LogIndex) NUnreadEntries() int32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.journal.NumEntries - x.journal.LastEntryAccessed
}

// ResetCursor positions the unread cursor so that the next entry
// returned by NextIndexEntry is ordinal+1. The position is persisted.
func (x *LogIndex) ResetCursor(ordinal int32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(true); err != nil {
		return err
	}
	if ordinal < 0 || ordinal > x.journal.NumEntries {
		return errors.E(errors.Invalid, fmt.Sprintf("devicelog: cursor %d outside [0,%d]", ordinal, x.journal.NumEntries))
	}
	j := x.journal
	j.LastEntryAccessed = ordinal
	if err := x.writeJournal(j); err != nil {
		return errors.E("devicelog:", x.path, err)
	}
	x.journal = j
	return nil
}

// UpdateMetadataRef records seq as the sequence number of the most
// recent metadata record. It is persisted immediately.
func (x *LogIndex) UpdateMetadataRef(seq int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(true); err != nil {
		return err
	}
	j := x.journal
	j.LastMetadataRef = seq
	if err := x.writeJournal(j); err != nil {
		return errors.E("devicelog:", x.path, err)
	}
	x.journal = j
	return nil
}

// Journal returns a snapshot of the index's journal.
func (x *LogIndex) Journal() Journal {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.journal
}

// Sync syncs the index file.
func (x *LogIndex) Sync() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return err
	}
	if x.readOnly {
		return nil
	}
	if err := x.file.Sync(); err != nil {
		return errors.E(errors.IO, "devicelog: sync", x.path, err)
	}
	return nil
}

// Close closes the index. The index may not be used after it is
// closed.
func (x *LogIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(false); err != nil {
		return err
	}
	x.closed = true
	if !x.readOnly {
		if err := x.file.Sync(); err != nil {
			x.file.Close()
			return errors.E(errors.IO, "devicelog: sync", x.path, err)
		}
	}
	if err := x.file.Close(); err != nil {
		return errors.E(errors.IO, "devicelog: close", x.path, err)
	}
	return nil
}

var _ io.Closer = (*LogIndex)(nil)
