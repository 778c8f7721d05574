// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"encoding/binary"
	"fmt"

	"github.com/grailbio/devicelog/errors"
)

const (
	// JournalSize is the size of the journal at the head of an index
	// file.
	JournalSize = 40
	// EntrySize is the size of an index entry.
	EntrySize = 32
)

var order = binary.BigEndian

// Journal summarizes an index. It is stored at offset 0 of the index
// file and rewritten on every change.
type Journal struct {
	// NumEntries is the number of entries in the index.
	NumEntries int32
	// LastEntryAccessed is the ordinal of the last entry returned by
	// the unread cursor; 0 if none has been.
	LastEntryAccessed int32
	// MinKey and MaxKey bound the keys in the index. They are valid
	// only if NumEntries > 0.
	MinKey, MaxKey int64
	// LastSequenceNumber is the sequence number of the most recently
	// appended record.
	LastSequenceNumber int64
	// LastMetadataRef is the sequence number of the most recently
	// appended metadata record, or 0.
	LastMetadataRef int64
}

func (j Journal) String() string {
	return fmt.Sprintf("entries:%d cursor:%d keys:[%d,%d] lastseq:%d lastmeta:%d",
		j.NumEntries, j.LastEntryAccessed, j.MinKey, j.MaxKey, j.LastSequenceNumber, j.LastMetadataRef)
}

func (j *Journal) encode(p []byte) {
	order.PutUint32(p[0:], uint32(j.NumEntries))
	order.PutUint32(p[4:], uint32(j.LastEntryAccessed))
	order.PutUint64(p[8:], uint64(j.MinKey))
	order.PutUint64(p[16:], uint64(j.MaxKey))
	order.PutUint64(p[24:], uint64(j.LastSequenceNumber))
	order.PutUint64(p[32:], uint64(j.LastMetadataRef))
}

func (j *Journal) decode(p []byte) {
	j.NumEntries = int32(order.Uint32(p[0:]))
	j.LastEntryAccessed = int32(order.Uint32(p[4:]))
	j.MinKey = int64(order.Uint64(p[8:]))
	j.MaxKey = int64(order.Uint64(p[16:]))
	j.LastSequenceNumber = int64(order.Uint64(p[24:]))
	j.LastMetadataRef = int64(order.Uint64(p[32:]))
}

func (j Journal) validate() error {
	switch {
	case j.NumEntries < 0:
		return errors.E(errors.Integrity, fmt.Sprintf("negative entry count %d", j.NumEntries))
	case j.LastEntryAccessed < 0 || j.LastEntryAccessed > j.NumEntries:
		return errors.E(errors.Integrity, fmt.Sprintf("cursor %d outside [0,%d]", j.LastEntryAccessed, j.NumEntries))
	case j.NumEntries > 0 && j.MinKey > j.MaxKey:
		return errors.E(errors.Integrity, fmt.Sprintf("min key %d exceeds max key %d", j.MinKey, j.MaxKey))
	}
	return nil
}

// add returns the journal that results from appending e.
func (j Journal) add(e IndexEntry) Journal {
	if j.NumEntries == 0 {
		j.MinKey, j.MaxKey = e.Key, e.Key
	} else if e.Key < j.MinKey {
		j.MinKey = e.Key
	} else if e.Key > j.MaxKey {
		j.MaxKey = e.Key
	}
	j.NumEntries = e.Ordinal
	j.LastSequenceNumber = e.SequenceNumber
	return j
}

// IndexEntry locates a single framed record in the data file.
type IndexEntry struct {
	// Ordinal is the 1-based position of the entry in the index.
	Ordinal int32
	// DataSize is the size of the framed record, sync marker included.
	DataSize int32
	// DataOffset is the offset of the framed record in the data file.
	DataOffset int64
	// Key is the record's key.
	Key int64
	// SequenceNumber is the record's sequence number.
	SequenceNumber int64
}

func (e IndexEntry) String() string {
	return fmt.Sprintf("#%d seq:%d key:%d data:%d+%d", e.Ordinal, e.SequenceNumber, e.Key, e.DataOffset, e.DataSize)
}

func (e *IndexEntry) encode(p []byte) {
	order.PutUint32(p[0:], uint32(e.Ordinal))
	order.PutUint32(p[4:], uint32(e.DataSize))
	order.PutUint64(p[8:], uint64(e.DataOffset))
	order.PutUint64(p[16:], uint64(e.Key))
	order.PutUint64(p[24:], uint64(e.SequenceNumber))
}

func (e *IndexEntry) decode(p []byte) {
	e.Ordinal = int32(order.Uint32(p[0:]))
	e.DataSize = int32(order.Uint32(p[4:]))
	e.DataOffset = int64(order.Uint64(p[8:]))
	e.Key = int64(order.Uint64(p[16:]))
	e.SequenceNumber = int64(order.Uint64(p[24:]))
}

// entryOffset returns the offset of the entry with the given ordinal.
func entryOffset(ordinal int32) int64 {
	return JournalSize + int64(ordinal-1)*EntrySize
}
