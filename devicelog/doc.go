// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package devicelog implements a persistent, indexed log of the
// records produced by a single instrument. Each device log consists of
// a data file, holding the framed records in append order, and an
// index file, which catalogs the location, key, and sequence number
// of each record so that records may be retrieved by key range or
// read sequentially through a persisted cursor.
//
// Applications use a DeviceLog, typically obtained from a Registry
// that holds one log per device:
//
//	reg := devicelog.NewRegistry(dir, "2020", devicelog.Options{})
//	defer reg.CloseAll()
//	dl, err := reg.Open("ctd01")
//	entry, err := dl.Append(&packet.Record{Key: now, Payload: meta}, true)
//	records, complete, err := dl.GetPackets(start, end, 100)
//
// # Data layout
//
// The index file <deviceId>_<segment>.idx begins with a 40 byte
// journal summarizing the log, followed by one 32 byte entry per
// record. All integers are big-endian.
//
//	journal :=
//		numEntries int32          // number of entries in the index
//		lastEntryAccessed int32   // ordinal of the unread cursor
//		minKey int64              // smallest key
//		maxKey int64              // largest key
//		lastSequenceNumber int64  // sequence number of the last record
//		lastMetadataRef int64     // sequence number of the last metadata record
//
//	entry :=
//		ordinal int32             // 1-based position of the entry
//		dataSize int32            // size of the framed record
//		dataOffset int64          // offset of the framed record in the data file
//		key int64                 // the record's key
//		sequenceNumber int64      // the record's sequence number
//
// The entry with ordinal n is stored at offset 40+(n-1)*32. The data
// file <deviceId>_<segment>.dat is the concatenation of framed
// records, as encoded by package packet.
//
// # Durability
//
// Each append writes the framed record to the data file, then the
// index entry, and finally rewrites and syncs the journal. The journal
// is the point of truth: a crash before the journal is synced leaves
// a data file tail (and possibly an entry) that the index does not
// reference. Such tails are not recovered automatically; package
// checker scans the data file and rebuilds the index.
//
// # Concurrency
//
// All operations are synchronous. Each DeviceLog, LogIndex, and
// LogData serializes its operations through its own mutex; distinct
// devices share no state. Cross-process exclusion is provided by an
// optional advisory lock (Options.Lock).
package devicelog
