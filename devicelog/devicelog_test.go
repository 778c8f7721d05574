// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/go-test/deep"
	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/packet"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func sensor(key int64, data string) *packet.Record {
	return &packet.Record{Key: key, Payload: &packet.SensorData{Format: "raw", Data: []byte(data)}}
}

func metadata(key int64, serial string) *packet.Record {
	return &packet.Record{Key: key, Payload: &packet.Metadata{
		Attributes: []packet.Attribute{{Name: "serial", Value: serial}},
	}}
}

func openLog(t *testing.T, loc Location, opts Options) *DeviceLog {
	t.Helper()
	l, err := Open(loc, opts)
	require.NoError(t, err)
	return l
}

func appendAll(t *testing.T, l *DeviceLog, recs ...*packet.Record) []IndexEntry {
	t.Helper()
	entries := make([]IndexEntry, len(recs))
	for i, rec := range recs {
		var err error
		entries[i], err = l.Append(rec, true)
		require.NoError(t, err)
	}
	return entries
}

func sequenceNumbers(recs []*packet.Record) []int64 {
	seqs := make([]int64, len(recs))
	for i, r := range recs {
		seqs[i] = r.SequenceNumber
	}
	return seqs
}

func TestScenario(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()
	appendAll(t, l, sensor(100, "a"), sensor(100, "b"), sensor(200, "c"))

	recs, complete, err := l.GetPackets(100, 100, 10)
	assert.NoError(t, err)
	expect.True(t, complete)
	expect.EQ(t, sequenceNumbers(recs), []int64{1, 2})

	recs, complete, err = l.GetPackets(150, 200, 10)
	assert.NoError(t, err)
	expect.True(t, complete)
	expect.EQ(t, sequenceNumbers(recs), []int64{3})

	_, _, err = l.GetPackets(0, 50, 10)
	expect.True(t, errors.Is(errors.NotExist, err))
	expect.HasSubstr(t, err.Error(), "no data")
}

func TestRoundTrip(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()

	recs := []*packet.Record{
		metadata(1, "3711"),
		sensor(2, "\x0b\x0b\x0b\x0bpayload containing a marker"),
		{Key: 3, Payload: &packet.Summary{Count: 3, Min: 1, Max: 3, Mean: 2}},
		{Key: 4, Payload: &packet.Message{Severity: packet.SeverityError, Text: "pump failure"}},
		{Key: 5, Payload: &packet.Measurement{Name: "salinity", Units: "PSU", Value: 35.1}},
	}
	appendAll(t, l, recs...)
	for _, want := range recs {
		got, complete, err := l.GetPackets(want.Key, want.Key, 1)
		assert.NoError(t, err)
		expect.True(t, complete)
		require.Len(t, got, 1)
		if diff := deep.Equal(got[0], want); diff != nil {
			t.Errorf("key %d: %v", want.Key, diff)
		}
	}
}

func TestDataLayout(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	entries := appendAll(t, l, sensor(1, "x"), metadata(2, "y"))
	assert.NoError(t, l.Close())

	b, err := os.ReadFile(loc.DataPath())
	assert.NoError(t, err)
	expect.EQ(t, int64(len(b)), entries[1].DataOffset+int64(entries[1].DataSize))
	for _, e := range entries {
		frame := b[e.DataOffset : e.DataOffset+int64(e.DataSize)]
		expect.True(t, packet.HasSyncMarker(frame))
		rec, err := packet.UnmarshalFrame(frame)
		assert.NoError(t, err)
		expect.EQ(t, rec.SequenceNumber, e.SequenceNumber)
		expect.EQ(t, rec.Key, e.Key)
	}
}

func TestSequenceNumbers(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	var seqs []int64
	for round := 0; round < 3; round++ {
		l := openLog(t, loc, Options{})
		for i := 0; i < 4; i++ {
			e, err := l.Append(sensor(int64(round*10+i), "v"), true)
			assert.NoError(t, err)
			seqs = append(seqs, e.SequenceNumber)
		}
		assert.NoError(t, l.Close())
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence numbers not increasing: %v", seqs)
		}
	}
	expect.EQ(t, seqs[0], int64(1))
}

func TestCallerSequence(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()
	rec := sensor(1, "a")
	rec.SequenceNumber, rec.MetadataRef = 100, 0
	e, err := l.Append(rec, false)
	assert.NoError(t, err)
	expect.EQ(t, e.SequenceNumber, int64(100))
	e, err = l.Append(sensor(2, "b"), true)
	assert.NoError(t, err)
	expect.EQ(t, e.SequenceNumber, int64(101))
}

func TestWraparound(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{SeqMin: 1, SeqMax: 3})
	entries := appendAll(t, l, sensor(1, "a"), sensor(2, "b"), sensor(3, "c"), sensor(4, "d"))
	assert.NoError(t, l.Close())
	var seqs []int64
	for _, e := range entries {
		seqs = append(seqs, e.SequenceNumber)
	}
	expect.EQ(t, seqs, []int64{1, 2, 3, 1})

	l = openLog(t, loc, Options{SeqMin: 1, SeqMax: 3})
	defer l.Close()
	e, err := l.Append(sensor(5, "e"), true)
	assert.NoError(t, err)
	expect.EQ(t, e.SequenceNumber, int64(2))
}

func TestMetadataRef(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	appendAll(t, l,
		sensor(1, "a"),    // seq 1
		metadata(2, "m1"), // seq 2
		sensor(3, "b"),    // seq 3
		metadata(4, "m2"), // seq 4
		sensor(5, "c"))    // seq 5
	j, err := l.Journal()
	assert.NoError(t, err)
	expect.EQ(t, j.LastMetadataRef, int64(4))
	assert.NoError(t, l.Close())

	// The back-reference survives reopening.
	l = openLog(t, loc, Options{})
	defer l.Close()
	appendAll(t, l, sensor(6, "d"))
	recs, _, err := l.GetPackets(0, 10, 10)
	assert.NoError(t, err)
	var refs []int64
	for _, r := range recs {
		refs = append(refs, r.MetadataRef)
	}
	expect.EQ(t, refs, []int64{0, 0, 2, 2, 4, 4})
}

func TestDuplicateKeys(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()
	appendAll(t, l, sensor(5, "a"), sensor(7, "b"), sensor(7, "c"), sensor(7, "d"), sensor(7, "e"), sensor(9, "f"))
	recs, complete, err := l.GetPackets(7, 7, 10)
	assert.NoError(t, err)
	expect.True(t, complete)
	expect.EQ(t, sequenceNumbers(recs), []int64{2, 3, 4, 5})
	recs, _, err = l.GetPackets(6, 8, 10)
	assert.NoError(t, err)
	expect.EQ(t, sequenceNumbers(recs), []int64{2, 3, 4, 5})
}

func TestComplete(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()
	for i := 0; i < 5; i++ {
		appendAll(t, l, sensor(int64(10+i), fmt.Sprint(i)))
	}
	for _, c := range []struct {
		max      int
		n        int
		complete bool
	}{
		{1, 1, false},
		{3, 3, false},
		{5, 5, true},
		{100, 5, true},
	} {
		recs, complete, err := l.GetPackets(10, 14, c.max)
		assert.NoError(t, err)
		expect.EQ(t, len(recs), c.n)
		expect.EQ(t, complete, c.complete)
		expect.EQ(t, recs[0].Key, int64(10))
	}
}

func TestQueryBoundaries(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()

	_, _, err := l.GetPackets(0, 100, 10)
	expect.True(t, errors.Is(errors.NotExist, err))
	appendAll(t, l, sensor(10, "a"), sensor(20, "b"))

	for _, r := range [][2]int64{{20, 10}, {0, 9}, {21, 30}, {11, 19}} {
		_, _, err := l.GetPackets(r[0], r[1], 10)
		expect.True(t, errors.Is(errors.NotExist, err), "range %v: %v", r, err)
	}
	_, _, err = l.GetPackets(0, 100, 0)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestReopenIdempotent(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	appendAll(t, l, metadata(3, "a"), sensor(5, "b"), sensor(8, "c"))
	want, err := l.Journal()
	assert.NoError(t, err)
	assert.NoError(t, l.Close())
	for i := 0; i < 2; i++ {
		l = openLog(t, loc, Options{})
		got, err := l.Journal()
		assert.NoError(t, err)
		if diff := deep.Equal(got, want); diff != nil {
			t.Errorf("reopen %d: %v", i, diff)
		}
		assert.NoError(t, l.Close())
	}
}

func TestUnread(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	appendAll(t, l, sensor(1, "a"), sensor(2, "b"), sensor(3, "c"))
	rec, err := l.GetNextPacket()
	assert.NoError(t, err)
	expect.EQ(t, rec.SequenceNumber, int64(1))
	assert.NoError(t, l.Close())

	l = openLog(t, loc, Options{})
	defer l.Close()
	n, err := l.NUnread()
	assert.NoError(t, err)
	expect.EQ(t, n, int32(2))
	for _, want := range []int64{2, 3} {
		rec, err := l.GetNextPacket()
		assert.NoError(t, err)
		expect.EQ(t, rec.SequenceNumber, want)
	}
	_, err = l.GetNextPacket()
	expect.True(t, errors.Is(errors.NotExist, err))

	// Range queries do not move the cursor.
	appendAll(t, l, sensor(4, "d"))
	_, _, err = l.GetPackets(0, 10, 10)
	assert.NoError(t, err)
	rec, err = l.GetNextPacket()
	assert.NoError(t, err)
	expect.EQ(t, rec.SequenceNumber, int64(4))

	assert.NoError(t, l.ResetCursor(0))
	n, err = l.NUnread()
	assert.NoError(t, err)
	expect.EQ(t, n, int32(4))
}

func TestGetLastPacket(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()
	_, err := l.GetLastPacket()
	expect.True(t, errors.Is(errors.NotExist, err))
	entries := appendAll(t, l, sensor(1, "a"), sensor(2, "b"))
	rec, err := l.GetLastPacket()
	assert.NoError(t, err)
	expect.EQ(t, rec.SequenceNumber, int64(2))
	rec, err = l.GetPacket(entries[0])
	assert.NoError(t, err)
	expect.EQ(t, string(rec.Payload.(*packet.SensorData).Data), "a")
}

func TestCapacity(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{MaxEntries: 2})
	defer l.Close()
	appendAll(t, l, sensor(1, "a"), sensor(2, "b"))
	size := l.data.Length()
	_, err := l.Append(sensor(3, "c"), true)
	expect.True(t, errors.Is(errors.Capacity, err))
	expect.EQ(t, l.data.Length(), size)
	j, err := l.Journal()
	assert.NoError(t, err)
	expect.EQ(t, j.NumEntries, int32(2))
}

func TestOrdering(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{Ordering: RejectOutOfOrder})
	defer l.Close()
	appendAll(t, l, sensor(10, "a"), sensor(10, "b"), sensor(20, "c"))
	size := l.data.Length()
	_, err := l.Append(sensor(15, "d"), true)
	expect.True(t, errors.Is(errors.Invalid, err))
	expect.EQ(t, l.data.Length(), size)
	appendAll(t, l, sensor(20, "e"))

	trusting := Location{Dir: loc.Dir, DeviceID: "trusting", Segment: loc.Segment}
	l2 := openLog(t, trusting, Options{})
	defer l2.Close()
	appendAll(t, l2, sensor(10, "a"), sensor(5, "b"))
	j, err := l2.Journal()
	assert.NoError(t, err)
	expect.EQ(t, [2]int64{j.MinKey, j.MaxKey}, [2]int64{5, 10})
}

func TestInvalid(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	for _, opts := range []Options{
		{SeqMin: 0, SeqMax: 10},
		{SeqMin: 10, SeqMax: 1},
		{MaxEntries: -1},
		{Ordering: Ordering(9)},
	} {
		_, err := Open(loc, opts)
		expect.True(t, errors.Is(errors.Invalid, err), "%+v", opts)
	}
	for _, bad := range []Location{
		{Dir: loc.Dir, Segment: "0"},
		{Dir: loc.Dir, DeviceID: "a/b", Segment: "0"},
		{Dir: loc.Dir, DeviceID: "a"},
	} {
		_, err := Open(bad, Options{})
		expect.True(t, errors.Is(errors.Invalid, err), "%+v", bad)
	}

	l := openLog(t, loc, Options{})
	defer l.Close()
	_, err := l.Append(nil, true)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = l.Append(&packet.Record{Key: 1}, true)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestClosed(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	entries := appendAll(t, l, sensor(1, "a"))
	assert.NoError(t, l.Close())

	_, err := l.Append(sensor(2, "b"), true)
	expect.True(t, errors.Is(errors.Precondition, err))
	_, _, err = l.GetPackets(0, 10, 10)
	expect.True(t, errors.Is(errors.Precondition, err))
	_, err = l.GetLastPacket()
	expect.True(t, errors.Is(errors.Precondition, err))
	_, err = l.GetNextPacket()
	expect.True(t, errors.Is(errors.Precondition, err))
	_, err = l.GetPacket(entries[0])
	expect.True(t, errors.Is(errors.Precondition, err))
	_, err = l.NUnread()
	expect.True(t, errors.Is(errors.Precondition, err))
	_, err = l.Journal()
	expect.True(t, errors.Is(errors.Precondition, err))
	expect.True(t, errors.Is(errors.Precondition, l.ResetCursor(0)))
	expect.True(t, errors.Is(errors.Precondition, l.Close()))
}

func corrupt(t *testing.T, path string, off int64, p []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(p, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestMissingSyncMarker(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	entries := appendAll(t, l, sensor(1, "a"), sensor(2, "b"))
	assert.NoError(t, l.Close())
	corrupt(t, loc.DataPath(), entries[1].DataOffset, []byte{0, 0, 0, 0})

	l = openLog(t, loc, Options{})
	defer l.Close()
	rec, err := l.GetPacket(entries[1])
	assert.NoError(t, err)
	expect.EQ(t, rec.SequenceNumber, int64(2))
}

func TestCorruptRecord(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	entries := appendAll(t, l, sensor(1, "abcdef"), sensor(2, "b"))
	assert.NoError(t, l.Close())
	e := entries[0]
	corrupt(t, loc.DataPath(), e.DataOffset+int64(e.DataSize)-6, []byte("X"))

	l = openLog(t, loc, Options{})
	defer l.Close()
	_, _, err := l.GetPackets(1, 1, 1)
	expect.True(t, errors.Is(errors.Integrity, err))
	_, _, err = l.GetPackets(2, 2, 1)
	assert.NoError(t, err)
}

func TestTruncatedData(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	entries := appendAll(t, l, sensor(1, "a"), sensor(2, "b"))
	assert.NoError(t, l.Close())
	require.NoError(t, os.Truncate(loc.DataPath(), entries[1].DataOffset+5))

	l = openLog(t, loc, Options{})
	defer l.Close()
	_, err := l.GetLastPacket()
	expect.True(t, errors.Is(errors.Truncated, err))
	_, err = l.GetPacket(entries[0])
	assert.NoError(t, err)
}

func TestDevices(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	for _, id := range []string{"ctd_b", "adcp", "ctd"} {
		l := openLog(t, Location{Dir: loc.Dir, DeviceID: id, Segment: "0"}, Options{})
		assert.NoError(t, l.Close())
	}
	l := openLog(t, Location{Dir: loc.Dir, DeviceID: "other", Segment: "1"}, Options{})
	assert.NoError(t, l.Close())

	ids, err := Devices(loc.Dir, "0")
	assert.NoError(t, err)
	expect.EQ(t, ids, []string{"adcp", "ctd", "ctd_b"})
	_, err = Devices(loc.Dir+"/missing", "0")
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestUnreadCorrupt(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	entries := appendAll(t, l, sensor(1, "abcdef"), sensor(2, "ghijkl"), sensor(3, "mnopqr"))
	assert.NoError(t, l.Close())
	e := entries[1]
	corrupt(t, loc.DataPath(), e.DataOffset+int64(e.DataSize)-6, []byte("X"))

	l = openLog(t, loc, Options{})
	defer l.Close()
	rec, err := l.GetNextPacket()
	assert.NoError(t, err)
	expect.EQ(t, rec.SequenceNumber, int64(1))
	for i := 0; i < 2; i++ {
		_, err = l.GetNextPacket()
		expect.True(t, errors.Is(errors.Integrity, err), "%v", err)
		n, err := l.NUnread()
		assert.NoError(t, err)
		expect.EQ(t, n, int32(2))
	}
	assert.NoError(t, l.ResetCursor(2))
	rec, err = l.GetNextPacket()
	assert.NoError(t, err)
	expect.EQ(t, rec.SequenceNumber, int64(3))
	n, err := l.NUnread()
	assert.NoError(t, err)
	expect.EQ(t, n, int32(0))
}

func TestReadOnly(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	appendAll(t, l, metadata(1, "a"), sensor(2, "b"), sensor(3, "c"))
	_, err := l.GetNextPacket()
	assert.NoError(t, err)
	want, err := l.Journal()
	assert.NoError(t, err)
	assert.NoError(t, l.Close())
	index, err := os.ReadFile(loc.IndexPath(""))
	require.NoError(t, err)
	data, err := os.ReadFile(loc.DataPath())
	require.NoError(t, err)

	l = openLog(t, loc, Options{ReadOnly: true, Lock: true})
	j, err := l.Journal()
	assert.NoError(t, err)
	if diff := deep.Equal(j, want); diff != nil {
		t.Error(diff)
	}
	recs, complete, err := l.GetPackets(0, 10, 10)
	assert.NoError(t, err)
	expect.True(t, complete)
	expect.EQ(t, sequenceNumbers(recs), []int64{1, 2, 3})
	n, err := l.NUnread()
	assert.NoError(t, err)
	expect.EQ(t, n, int32(2))
	_, err = l.Append(sensor(4, "d"), true)
	expect.True(t, errors.Is(errors.Precondition, err), "%v", err)
	_, err = l.GetNextPacket()
	expect.True(t, errors.Is(errors.Precondition, err), "%v", err)
	expect.True(t, errors.Is(errors.Precondition, l.ResetCursor(0)))
	assert.NoError(t, l.Close())

	after, err := os.ReadFile(loc.IndexPath(""))
	require.NoError(t, err)
	expect.True(t, bytes.Equal(index, after))
	after, err = os.ReadFile(loc.DataPath())
	require.NoError(t, err)
	expect.True(t, bytes.Equal(data, after))
	_, err = os.Stat(loc.LockPath())
	expect.True(t, os.IsNotExist(err))

	// A read-only open never creates a missing index.
	require.NoError(t, os.Remove(loc.IndexPath("")))
	_, err = Open(loc, Options{ReadOnly: true})
	expect.True(t, errors.Is(errors.NotExist, err), "%v", err)
	_, err = os.Stat(loc.IndexPath(""))
	expect.True(t, os.IsNotExist(err))

	_, err = Open(Location{Dir: loc.Dir, DeviceID: "none", Segment: "0"}, Options{ReadOnly: true})
	expect.True(t, errors.Is(errors.NotExist, err), "%v", err)
}

func TestConcurrent(t *testing.T) {
	const (
		writers   = 8
		perWriter = 50
		total     = writers * perWriter
	)
	loc, cleanup := testLocation(t)
	defer cleanup()
	l := openLog(t, loc, Options{})
	defer l.Close()

	var (
		wg   sync.WaitGroup
		once errors.Once
		mu   sync.Mutex
		read []int64
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := sensor(1, fmt.Sprintf("%d/%d", w, i))
				if i%10 == 0 {
					rec = metadata(1, fmt.Sprint(w))
				}
				if _, err := l.Append(rec, true); err != nil {
					once.Set(err)
					return
				}
				recs, _, err := l.GetPackets(1, 1, total)
				if err != nil {
					once.Set(err)
					return
				}
				for j := 1; j < len(recs); j++ {
					if recs[j].SequenceNumber <= recs[j-1].SequenceNumber {
						once.Set(fmt.Errorf("sequence %d follows %d", recs[j].SequenceNumber, recs[j-1].SequenceNumber))
					}
				}
				next, err := l.GetNextPacket()
				if errors.Is(errors.NotExist, err) {
					continue
				}
				if err != nil {
					once.Set(err)
					return
				}
				mu.Lock()
				read = append(read, next.SequenceNumber)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	assert.NoError(t, once.Err())

	j, err := l.Journal()
	assert.NoError(t, err)
	expect.EQ(t, j.NumEntries, int32(total))

	for {
		rec, err := l.GetNextPacket()
		if errors.Is(errors.NotExist, err) {
			break
		}
		assert.NoError(t, err)
		read = append(read, rec.SequenceNumber)
	}
	sort.Slice(read, func(i, j int) bool { return read[i] < read[j] })
	require.Len(t, read, total)
	for i, seq := range read {
		expect.EQ(t, seq, int64(i+1))
	}

	recs, complete, err := l.GetPackets(1, 1, total)
	assert.NoError(t, err)
	expect.True(t, complete)
	require.Len(t, recs, total)
	var lastMeta int64
	for i, rec := range recs {
		expect.EQ(t, rec.SequenceNumber, int64(i+1))
		expect.EQ(t, rec.MetadataRef, lastMeta, "record %d", i+1)
		if rec.Kind() == packet.KindMetadata {
			lastMeta = rec.SequenceNumber
		}
	}
	expect.EQ(t, j.LastMetadataRef, lastMeta)
}
