// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package packet

import (
	"testing"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/go-test/deep"
	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testRecords() []*Record {
	return []*Record{
		{Key: 100, SequenceNumber: 1, Payload: &Metadata{
			Attributes: []Attribute{{"model", "SBE37"}, {"serial", "3711"}},
		}},
		{Key: 100, SequenceNumber: 2, MetadataRef: 1, Payload: &SensorData{
			Format: "ctd-hex", Data: []byte{0x0B, 0x0B, 0x0B, 0x0B, 1, 2, 3},
		}},
		{Key: 200, SequenceNumber: 3, MetadataRef: 1, Payload: &Summary{
			Count: 12, Min: -1.5, Max: 22.25, Mean: 10.125,
		}},
		{Key: -5, SequenceNumber: 4, MetadataRef: 1, Payload: &Message{
			Severity: SeverityWarning, Text: "clock skew",
		}},
		{Key: 1 << 40, SequenceNumber: 1<<31 + 7, MetadataRef: 1, Payload: &Measurement{
			Name: "temperature", Units: "degC", Value: 11.5,
		}},
		{Key: 0, SequenceNumber: 5, Payload: &Metadata{}},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, r := range testRecords() {
		p, err := Marshal(r)
		assert.NoError(t, err)
		got, n, err := Unmarshal(p)
		assert.NoError(t, err)
		expect.EQ(t, n, len(p))
		if diff := deep.Equal(got, r); diff != nil {
			t.Errorf("%s: %v", r.Kind(), diff)
		}
	}
}

func TestRoundTripFuzz(t *testing.T) {
	fz := fuzz.New().NilChance(0).NumElements(1, 8)
	payloads := []func() Payload{
		func() Payload { return new(Metadata) },
		func() Payload { return new(SensorData) },
		func() Payload { return new(Summary) },
		func() Payload { return new(Message) },
		func() Payload { return new(Measurement) },
	}
	for i := 0; i < 500; i++ {
		r := &Record{Payload: payloads[i%len(payloads)]()}
		fz.Fuzz(&r.Key)
		fz.Fuzz(&r.SequenceNumber)
		fz.Fuzz(&r.MetadataRef)
		fz.Fuzz(r.Payload)
		frame, err := AppendFrame(nil, r)
		assert.NoError(t, err)
		got, err := UnmarshalFrame(frame)
		assert.NoError(t, err)
		if diff := deep.Equal(got, r); diff != nil {
			t.Fatalf("record %d (%s): %v", i, r.Kind(), diff)
		}
	}
}

func TestFrame(t *testing.T) {
	var (
		buf []byte
		err error
	)
	recs := testRecords()
	for _, r := range recs {
		buf, err = AppendFrame(buf, r)
		assert.NoError(t, err)
	}
	// Records are self-delimiting: walk the concatenated frames.
	for i := 0; len(buf) > 0; i++ {
		assert.True(t, HasSyncMarker(buf))
		r, n, err := Unmarshal(buf[SyncMarkerSize:])
		assert.NoError(t, err)
		expect.EQ(t, r.SequenceNumber, recs[i].SequenceNumber)
		buf = buf[SyncMarkerSize+n:]
	}
}

func TestPayloadSize(t *testing.T) {
	r := testRecords()[1]
	p, err := Marshal(r)
	assert.NoError(t, err)
	n, err := PayloadSize(p[:HeaderSize])
	assert.NoError(t, err)
	expect.EQ(t, n, len(p))
	_, err = PayloadSize(p[:HeaderSize-1])
	expect.True(t, errors.Is(errors.Truncated, err))
}

func TestCorruption(t *testing.T) {
	r := testRecords()[3]
	p, err := Marshal(r)
	assert.NoError(t, err)
	clone := func() []byte { return append([]byte{}, p...) }

	for _, c := range []struct {
		name   string
		mutate func([]byte) []byte
		kind   errors.Kind
	}{
		{"empty", func(p []byte) []byte { return nil }, errors.Truncated},
		{"short header", func(p []byte) []byte { return p[:10] }, errors.Truncated},
		{"short body", func(p []byte) []byte { return p[:len(p)-1] }, errors.Truncated},
		{"version", func(p []byte) []byte { p[0] = 9; return p }, errors.Integrity},
		{"checksum", func(p []byte) []byte { p[len(p)-1]++; return p }, errors.Integrity},
		{"body", func(p []byte) []byte { p[HeaderSize+2]++; return p }, errors.Integrity},
		{"key", func(p []byte) []byte { p[5]++; return p }, errors.Integrity},
		{"oversize", func(p []byte) []byte {
			order.PutUint32(p[HeaderSize-4:], MaxBodySize+1)
			return p
		}, errors.Integrity},
		{"kind", func(p []byte) []byte {
			p[1] = 42
			order.PutUint32(p[len(p)-4:], checksum(p[:len(p)-4]))
			return p
		}, errors.UnknownType},
		{"trailing", func(p []byte) []byte {
			// Grow the body by one byte and re-checksum.
			p = append(p[:len(p)-4], 0)
			order.PutUint32(p[HeaderSize-4:], order.Uint32(p[HeaderSize-4:])+1)
			return appendUint32(p, checksum(p))
		}, errors.Integrity},
		{"malformed", func(p []byte) []byte {
			// Claim a text length beyond the body.
			order.PutUint32(p[HeaderSize+1:], 1000)
			order.PutUint32(p[len(p)-4:], checksum(p[:len(p)-4]))
			return p
		}, errors.Integrity},
	} {
		_, _, err := Unmarshal(c.mutate(clone()))
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if got := errors.KindOf(err); got != c.kind {
			t.Errorf("%s: got %v, want %v (%v)", c.name, got, c.kind, err)
		}
	}
}

func TestUnmarshalFrame(t *testing.T) {
	frame, err := AppendFrame(nil, testRecords()[0])
	assert.NoError(t, err)
	_, err = UnmarshalFrame(frame[1:])
	expect.True(t, errors.Is(errors.Integrity, err))
	_, err = UnmarshalFrame(append(frame, 0))
	expect.True(t, errors.Is(errors.Integrity, err))
}

func TestMarshalInvalid(t *testing.T) {
	_, err := Marshal(&Record{Key: 1})
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = Marshal(nil)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = Marshal(&Record{Payload: &SensorData{Data: make([]byte, MaxBodySize)}})
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestKind(t *testing.T) {
	for _, k := range Kinds {
		expect.True(t, k.Valid())
		expect.EQ(t, newPayload(k).Kind(), k)
	}
	expect.False(t, Kind(0).Valid())
	expect.EQ(t, Kind(42).String(), "kind(42)")
	expect.EQ(t, KindSensorData.String(), "sensor-data")
	expect.EQ(t, (&Record{}).Kind(), Kind(0))
}

func TestMetadataGet(t *testing.T) {
	m := testRecords()[0].Payload.(*Metadata)
	v, ok := m.Get("serial")
	expect.True(t, ok)
	expect.EQ(t, v, "3711")
	_, ok = m.Get("firmware")
	expect.False(t, ok)
	expect.HasSubstr(t, testRecords()[0].String(), "model=SBE37")
}

func TestChecksum(t *testing.T) {
	for _, p := range [][]byte{nil, []byte("a"), []byte("sensor payload")} {
		h := xxhash.Sum64(p)
		expect.EQ(t, checksum(p), uint32(h>>32)^uint32(h), "%q", p)
	}
	// Both halves of the hash contribute.
	var differ bool
	for i := 0; i < 16; i++ {
		p := []byte{byte(i)}
		h := xxhash.Sum64(p)
		if checksum(p) != uint32(h) {
			differ = true
		}
	}
	expect.True(t, differ)
}
