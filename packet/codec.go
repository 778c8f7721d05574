// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package packet

import (
	"bytes"
	"fmt"

	"github.com/grailbio/devicelog/errors"
)

const (
	// Version is the payload encoding version written by this package.
	Version = 1

	// HeaderSize is the size of the fixed payload header
	// (version, kind, key, seq, metaref, length).
	HeaderSize = 1 + 1 + 8 + 8 + 8 + 4
	// SyncMarkerSize is the size of the frame marker.
	SyncMarkerSize = 4
	// MaxBodySize is the largest payload body that is encoded or
	// decoded.
	MaxBodySize = 16 << 20

	checksumSize = 4
	// minPayloadSize is the size of a payload with an empty body.
	minPayloadSize = HeaderSize + checksumSize
)

// SyncMarker precedes every payload in a data file.
var SyncMarker = [SyncMarkerSize]byte{0x0B, 0x0B, 0x0B, 0x0B}

// HasSyncMarker tells whether p begins with the sync marker.
func HasSyncMarker(p []byte) bool {
	return len(p) >= SyncMarkerSize && bytes.Equal(p[:SyncMarkerSize], SyncMarker[:])
}

// Marshal encodes the record r into a new payload, without a sync
// marker.
func Marshal(r *Record) ([]byte, error) {
	return appendPayload(nil, r)
}

// AppendFrame appends the framed record r (the sync marker followed by
// its payload) to dst and returns the extended buffer.
func AppendFrame(dst []byte, r *Record) ([]byte, error) {
	return appendPayload(append(dst, SyncMarker[:]...), r)
}

func appendPayload(dst []byte, r *Record) ([]byte, error) {
	if r == nil || r.Payload == nil {
		return nil, errors.E(errors.Invalid, "packet: record has no payload")
	}
	kind := r.Payload.Kind()
	if !kind.Valid() {
		return nil, errors.E(errors.UnknownType, "packet:", kind.String())
	}
	off := len(dst)
	dst = append(dst, Version, byte(kind))
	dst = appendUint64(dst, uint64(r.Key))
	dst = appendUint64(dst, uint64(r.SequenceNumber))
	dst = appendUint64(dst, uint64(r.MetadataRef))
	lenOff := len(dst)
	dst = appendUint32(dst, 0)
	dst = r.Payload.appendBody(dst)
	n := len(dst) - lenOff - 4
	if n > MaxBodySize {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("packet: body size %d exceeds maximum %d", n, MaxBodySize))
	}
	order.PutUint32(dst[lenOff:], uint32(n))
	return appendUint32(dst, checksum(dst[off:])), nil
}

// PayloadSize returns the total size of the payload whose header is
// at the beginning of p. Only the first HeaderSize bytes are
// examined.
func PayloadSize(p []byte) (int, error) {
	if len(p) < HeaderSize {
		return 0, errors.E(errors.Truncated, fmt.Sprintf("packet: short header (%d bytes)", len(p)))
	}
	if p[0] != Version {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("packet: unsupported version %d", p[0]))
	}
	n := order.Uint32(p[HeaderSize-4:])
	if n > MaxBodySize {
		return 0, errors.E(errors.Integrity, fmt.Sprintf("packet: body size %d exceeds maximum %d", n, MaxBodySize))
	}
	return minPayloadSize + int(n), nil
}

// Unmarshal decodes the payload at the beginning of p, returning the
// record and the number of bytes it occupies. Errors are of kind
// errors.Truncated when p ends before the record does,
// errors.UnknownType for an unrecognized kind, and errors.Integrity
// for any other corruption.
func Unmarshal(p []byte) (*Record, int, error) {
	n, err := PayloadSize(p)
	if err != nil {
		return nil, 0, err
	}
	if len(p) < n {
		return nil, 0, errors.E(errors.Truncated, fmt.Sprintf("packet: record needs %d bytes, have %d", n, len(p)))
	}
	if got, want := checksum(p[:n-checksumSize]), order.Uint32(p[n-checksumSize:]); got != want {
		return nil, 0, errors.E(errors.Integrity, fmt.Sprintf("packet: checksum mismatch: %08x != %08x", got, want))
	}
	kind := Kind(p[1])
	payload := newPayload(kind)
	if payload == nil {
		return nil, 0, errors.E(errors.UnknownType, "packet:", kind.String())
	}
	d := decoder{p: p[HeaderSize : n-checksumSize], ok: true}
	payload.decodeBody(&d)
	switch {
	case !d.ok:
		return nil, 0, errors.E(errors.Integrity, "packet: malformed", kind.String(), "body")
	case len(d.p) > 0:
		return nil, 0, errors.E(errors.Integrity, fmt.Sprintf("packet: %d trailing bytes in %s body", len(d.p), kind))
	}
	return &Record{
		Key:            int64(order.Uint64(p[2:])),
		SequenceNumber: int64(order.Uint64(p[10:])),
		MetadataRef:    int64(order.Uint64(p[18:])),
		Payload:        payload,
	}, n, nil
}

// UnmarshalFrame decodes a framed record, as produced by AppendFrame.
// A frame without a sync marker is an errors.Integrity error.
func UnmarshalFrame(p []byte) (*Record, error) {
	if !HasSyncMarker(p) {
		return nil, errors.E(errors.Integrity, "packet: missing sync marker")
	}
	r, n, err := Unmarshal(p[SyncMarkerSize:])
	if err != nil {
		return nil, err
	}
	if n != len(p)-SyncMarkerSize {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("packet: frame holds %d bytes, record %d", len(p)-SyncMarkerSize, n))
	}
	return r, nil
}
