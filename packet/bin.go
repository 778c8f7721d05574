// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package packet

import (
	"encoding/binary"
	"math"

	xxhash "github.com/cespare/xxhash/v2"
)

var order = binary.BigEndian

func appendUint32(p []byte, v uint32) []byte {
	return append(p, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendUint64(p []byte, v uint64) []byte {
	return append(p, byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendFloat64(p []byte, v float64) []byte {
	return appendUint64(p, math.Float64bits(v))
}

func appendString(p []byte, s string) []byte {
	p = appendUint32(p, uint32(len(s)))
	return append(p, s...)
}

func appendBytes(p []byte, b []byte) []byte {
	p = appendUint32(p, uint32(len(b)))
	return append(p, b...)
}

func checksum(data []byte) uint32 {
	h := xxhash.Sum64(data)
	return uint32(h>>32) ^ uint32(h)
}

// A decoder consumes a payload body. The first short read sets
// ok to false; subsequent reads return zero values.
type decoder struct {
	p  []byte
	ok bool
}

func (d *decoder) need(n int) bool {
	if !d.ok || n < 0 || len(d.p) < n {
		d.ok = false
		return false
	}
	return true
}

func (d *decoder) uint8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.p[0]
	d.p = d.p[1:]
	return v
}

func (d *decoder) uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := order.Uint32(d.p)
	d.p = d.p[4:]
	return v
}

func (d *decoder) uint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := order.Uint64(d.p)
	d.p = d.p[8:]
	return v
}

func (d *decoder) float64() float64 {
	return math.Float64frombits(d.uint64())
}

// count reads a uint32 element count, checking that the remaining
// body could hold count elements of at least minsz bytes each.
func (d *decoder) count(minsz int) int {
	n := int(d.uint32())
	if !d.ok || n > len(d.p)/minsz {
		d.ok = false
		return 0
	}
	return n
}

func (d *decoder) bytes() []byte {
	n := int(d.uint32())
	if n == 0 || !d.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, d.p)
	d.p = d.p[n:]
	return b
}

func (d *decoder) string() string {
	n := int(d.uint32())
	if n == 0 || !d.need(n) {
		return ""
	}
	s := string(d.p[:n])
	d.p = d.p[n:]
	return s
}
