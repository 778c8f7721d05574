// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

// sequence generates record sequence numbers in [min, max], wrapping
// from max to min.
type sequence struct {
	min, max, next int64
}

// newSequence returns a sequence that resumes after last. Values of
// last outside the range restart the sequence at min.
func newSequence(min, max, last int64) *sequence {
	s := &sequence{min: min, max: max, next: min}
	if last >= min && last < max {
		s.next = last + 1
	}
	return s
}

// Next returns the next sequence number.
func (s *sequence) Next() int64 {
	v := s.next
	if v >= s.max {
		s.next = s.min
	} else {
		s.next = v + 1
	}
	return v
}

// Observe accounts for v, a sequence number assigned elsewhere, so
// that the sequence does not reissue it.
func (s *sequence) Observe(v int64) {
	if v < s.next {
		return
	}
	if v >= s.max {
		s.next = s.min
	} else {
		s.next = v + 1
	}
}
