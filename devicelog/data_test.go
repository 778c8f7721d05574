// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"testing"

	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestLogData(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	d, err := OpenData(loc, false)
	assert.NoError(t, err)

	off, size, err := d.AppendLogData([]byte("hello"))
	assert.NoError(t, err)
	expect.EQ(t, off, int64(0))
	expect.EQ(t, size, int32(5))
	off, size, err = d.AppendLogData([]byte(", world"))
	assert.NoError(t, err)
	expect.EQ(t, off, int64(5))
	expect.EQ(t, size, int32(7))
	expect.EQ(t, d.Length(), int64(12))

	p, err := d.ReadLogData(IndexEntry{DataOffset: 5, DataSize: 7})
	assert.NoError(t, err)
	expect.EQ(t, string(p), ", world")
	_, err = d.ReadLogData(IndexEntry{DataOffset: 10, DataSize: 7})
	expect.True(t, errors.Is(errors.Truncated, err))
	_, err = d.ReadLogData(IndexEntry{DataOffset: -1, DataSize: 1})
	expect.True(t, errors.Is(errors.Integrity, err))

	// Forward scans return short counts at end of file.
	assert.NoError(t, d.Seek(3))
	buf := make([]byte, 6)
	n, err := d.ReadBytes(buf)
	assert.NoError(t, err)
	expect.EQ(t, string(buf[:n]), "lo, wo")
	n, err = d.ReadBytes(buf)
	assert.NoError(t, err)
	expect.EQ(t, string(buf[:n]), "rld")
	n, err = d.ReadBytes(buf)
	assert.NoError(t, err)
	expect.EQ(t, n, 0)
	expect.True(t, errors.Is(errors.Invalid, d.Seek(-1)))

	assert.NoError(t, d.Sync())
	assert.NoError(t, d.Close())
	_, _, err = d.AppendLogData([]byte("x"))
	expect.True(t, errors.Is(errors.Precondition, err))
	expect.True(t, errors.Is(errors.Precondition, d.Close()))

	// Reopened files append at their end.
	d, err = OpenData(loc, false)
	assert.NoError(t, err)
	off, _, err = d.AppendLogData([]byte("!"))
	assert.NoError(t, err)
	expect.EQ(t, off, int64(12))
	assert.NoError(t, d.Close())
}

func TestLogDataReadOnly(t *testing.T) {
	loc, cleanup := testLocation(t)
	defer cleanup()
	_, err := OpenData(loc, true)
	expect.True(t, errors.Is(errors.NotExist, err))

	d, err := OpenData(loc, false)
	assert.NoError(t, err)
	_, _, err = d.AppendLogData([]byte("abc"))
	assert.NoError(t, err)
	assert.NoError(t, d.Close())

	d, err = OpenData(loc, true)
	assert.NoError(t, err)
	defer d.Close()
	_, _, err = d.AppendLogData([]byte("x"))
	expect.True(t, errors.Is(errors.Precondition, err))
	buf := make([]byte, 8)
	n, _ := d.ReadAt(buf, 1)
	expect.EQ(t, string(buf[:n]), "bc")
}
