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
)

// LogData manages the append-only data file of a device log. Besides
// appends and reads of indexed records, it maintains a read position
// for forward scans (Seek, ReadBytes).
type LogData struct {
	path     string
	readOnly bool

	mu     sync.Mutex
	file   *os.File
	size   int64
	pos    int64
	closed bool
}

// OpenData opens the data file of the log at loc, creating it unless
// readOnly is set.
func OpenData(loc Location, readOnly bool) (*LogData, error) {
	d := &LogData{path: loc.DataPath(), readOnly: readOnly}
	var err error
	if readOnly {
		d.file, err = os.Open(d.path)
	} else {
		d.file, err = os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		if readOnly && os.IsNotExist(err) {
			return nil, errors.E(errors.NotExist, "devicelog: open data", d.path, err)
		}
		return nil, errors.E(errors.IO, "devicelog: open data", d.path, err)
	}
	info, err := d.file.Stat()
	if err != nil {
		d.file.Close()
		return nil, errors.E(errors.IO, "devicelog: stat", d.path, err)
	}
	d.size = info.Size()
	return d, nil
}

// Path returns the path of the data file.
func (d *LogData) Path() string {
	return d.path
}

func (d *LogData) check() error {
	if d.closed {
		return errors.E(errors.Precondition, "devicelog: data", d.path, "is closed")
	}
	return nil
}

// AppendLogData appends the framed record p to the end of the data
// file and returns its offset and size. The data file is not synced.
func (d *LogData) AppendLogData(p []byte) (offset int64, size int32, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, 0, err
	}
	if d.readOnly {
		return 0, 0, errors.E(errors.Precondition, "devicelog: data", d.path, "is read-only")
	}
	if len(p) > math.MaxInt32 {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("devicelog: record of %d bytes is too large", len(p)))
	}
	offset = d.size
	n, err := d.file.WriteAt(p, offset)
	// A partial write leaves garbage that later appends must not
	// overwrite; it is skipped by scans.
	d.size += int64(n)
	if err != nil {
		return 0, 0, errors.E(errors.IO, "devicelog: append", d.path, err)
	}
	return offset, int32(len(p)), nil
}

// ReadLogData returns the framed record located by e.
func (d *LogData) ReadLogData(e IndexEntry) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return nil, err
	}
	if e.DataOffset < 0 || e.DataSize < 0 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("devicelog: invalid data location %d+%d", e.DataOffset, e.DataSize))
	}
	if end := e.DataOffset + int64(e.DataSize); end > d.size {
		return nil, errors.E(errors.Truncated, fmt.Sprintf("devicelog: %s: record %d+%d extends past end of data (%d bytes)", d.path, e.DataOffset, e.DataSize, d.size))
	}
	p := make([]byte, e.DataSize)
	if _, err := d.file.ReadAt(p, e.DataOffset); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.E("devicelog: read", d.path, err)
	}
	return p, nil
}

// Seek sets the position of the next ReadBytes.
func (d *LogData) Seek(offset int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if offset < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("devicelog: negative offset %d", offset))
	}
	d.pos = offset
	return nil
}

// ReadBytes reads into p from the current position, which is advanced
// by the number of bytes read. At the end of the data file, ReadBytes
// returns a short (or zero) count and no error.
func (d *LogData) ReadBytes(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	n, err := d.file.ReadAt(p, d.pos)
	d.pos += int64(n)
	if err != nil && err != io.EOF {
		return n, errors.E(errors.IO, "devicelog: read", d.path, err)
	}
	return n, nil
}

// ReadAt implements io.ReaderAt.
func (d *LogData) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return 0, err
	}
	n, err := d.file.ReadAt(p, off)
	if err != nil && err != io.EOF {
		err = errors.E(errors.IO, "devicelog: read", d.path, err)
	}
	return n, err
}

// Length returns the size of the data file.
func (d *LogData) Length() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Sync syncs the data file.
func (d *LogData) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if d.readOnly {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return errors.E(errors.IO, "devicelog: sync", d.path, err)
	}
	return nil
}

// Close syncs and closes the data file.
func (d *LogData) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	d.closed = true
	var err error
	if !d.readOnly {
		if serr := d.file.Sync(); serr != nil {
			err = errors.E(errors.IO, "devicelog: sync", d.path, serr)
		}
	}
	errors.CleanUp(d.file.Close, &err)
	return err
}

var _ io.ReaderAt = (*LogData)(nil)
