// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/devicelog/errors"
)

const (
	indexExt = ".idx"
	dataExt  = ".dat"
	lockExt  = ".lock"
)

// Location names the files of one segment of a device log.
type Location struct {
	// Dir is the directory holding the log's files.
	Dir string
	// DeviceID identifies the instrument.
	DeviceID string
	// Segment names the segment of the device's log.
	Segment string
}

func (l Location) base() string {
	return l.DeviceID + "_" + l.Segment
}

// IndexPath returns the path of the index file. The suffix, if any, is
// inserted before the file extension.
func (l Location) IndexPath(suffix string) string {
	return filepath.Join(l.Dir, l.base()+suffix+indexExt)
}

// DataPath returns the path of the data file.
func (l Location) DataPath() string {
	return filepath.Join(l.Dir, l.base()+dataExt)
}

// LockPath returns the path of the advisory lock file.
func (l Location) LockPath() string {
	return filepath.Join(l.Dir, l.base()+lockExt)
}

func (l Location) String() string {
	return filepath.Join(l.Dir, l.base())
}

// Validate checks that l names a device log.
func (l Location) Validate() error {
	switch {
	case l.DeviceID == "":
		return errors.E(errors.Invalid, "devicelog: empty device id")
	case l.Segment == "":
		return errors.E(errors.Invalid, "devicelog: empty segment")
	case strings.ContainsRune(l.DeviceID, filepath.Separator):
		return errors.E(errors.Invalid, "devicelog: device id", l.DeviceID, "contains a path separator")
	case strings.ContainsRune(l.Segment, filepath.Separator):
		return errors.E(errors.Invalid, "devicelog: segment", l.Segment, "contains a path separator")
	}
	return nil
}

// Devices returns the sorted ids of the devices that have a data file
// for the given segment in dir.
func Devices(dir, segment string) ([]string, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.E("devicelog: list", dir, err)
	}
	suffix := "_" + segment + dataExt
	var ids []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, suffix) || len(name) == len(suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, suffix))
	}
	sort.Strings(ids)
	return ids, nil
}
