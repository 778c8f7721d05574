// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package devicelog

import (
	"sort"
	"sync"

	"github.com/grailbio/devicelog/errors"
)

// Registry holds at most one open DeviceLog per device id for a
// directory and segment. It is owned by the caller; there is no
// process-wide registry.
type Registry struct {
	dir, segment string
	opts         Options

	mu   sync.Mutex
	logs map[string]*DeviceLog
}

// NewRegistry returns a registry of the logs of the given segment in
// dir. Logs are opened with the provided options.
func NewRegistry(dir, segment string, opts Options) *Registry {
	return &Registry{
		dir:     dir,
		segment: segment,
		opts:    opts,
		logs:    make(map[string]*DeviceLog),
	}
}

// Open returns the open log of the device, opening it if necessary. A
// log that was closed directly, rather than through the registry, is
// reopened.
func (r *Registry) Open(deviceID string) (*DeviceLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.logs[deviceID]; l != nil && !l.isClosed() {
		return l, nil
	}
	l, err := Open(Location{Dir: r.dir, DeviceID: deviceID, Segment: r.segment}, r.opts)
	if err != nil {
		return nil, err
	}
	r.logs[deviceID] = l
	return l, nil
}

// Lookup returns the open log of the device, if any.
func (r *Registry) Lookup(deviceID string) (*DeviceLog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[deviceID]
	if ok && l.isClosed() {
		delete(r.logs, deviceID)
		return nil, false
	}
	return l, ok
}

// Close closes the device's log and removes it from the registry.
func (r *Registry) Close(deviceID string) error {
	r.mu.Lock()
	l, ok := r.logs[deviceID]
	delete(r.logs, deviceID)
	r.mu.Unlock()
	if !ok || l.isClosed() {
		return errors.E(errors.NotExist, "devicelog: device", deviceID, "is not open")
	}
	return l.Close()
}

// CloseAll closes every open log. It returns the first error
// encountered; all logs are closed regardless.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	logs := r.logs
	r.logs = make(map[string]*DeviceLog)
	r.mu.Unlock()
	var once errors.Once
	for _, l := range logs {
		if !l.isClosed() {
			once.Set(l.Close())
		}
	}
	return once.Err()
}

// Devices returns the sorted ids of the devices with open logs.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.logs))
	for id, l := range r.logs {
		if !l.isClosed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
