// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import "sync"

// Once captures at most one error. Errors are safely set across
// multiple goroutines.
//
// A zero Once is ready to use.
type Once struct {
	// Ignored is a list of errors that will be dropped in Set.
	Ignored []error
	mu      sync.Mutex
	err     error
}

// Err returns the first non-nil error passed to Set.
func (e *Once) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Set sets this instance's error to err. Only the first error
// is set; subsequent calls are ignored.
func (e *Once) Set(err error) {
	if err == nil {
		return
	}
	for _, ignored := range e.Ignored {
		if err == ignored {
			return
		}
	}
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}
