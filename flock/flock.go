// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package flock implements a simple POSIX file-based advisory lock.
// Device logs use it to keep a single writer per log across
// processes; the checker uses it to wait for a live writer to go
// away before scanning.
package flock

import (
	"context"
)

// FileLock is an advisory lock on a path.
type FileLock interface {
	// Lock blocks until the lock is acquired or ctx is done. Iff Lock
	// returns nil, the caller must call Unlock later.
	Lock(ctx context.Context) error
	// TryLock acquires the lock if it is free, and otherwise returns an
	// error of kind errors.Unavailable without waiting.
	TryLock() error
	// Unlock releases the lock.
	Unlock() error
}

// New returns a lock on the given path. The file is created when the
// lock is first acquired; it is never removed.
func New(path string) FileLock {
	return newPlatformLock(path)
}
