// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build unix

package flock

import (
	"context"
	"sync"

	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/log"
	"golang.org/x/sys/unix"
)

type unixlock struct {
	name string
	fd   int
	mu   sync.Mutex
}

func newPlatformLock(path string) FileLock {
	return &unixlock{name: path}
}

func (f *unixlock) Lock(ctx context.Context) (err error) {
	reqCh := make(chan func() error, 2)
	doneCh := make(chan error, 2)
	go func() {
		var err error
		for req := range reqCh {
			if err == nil {
				err = req()
			}
			doneCh <- err
		}
	}()
	reqCh <- f.doLock
	select {
	case <-ctx.Done():
		// The pending lock is released as soon as it is acquired.
		reqCh <- f.doUnlock
		err = errors.E("lock", f.name, ctx.Err())
	case err = <-doneCh:
	}
	close(reqCh)
	return err
}

func (f *unixlock) TryLock() error {
	if !f.mu.TryLock() {
		return errors.E(errors.Unavailable, "lock", f.name, "held by this process")
	}
	fd, err := unix.Open(f.name, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0644)
	if err != nil {
		f.mu.Unlock()
		return errors.E(errors.IO, "lock", f.name, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		f.mu.Unlock()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return errors.E(errors.Unavailable, "lock", f.name, "held by another owner")
		}
		return errors.E(errors.IO, "lock", f.name, err)
	}
	f.fd = fd
	return nil
}

func (f *unixlock) Unlock() error {
	return f.doUnlock()
}

func (f *unixlock) doLock() error {
	f.mu.Lock() // Serialize the lock within one process.

	var err error
	f.fd, err = unix.Open(f.name, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0644)
	if err != nil {
		f.mu.Unlock()
		return errors.E(errors.IO, "lock", f.name, err)
	}
	err = unix.Flock(f.fd, unix.LOCK_EX|unix.LOCK_NB)
	for err == unix.EWOULDBLOCK || err == unix.EAGAIN {
		log.Printf("waiting for lock %s", f.name)
		err = unix.Flock(f.fd, unix.LOCK_EX)
	}
	if err != nil {
		_ = unix.Close(f.fd)
		f.mu.Unlock()
		return errors.E(errors.IO, "lock", f.name, err)
	}
	return nil
}

func (f *unixlock) doUnlock() error {
	err := unix.Flock(f.fd, unix.LOCK_UN)
	if err := unix.Close(f.fd); err != nil {
		log.Error.Printf("close %s: %v", f.name, err)
	}
	f.mu.Unlock()
	if err != nil {
		return errors.E(errors.IO, "unlock", f.name, err)
	}
	return nil
}
