// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build unix

package flock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/devicelog/flock"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
)

func TestLock(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "flock")
	defer cleanup()

	ctx := context.Background()
	lockPath := tempDir + "/lock"
	lock := flock.New(lockPath)

	// Test uncontended locks
	for i := 0; i < 3; i++ {
		assert.NoError(t, lock.Lock(ctx))
		assert.NoError(t, lock.Unlock())
	}

	assert.NoError(t, lock.Lock(ctx))

	locked := int64(0)
	doneCh := make(chan struct{})
	go func() {
		if err := lock.Lock(ctx); err != nil {
			t.Error(err)
		}
		atomic.StoreInt64(&locked, 1)
		if err := lock.Unlock(); err != nil {
			t.Error(err)
		}
		atomic.StoreInt64(&locked, 2)
		doneCh <- struct{}{}
	}()

	time.Sleep(500 * time.Millisecond)
	if atomic.LoadInt64(&locked) != 0 {
		t.Errorf("locked=%d", locked)
	}

	assert.NoError(t, lock.Unlock())
	<-doneCh
	if atomic.LoadInt64(&locked) != 2 {
		t.Errorf("locked=%d", locked)
	}
}

func TestTryLock(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "flock")
	defer cleanup()

	lockPath := tempDir + "/lock"
	owner, other := flock.New(lockPath), flock.New(lockPath)
	assert.NoError(t, owner.TryLock())
	err := other.TryLock()
	assert.True(t, errors.Is(errors.Unavailable, err))
	err = owner.TryLock()
	assert.True(t, errors.Is(errors.Unavailable, err))
	assert.NoError(t, owner.Unlock())
	assert.NoError(t, other.TryLock())
	assert.NoError(t, other.Unlock())
}

func TestLockTimeout(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "flock")
	defer cleanup()

	lockPath := tempDir + "/lock"
	owner, waiter := flock.New(lockPath), flock.New(lockPath)
	assert.NoError(t, owner.TryLock())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := waiter.Lock(ctx)
	assert.True(t, errors.Is(errors.Timeout, err))
	assert.NoError(t, owner.Unlock())
}
