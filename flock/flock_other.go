// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build !unix

package flock

import (
	"context"

	"github.com/grailbio/devicelog/errors"
)

type nolock struct{ name string }

func newPlatformLock(path string) FileLock {
	return nolock{path}
}

func (l nolock) Lock(context.Context) error {
	return errors.E(errors.Unavailable, "lock", l.name, "advisory locks are not supported on this platform")
}

func (l nolock) TryLock() error {
	return l.Lock(context.Background())
}

func (nolock) Unlock() error { return nil }
