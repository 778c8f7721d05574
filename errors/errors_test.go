// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors_test

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/grailbio/devicelog/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestError(t *testing.T) {
	_, err := os.Open("/dev/notexist")
	e1 := errors.E(errors.NotExist, "opening index", err)
	if got, want := e1.Error(), "opening index: resource does not exist: open /dev/notexist: no such file or directory"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	e2 := errors.E(err)
	if got, want := e2.Error(), "resource does not exist: open /dev/notexist: no such file or directory"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	for _, e := range []error{e1, e2} {
		if !errors.Is(errors.NotExist, e) {
			t.Errorf("error %v should be NotExist", e)
		}
	}
}

func TestErrorChaining(t *testing.T) {
	err := errors.E(errors.Integrity, "checksum mismatch")
	err = errors.E("read packet 12", err)
	if got, want := err.Error(), "read packet 12: corrupt record:\n\tchecksum mismatch"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	assert.True(t, errors.Is(errors.Integrity, err))
	assert.EQ(t, errors.KindOf(err), errors.Integrity)
}

func TestClassify(t *testing.T) {
	_, pathErr := os.OpenFile("/dev/null/child", os.O_RDWR|os.O_CREATE, 0644)
	for _, c := range []struct {
		err  error
		kind errors.Kind
	}{
		{context.Canceled, errors.Canceled},
		{context.DeadlineExceeded, errors.Timeout},
		{io.ErrUnexpectedEOF, errors.Truncated},
		{pathErr, errors.IO},
		{fmt.Errorf("no idea"), errors.Other},
	} {
		expect.EQ(t, errors.KindOf(errors.E(c.err)), c.kind, c.err)
	}
}

func TestUnwrap(t *testing.T) {
	err := errors.E(errors.Truncated, "decode", io.ErrUnexpectedEOF)
	assert.True(t, goerrors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, errors.Is(errors.Truncated, err))
	assert.False(t, errors.Is(errors.Integrity, err))
}

func TestMatch(t *testing.T) {
	err := errors.E(errors.NotExist, "no data", errors.E(errors.OutOfRange, "key 7"))
	assert.True(t, errors.Match(errors.E(errors.NotExist), err))
	assert.True(t, errors.Match(errors.E(errors.NotExist, "no data"), err))
	assert.False(t, errors.Match(errors.E(errors.IO), err))
	assert.False(t, errors.Match(errors.E("other message"), err))
}

func TestBadArgument(t *testing.T) {
	err := errors.E(42)
	assert.True(t, errors.Is(errors.Invalid, err))
}

func TestOnce(t *testing.T) {
	e := errors.Once{Ignored: []error{io.EOF}}
	assert.NoError(t, e.Err())
	e.Set(io.EOF)
	assert.NoError(t, e.Err())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			e.Set(errors.E(errors.IO, "write"))
			wg.Done()
		}()
	}
	wg.Wait()
	assert.True(t, errors.Is(errors.IO, e.Err()))
}

func TestCleanUp(t *testing.T) {
	closeErr := errors.E(errors.IO, "close")
	got := func() (err error) {
		defer errors.CleanUp(func() error { return closeErr }, &err)
		return nil
	}()
	assert.EQ(t, got, closeErr)

	got = func() (err error) {
		defer errors.CleanUp(func() error { return closeErr }, &err)
		return errors.E(errors.Integrity, "decode")
	}()
	assert.True(t, errors.Is(errors.Integrity, got))
	expect.HasSubstr(t, got.Error(), "second error in close")

	got = func() (err error) {
		defer errors.CleanUp(func() error { return nil }, &err)
		return nil
	}()
	assert.NoError(t, got)
}
