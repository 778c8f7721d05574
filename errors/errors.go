// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors implements the error type used throughout the
// device log. Errors carry an interpretable Kind so that callers can
// tell an empty query apart from an unreadable record, or a full
// index apart from a failing disk, without matching on strings.
// Errors may be chained: an error attributes itself to its cause, and
// the full chain is rendered by Error.
//
// Errors are usually constructed with E:
//
//	return errors.E(errors.NotExist, "ordinal", strconv.Itoa(n), "out of range")
//	return errors.E(errors.IO, "write journal", err)
package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/devicelog/log"
)

// Separator defines the separation string inserted between
// chained errors in error messages.
var Separator = ":\n\t"

// Kind defines the type of error. Kinds are semantically
// meaningful, and may be interpreted by the receiver of an error.
type Kind int

const (
	// Other indicates an unknown error.
	Other Kind = iota
	// Canceled indicates a context cancellation.
	Canceled
	// Timeout indicates an operation time out.
	Timeout
	// NotExist indicates that the requested ordinal, key range or
	// file has no corresponding data.
	NotExist
	// OutOfRange indicates a key outside the stored bounds that the
	// requested search mode cannot resolve.
	OutOfRange
	// IO indicates that an underlying file could not be opened,
	// seeked, read, or written.
	IO
	// Integrity indicates a corrupt record or index.
	Integrity
	// Truncated indicates that a record ended before it was complete.
	Truncated
	// UnknownType indicates a record whose payload kind is not
	// recognized.
	UnknownType
	// Capacity indicates that the ordinal space of an index is
	// exhausted. Such logs must be rotated.
	Capacity
	// Invalid indicates that the caller supplied invalid parameters.
	Invalid
	// Precondition indicates that a precondition was not met, e.g.,
	// the log was already closed.
	Precondition
	// Unavailable indicates that a resource was unavailable, e.g.,
	// the device log is locked by another process.
	Unavailable

	maxKind
)

var kinds = map[Kind]string{
	Other:        "unknown error",
	Canceled:     "operation was canceled",
	Timeout:      "operation timed out",
	NotExist:     "resource does not exist",
	OutOfRange:   "key out of range",
	IO:           "i/o error",
	Integrity:    "corrupt record",
	Truncated:    "unexpected end of record",
	UnknownType:  "unknown payload type",
	Capacity:     "capacity exhausted",
	Invalid:      "invalid argument",
	Precondition: "precondition failed",
	Unavailable:  "resource unavailable",
}

// String returns a human-readable explanation of the error kind k.
func (k Kind) String() string {
	return kinds[k]
}

// Error is the standard error type, carrying a kind (error code),
// message (error message), and potentially an underlying error.
// Errors should be constructed by errors.E, which interprets
// arguments according to a set of rules.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Message is an optional error message associated with this error.
	Message string
	// Err is the error that caused this error, if any.
	// Errors can form chains through Err: the full chain is printed
	// by Error().
	Err error
}

// E constructs a new errors from the provided arguments. It is meant
// as a convenient way to construct, annotate, and wrap errors.
//
// Arguments are interpreted according to their types:
//
//   - Kind: sets the Error's kind
//   - string: sets the Error's message; multiple strings are
//     separated by a single space
//   - *Error: copies the error and sets the error's cause
//   - error: sets the Error's cause
//
// If an unrecognized argument type is encountered, an error with
// kind Invalid is returned.
//
// If a kind is not provided, but an underlying error is, E attempts to
// interpret the underlying error according to a set of conventions,
// in order:
//
//   - If os.IsNotExist(error) returns true, its kind is set to NotExist.
//   - If the error is context.Canceled, its kind is set to Canceled.
//   - If the error implements interface { Timeout() bool } and
//     Timeout() returns true, then its kind is set to Timeout.
//   - If the error is io.ErrUnexpectedEOF, its kind is set to Truncated.
//   - If the error is an *os.PathError or *os.SyscallError, its kind
//     is set to IO.
//
// If the underlying error is another *Error, and a kind is not provided,
// the returned error inherits that error's kind.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	var msg strings.Builder
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case string:
			if msg.Len() > 0 {
				msg.WriteString(" ")
			}
			msg.WriteString(arg)
		case *Error:
			copy := *arg
			if len(args) == 1 {
				return &copy
			}
			e.Err = &copy
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Error.Printf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, arg)
			return &Error{
				Kind:    Invalid,
				Message: fmt.Sprintf("unknown type %T, value %v in error call", arg, arg),
			}
		}
	}
	e.Message = msg.String()
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind || e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
	default:
		if e.Kind != Other {
			break
		}
		e.Kind = classify(e.Err)
	}
	return e
}

func classify(err error) Kind {
	var (
		pathErr    *os.PathError
		syscallErr *os.SyscallError
	)
	switch {
	case os.IsNotExist(err):
		return NotExist
	case err == context.Canceled:
		return Canceled
	case err == io.ErrUnexpectedEOF:
		return Truncated
	}
	if terr, ok := err.(interface{ Timeout() bool }); ok && terr.Timeout() {
		return Timeout
	}
	if errors.As(err, &pathErr) || errors.As(err, &syscallErr) {
		return IO
	}
	return Other
}

// Recover recovers any error into an *Error. If the passed-in Error is already
// an error, it is simply returned; otherwise it is wrapped in an error.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Error returns a human readable string describing this error.
// It uses the separator defined by errors.Separator.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b bytes.Buffer
	e.writeError(&b)
	return b.String()
}

func (e *Error) writeError(b *bytes.Buffer) {
	if e.Message != "" {
		pad(b, ": ")
		b.WriteString(e.Message)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err == nil {
		return
	}
	if err, ok := e.Err.(*Error); ok {
		pad(b, Separator)
		b.WriteString(err.Error())
	} else {
		pad(b, ": ")
		b.WriteString(e.Err.Error())
	}
}

// Unwrap returns the cause of e, so that the standard library's
// errors.Is and errors.As can traverse the chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout tells whether this error is a timeout error.
func (e *Error) Timeout() bool {
	return e.Kind == Timeout
}

// Is tells whether an error has a specified kind, except for the
// indeterminate kind Other. In the case an error has kind Other, the
// chain is traversed until a non-Other error is encountered.
func Is(kind Kind, err error) bool {
	if err == nil {
		return false
	}
	return is(kind, Recover(err))
}

func is(kind Kind, e *Error) bool {
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		if e2, ok := e.Err.(*Error); ok {
			return is(kind, e2)
		}
	}
	return false
}

// KindOf returns the kind of err, traversing chained errors of kind
// Other. It returns Other for nil errors.
func KindOf(err error) Kind {
	for e := Recover(err); e != nil; {
		if e.Kind != Other {
			return e.Kind
		}
		next, ok := e.Err.(*Error)
		if !ok {
			break
		}
		e = next
	}
	return Other
}

// Match tells whether every nonempty field in err1
// matches the corresponding fields in err2. The comparison
// recurses on chained errors. Match is designed to aid in
// testing errors.
func Match(err1, err2 error) bool {
	var (
		e1 = Recover(err1)
		e2 = Recover(err2)
	)
	if e1.Kind != Other && e1.Kind != e2.Kind {
		return false
	}
	if e1.Message != "" && e1.Message != e2.Message {
		return false
	}
	if e1.Err != nil {
		if e2.Err == nil {
			return false
		}
		switch e1.Err.(type) {
		case *Error:
			return Match(e1.Err, e2.Err)
		default:
			return e1.Err.Error() == e2.Err.Error()
		}
	}
	return true
}

// New is synonymous with errors.New, and is provided here so that
// users need only import one errors package.
func New(msg string) error {
	return errors.New(msg)
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}
