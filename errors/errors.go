// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used throughout WiscKey.
package errors

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Op is the operation being performed, usually the name of the
	// method being invoked (AddRecord, ReadRecord, PickForCleaning...).
	Op Op
	// Kind is the class of error, such as corruption or I/O failure,
	// or Other if its class is unknown or irrelevant.
	Kind Kind
	// The underlying error that triggered this one, if any.
	Err error
}

// Op describes an operation, usually as the package and method,
// such as "vlog.Reader.ReadRecord".
type Op string

var (
	_       error = (*Error)(nil)
	zeroErr Error
)

// Separator is the string used to separate nested errors. By
// default, to make errors easier on the eye, nested errors are
// indented on a new line.
var Separator = ":\n\t"

// Kind defines the kind of error this is.
type Kind uint8

// Kinds of errors.
const (
	Other      Kind = iota // Unclassified error. Not printed in the error message.
	Invalid                // Bad argument or programmer error, such as an invariant violation.
	IO                     // External I/O error such as a disk read/write failure.
	Corruption             // On-disk data failed its checksum or is otherwise malformed.
	Exist                  // Item already exists.
	NotExist               // Item does not exist.
	Internal               // Internal invariant broken; should not happen in correct operation.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case IO:
		return "I/O error"
	case Corruption:
		return "data corruption"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case Internal:
		return "internal error"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	errors.Op
//		The operation being performed.
//	errors.Kind
//		The class of error.
//	error
//		The underlying error that triggered this one.
//	string
//		Treated as the result of errors.Str, for ad hoc messages.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case Op:
			e.Op = arg
		case Kind:
			e.Kind = arg
		case *Error:
			// Make a copy.
			e.Err = &Error{
				Op:   arg.Op,
				Kind: arg.Kind,
				Err:  arg.Err,
			}
		case error:
			e.Err = arg
		case string:
			e.Err = Str(arg)
		default:
			_, file, line, _ := runtime.Caller(1)
			return Errorf("errors.E: bad call from %s:%d: %v", file, line, args)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}
	// The previous error was also one of ours. Suppress duplication so
	// the message won't contain the same op or kind twice.
	if prev.Op == e.Op {
		prev.Op = ""
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(string(e.Op))
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if prevErr, ok := e.Err.(*Error); ok {
			if *prevErr != zeroErr {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Is reports whether err is an *Error of the given Kind, looking through
// any chain of wrapped *Error values.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		return Is(kind, e.Err)
	}
	return false
}

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

// errorString is a trivial implementation of error.
type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but returns a value of the
// package's own error type so clients need import only this package
// for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Match reports whether every non-zero field of template is equal to the
// corresponding field of err, recursing through wrapped *Error values.
// It is used by tests to check that the right kind of error was returned
// without over-specifying the message text.
func Match(template, err error) bool {
	te, ok := template.(*Error)
	if !ok {
		return strings.Contains(err.Error(), template.Error())
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if te.Op != "" && te.Op != e.Op {
		return false
	}
	if te.Kind != Other && te.Kind != e.Kind {
		return false
	}
	if te.Err != nil {
		if e.Err == nil {
			return false
		}
		return Match(te.Err, e.Err)
	}
	return true
}
