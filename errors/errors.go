// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used by all pipeshare software.
package errors

import (
	"bytes"
	"fmt"

	"pipeshare.io/pipeshare"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Name is the file or channel name of the item being accessed.
	Name string
	// Client is the identity of the client attempting the operation.
	Client pipeshare.ClientID
	// Op is the operation being performed, usually the name of the
	// method being invoked (Acquire, OpenReader, readF, etc.).
	Op string
	// Kind is the class of error, such as a missing file,
	// or "Other" if its class is unknown or irrelevant.
	Kind Kind
	// The underlying error that triggered this one, if any.
	Err error
}

var (
	_       error = (*Error)(nil)
	zeroErr Error
)

// Separator is the string used to separate nested errors. By
// default, to make errors easier on the eye, nested errors are
// indented on a new line. A server may instead choose to keep each
// error on a single line by modifying the separator string, perhaps
// to ":: ".
var Separator = ":\n\t"

// Kind defines the kind of error this is. Session workers act
// differently depending on the kind: file-content errors are reported
// to the client and the session continues, while channel errors are
// fatal to the worker.
type Kind uint8

// Kinds of errors.
const (
	Other              Kind = iota // Unclassified error. This value is not printed in the error message.
	Invalid                        // Ill-formed request such as a bad command or file name.
	IO                             // External I/O error on a file.
	Exist                          // File already exists.
	NotExist                       // File does not exist.
	LineOutOfRange                 // Requested line number exceeds the file's line count.
	ChannelUnavailable             // Named channel cannot be created, opened, or written.
	Duplicate                      // Client identity is already connected.
	Capacity                       // No admission slot is available.
	Truncated                      // Peer closed the channel mid-transfer.
	Archive                        // External archiving tool failed.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid request"
	case IO:
		return "I/O error"
	case Exist:
		return "file already exists"
	case NotExist:
		return "file does not exist"
	case LineOutOfRange:
		return "line number out of range"
	case ChannelUnavailable:
		return "channel unavailable"
	case Duplicate:
		return "client already connected"
	case Capacity:
		return "server queue full"
	case Truncated:
		return "transfer truncated"
	case Archive:
		return "archive tool failed"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	pipeshare.ClientID
//		The identity of the client attempting the operation.
//	string
//		Treated as the operation name if no Op is set yet,
//		otherwise as the file or channel name being accessed.
//	errors.Kind
//		The class of error.
//	error
//		The underlying error that triggered this one.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("call to errors.E with no arguments")
	}
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case pipeshare.ClientID:
			e.Client = arg
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Name = arg
			}
		case Kind:
			e.Kind = arg
		case *Error:
			// Make a copy so the original is never modified.
			inner := *arg
			e.Err = &inner
		case error:
			e.Err = arg
		default:
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplications
	// so the message won't contain the same kind, file name or client
	// twice.
	if prev.Name == e.Name {
		prev.Name = ""
	}
	if prev.Client == e.Client {
		prev.Client = 0
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	// If this error has Kind unset or Other, pull up the inner one.
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
	if e.Name != "" {
		b.WriteString(e.Name)
	}
	if e.Client != 0 {
		pad(b, ", ")
		fmt.Fprintf(b, "client %d", e.Client)
	}
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(e.Op)
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		// Indent on new line if we are cascading non-empty pipeshare errors.
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

// Unwrap returns the underlying error, if any, so that Error values
// cooperate with the standard library's errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Recreate the errors.New functionality of the standard Go errors package
// so we can create simple text errors when needed.

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

// Errorf is equivalent to fmt.Errorf, but allows clients to import only
// this package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Match compares its two error arguments. It can be used to check for
// expected errors in tests. Both arguments must have underlying type
// *Error or Match will return false. Otherwise it returns true iff
// every non-zero element of the first error is equal to the
// corresponding element of the second. If the Err field is a *Error,
// Match recurs on that field; otherwise it compares the strings
// returned by the Error methods. Elements that are in the second
// argument but not present in the first are ignored.
func Match(err1, err2 error) bool {
	e1, ok := err1.(*Error)
	if !ok {
		return false
	}
	e2, ok := err2.(*Error)
	if !ok {
		return false
	}
	if e1.Name != "" && e2.Name != e1.Name {
		return false
	}
	if e1.Client != 0 && e2.Client != e1.Client {
		return false
	}
	if e1.Op != "" && e2.Op != e1.Op {
		return false
	}
	if e1.Kind != Other && e2.Kind != e1.Kind {
		return false
	}
	if e1.Err != nil {
		if e2.Err == nil {
			return false
		}
		if _, ok := e1.Err.(*Error); ok {
			return Match(e1.Err, e2.Err)
		}
		if e1.Err.Error() != e2.Err.Error() {
			return false
		}
	}
	return true
}

// Is reports whether err is an *Error of the given Kind.
// If err is nil then Is returns false.
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
