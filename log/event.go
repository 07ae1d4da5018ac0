// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"pipeshare.io/pipeshare"
)

// EventKind classifies a journal record.
type EventKind string

// Kinds of journal records, one per notable event in a client's life.
const (
	Connect    EventKind = "connect"
	Request    EventKind = "request"
	Disconnect EventKind = "disconnect"
	ErrorEvent EventKind = "error"
)

// EventLog is the server's append-only journal. Each record is one
// text line of the form
//
//	[kind] identity detail
//
// The journal is never truncated during a run; it is appended to if
// the file already exists.
type EventLog struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// OpenEvents opens (creating if necessary) the journal at path.
func OpenEvents(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return &EventLog{w: f}, nil
}

// NewEventLog returns a journal writing to w. It exists for tests.
func NewEventLog(w io.WriteCloser) *EventLog {
	return &EventLog{w: w}
}

// Event appends one record to the journal. Write failures are reported
// to the error logger rather than the caller; the journal is a sink,
// not a dependency of the protocol.
func (l *EventLog) Event(kind EventKind, id pipeshare.ClientID, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	if _, err := fmt.Fprintf(l.w, "[%s] %d %s\n", kind, id, detail); err != nil {
		Error.Printf("log: journal write: %v", err)
	}
}

// Close closes the journal. Further Events are dropped.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
