// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fifo provides the named channel abstraction used for all
// interprocess communication on the local host. A channel is a POSIX
// FIFO: a filesystem-visible rendezvous point through which one reader
// and one writer exchange a byte stream. Creation and connection are
// separate steps; opening either end blocks until a peer opens the
// complementary end.
package fifo

import (
	"os"

	"golang.org/x/sys/unix"

	"pipeshare.io/errors"
)

const perm = 0666

// Create creates the named channel. A channel left behind by an
// earlier process under the same name is treated as our own: creation
// is idempotent.
func Create(name string) error {
	const op = "fifo.Create"
	if err := unix.Mkfifo(name, perm); err != nil {
		if err == unix.EEXIST {
			return nil
		}
		return errors.E(op, name, errors.ChannelUnavailable, err)
	}
	return nil
}

// OpenReader opens the read end of the named channel. It blocks until
// a peer opens the write end. Reads return io.EOF once the writer has
// closed. If the name has no backing channel the error has kind
// ChannelUnavailable.
func OpenReader(name string) (*os.File, error) {
	const op = "fifo.OpenReader"
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.E(op, name, errors.ChannelUnavailable, err)
	}
	return f, nil
}

// OpenWriter opens the write end of the named channel. It blocks until
// a peer opens the read end. A write after the reader has gone away
// fails with EPIPE, which callers should treat as a broken channel.
func OpenWriter(name string) (*os.File, error) {
	const op = "fifo.OpenWriter"
	f, err := os.OpenFile(name, os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.E(op, name, errors.ChannelUnavailable, err)
	}
	return f, nil
}

// Remove unlinks the named channel. Removing a name that is already
// gone is a no-op.
func Remove(name string) error {
	const op = "fifo.Remove"
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return errors.E(op, name, errors.IO, err)
	}
	return nil
}
