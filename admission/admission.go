// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package admission implements the server's bounded admission counter.
//
// The counter is a small file holding the number of slots remaining,
// guarded by an advisory file lock so that the server and every client
// process observe the same count. A client acquires a slot before it
// may send a connect request.
//
// Slots are never released. The counter therefore bounds the lifetime
// client count of a server run, not its steady-state concurrency.
// This is a known limitation of the design, reproduced deliberately;
// see the package tests.
//
// The counter's file lock doubles as the single server-wide critical
// section that serializes all file-content operations; see Exclusive.
package admission

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"pipeshare.io/errors"
)

// Backoff is the interval between retries of a blocking Acquire.
const Backoff = 2 * time.Second

// Testing hook.
var sleep = time.Sleep

// Counter is a handle on the shared admission counter.
type Counter struct {
	path string

	// mu serializes lock holders within this process; the flock on f
	// serializes across processes. flock does not exclude users of
	// the same open file description, so both are needed.
	mu sync.Mutex
	f  *os.File
}

// Create creates (or resets) the counter at path with the given
// capacity. It is called once, by the server, at startup.
func Create(path string, capacity int) (*Counter, error) {
	const op = "admission.Create"
	if capacity < 1 {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("capacity %d", capacity))
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.E(op, path, errors.IO, err)
	}
	c := &Counter{path: path, f: f}
	if err := c.store(capacity); err != nil {
		f.Close()
		return nil, errors.E(op, path, err)
	}
	return c, nil
}

// Open opens an existing counter, created by a running server.
func Open(path string) (*Counter, error) {
	const op = "admission.Open"
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, path, errors.NotExist, errors.Str("no admission counter; is the server running?"))
		}
		return nil, errors.E(op, path, errors.IO, err)
	}
	return &Counter{path: path, f: f}, nil
}

// TryAcquire attempts to take one slot. If no slot is available it
// returns an error of kind Capacity and the caller must abandon the
// connection attempt.
func (c *Counter) TryAcquire() error {
	const op = "admission.TryAcquire"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.lock(); err != nil {
		return errors.E(op, c.path, err)
	}
	defer c.unlock()
	n, err := c.load()
	if err != nil {
		return errors.E(op, c.path, err)
	}
	if n <= 0 {
		return errors.E(op, errors.Capacity)
	}
	if err := c.store(n - 1); err != nil {
		return errors.E(op, c.path, err)
	}
	return nil
}

// Acquire takes one slot, retrying every Backoff interval until one is
// available. Each failed attempt writes a status line to status so a
// human watching the client knows it is queued, not stuck.
func (c *Counter) Acquire(status io.Writer) error {
	for {
		err := c.TryAcquire()
		if err == nil {
			return nil
		}
		if !errors.Is(errors.Capacity, err) {
			return err
		}
		fmt.Fprintln(status, "Server queue is full. Waiting for a spot...")
		sleep(Backoff)
	}
}

// Free returns the number of slots remaining.
func (c *Counter) Free() (int, error) {
	const op = "admission.Free"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.lock(); err != nil {
		return 0, errors.E(op, c.path, err)
	}
	defer c.unlock()
	n, err := c.load()
	if err != nil {
		return 0, errors.E(op, c.path, err)
	}
	return n, nil
}

// Exclusive runs fn while holding the counter's file lock. It is the
// scoped acquisition used to serialize every file read, write, upload
// and download body across all sessions: one server-wide critical
// section, coarser than strictly necessary but faithful to the
// design's concurrency discipline.
func (c *Counter) Exclusive(fn func() error) error {
	const op = "admission.Exclusive"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.lock(); err != nil {
		return errors.E(op, c.path, err)
	}
	defer c.unlock()
	return fn()
}

// Close releases the handle. The counter file itself is left in place
// for other processes; it is removed by the server's shutdown path.
func (c *Counter) Close() error {
	return c.f.Close()
}

// Path returns the location of the counter file.
func (c *Counter) Path() string {
	return c.path
}

func (c *Counter) lock() error {
	return unix.Flock(int(c.f.Fd()), unix.LOCK_EX)
}

func (c *Counter) unlock() error {
	return unix.Flock(int(c.f.Fd()), unix.LOCK_UN)
}

// load reads the slot count. Callers must hold the lock.
func (c *Counter) load() (int, error) {
	buf := make([]byte, 32)
	n, err := c.f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return 0, errors.E(errors.IO, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0, errors.E(errors.IO, errors.Errorf("corrupt admission counter: %v", err))
	}
	return v, nil
}

// store writes the slot count. Callers must hold the lock.
func (c *Counter) store(n int) error {
	if err := c.f.Truncate(0); err != nil {
		return errors.E(errors.IO, err)
	}
	if _, err := c.f.WriteAt([]byte(strconv.Itoa(n)), 0); err != nil {
		return errors.E(errors.IO, err)
	}
	return nil
}
