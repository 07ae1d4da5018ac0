// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server implements the pipeshare server: the rendezvous
// listener on the well-known channel, one session worker per
// connected client, and the command dispatcher.
package server

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pipeshare.io/admission"
	"pipeshare.io/errors"
	"pipeshare.io/fifo"
	"pipeshare.io/log"
	"pipeshare.io/pipeshare"
	"pipeshare.io/shutdown"
)

// Config collects the parameters for New.
type Config struct {
	// Directory is the directory the server owns. It is created
	// fresh at startup: previous contents are destroyed.
	Directory string

	// MaxClients is the admission capacity.
	MaxClients int

	// ChannelDir holds the well-known channel, the session channels,
	// and the admission counter. Defaults to the system temporary
	// directory.
	ChannelDir string

	// LogFile names the append-only journal. If empty the journal is
	// placed next to Directory, outside it, so that list reflects
	// only shared files.
	LogFile string

	// Stdout receives the server's human-visible status lines.
	// Defaults to os.Stdout.
	Stdout io.Writer
}

// Server is the state owned by the rendezvous listener: the connected
// set, the locally tracked client count, the display-name counter, the
// admission counter and the journal. Session workers communicate with
// the listener only through the disconnect channel.
type Server struct {
	dir        string
	maxClients int
	channelDir string
	channel    string // well-known channel path
	counter    *admission.Counter
	journal    *log.EventLog

	nameIndex int // display names are monotonic and never reused
	current   int // authoritative for rejection, unlike the admission counter

	mu        sync.Mutex // guards connected and sessions
	connected map[pipeshare.ClientID]string
	sessions  map[pipeshare.ClientID]string

	disconnects chan pipeshare.ClientID

	outMu  sync.Mutex
	stdout io.Writer
}

// New initializes a server: it recreates the served directory from
// scratch, opens the journal, creates the admission counter at the
// configured capacity, and registers the teardown handler.
func New(cfg Config) (*Server, error) {
	const op = "server.New"
	if cfg.Directory == "" {
		return nil, errors.E(op, errors.Invalid, errors.Str("no directory"))
	}
	if cfg.MaxClients < 1 {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("maxClients %d", cfg.MaxClients))
	}
	dir, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, errors.E(op, cfg.Directory, errors.IO, err)
	}

	// The directory is created fresh; a previous run's contents are
	// destroyed.
	if err := os.RemoveAll(dir); err != nil {
		return nil, errors.E(op, dir, errors.IO, err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.E(op, dir, errors.IO, err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = dir + ".log"
	}
	journal, err := log.OpenEvents(logFile)
	if err != nil {
		return nil, errors.E(op, logFile, errors.IO, err)
	}

	channelDir := cfg.ChannelDir
	if channelDir == "" {
		channelDir = os.TempDir()
	}
	counter, err := admission.Create(filepath.Join(channelDir, pipeshare.SlotsFile), cfg.MaxClients)
	if err != nil {
		journal.Close()
		return nil, errors.E(op, err)
	}

	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	s := &Server{
		dir:         dir,
		maxClients:  cfg.MaxClients,
		channelDir:  channelDir,
		channel:     filepath.Join(channelDir, pipeshare.ServerChannel),
		counter:     counter,
		journal:     journal,
		nameIndex:   1,
		connected:   make(map[pipeshare.ClientID]string),
		sessions:    make(map[pipeshare.ClientID]string),
		disconnects: make(chan pipeshare.ClientID, cfg.MaxClients+1),
		stdout:      stdout,
	}

	// A channel left behind by a dead server would make the first
	// rendezvous hang on a phantom peer, so start from a fresh one.
	// It must exist before Serve's accept loop runs: clients connect
	// as soon as New returns.
	if err := fifo.Remove(s.channel); err != nil {
		return nil, errors.E(op, err)
	}
	if err := fifo.Create(s.channel); err != nil {
		return nil, errors.E(op, err)
	}

	// Errors delivered to clients are single text lines.
	errors.Separator = ":: "

	shutdown.Handle(s.teardown)

	s.printf(">> Server Started PID %d\n", os.Getpid())
	return s, nil
}

// Serve runs the accept loop. It is strictly sequential: one client's
// accept, reject, or spawn completes before the next identity is read
// from the well-known channel. Serve returns only on a listener error
// it cannot recover from.
func (s *Server) Serve() error {
	const op = "server.Serve"
	s.printf(">> waiting for clients...\n")
	for {
		s.reap()

		if s.current == 0 {
			if err := fifo.Create(s.channel); err != nil {
				return errors.E(op, err)
			}
		}

		id, err := s.accept()
		if err != nil {
			log.Error.Printf("server: accept: %v", err)
			continue
		}

		s.mu.Lock()
		_, dup := s.connected[id]
		s.mu.Unlock()
		if dup {
			// Silently dropped; the client retries.
			s.journal.Event(log.ErrorEvent, id, "duplicate connection attempt rejected")
			log.Debug.Printf("server: duplicate connection attempt from %d", id)
			continue
		}
		if s.current >= s.maxClients {
			s.printf(">> Connection request PID %d rejected. Queue FULL\n", id)
			s.journal.Event(log.ErrorEvent, id, "connection rejected: queue full")
			continue
		}

		name := fmt.Sprintf("client%02d", s.nameIndex)
		s.nameIndex++
		channel := filepath.Join(s.channelDir, pipeshare.SessionChannel(id))
		s.mu.Lock()
		s.connected[id] = name
		s.sessions[id] = channel
		s.mu.Unlock()

		s.journal.Event(log.Connect, id, fmt.Sprintf("connected as %q", name))
		s.printf(">> Client PID %d connected as %q\n", id, name)

		go s.session(id, name, channel)

		// Incremented only after the worker is spawned, so a spawn
		// failure cannot consume a slot.
		s.current++
	}
}

// accept performs one open/read/close cycle on the well-known channel
// and returns the identity it carried. It blocks until a client writes.
func (s *Server) accept() (pipeshare.ClientID, error) {
	const op = "server.accept"
	r, err := fifo.OpenReader(s.channel)
	if err != nil {
		return 0, errors.E(op, err)
	}
	defer r.Close()
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.E(op, errors.ChannelUnavailable, err)
	}
	return pipeshare.ClientID(binary.LittleEndian.Uint64(buf[:])), nil
}

// reap drains pending disconnect reports from session workers and
// updates the listener's bookkeeping. It is the analogue of reaping
// terminated worker processes.
func (s *Server) reap() {
	for {
		select {
		case id := <-s.disconnects:
			s.mu.Lock()
			delete(s.connected, id)
			delete(s.sessions, id)
			s.mu.Unlock()
			s.current--
		default:
			return
		}
	}
}

// kill handles a killServer request from the named client: it reports
// the shutdown and terminates the whole process. The teardown handler
// removes every session channel, so other connected clients observe a
// broken channel on their next request.
func (s *Server) kill(id pipeshare.ClientID, name string) {
	s.journal.Event(log.Request, id, "killServer: terminating")
	s.printf(">> kill signal from %s.. terminating...\n", name)
	s.printf(">> bye\n")
	shutdown.Now(0)
}

// teardown broadcasts termination: it unlinks every session channel,
// the well-known channel and the admission counter, then closes the
// journal. Best-effort and asynchronous; no acknowledgment is awaited.
func (s *Server) teardown() {
	s.mu.Lock()
	for _, channel := range s.sessions {
		fifo.Remove(channel)
	}
	s.mu.Unlock()
	fifo.Remove(s.channel)
	os.Remove(s.counter.Path())
	s.counter.Close()
	s.journal.Close()
}

func (s *Server) printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.stdout, format, args...)
}

// resolve maps a request's file argument to a path inside the served
// directory. Arguments are bare names; anything else was rejected by
// the validator.
func (s *Server) resolve(name string) string {
	return filepath.Join(s.dir, name)
}

// firstWord splits a request line into its command keyword and the
// remainder. Keywords match exactly: "download" is never matched by a
// shorter "down" prefix because the split is on the separator, not on
// a prefix test.
func firstWord(req string) (keyword, rest string) {
	keyword, rest, _ = strings.Cut(req, " ")
	return keyword, strings.TrimLeft(rest, " ")
}
