// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bufio"
	"io"
	"strings"
	"time"

	"pipeshare.io/errors"
	"pipeshare.io/fifo"
	"pipeshare.io/log"
	"pipeshare.io/pipeshare"
)

// openRetry bounds the worker's wait for the client to create its
// session channel. The client creates the channel before sending its
// identity, so in practice the first attempt succeeds; the retry
// covers a slow filesystem.
const (
	openRetries  = 40
	openInterval = 50 * time.Millisecond
)

// session runs one client's command loop until quit, killServer, or a
// channel error. A panic in a session must not take down the listener
// or other sessions, so the worker recovers and reports the client as
// disconnected.
func (s *Server) session(id pipeshare.ClientID, name, channel string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error.Printf("server: session %s: panic: %v", name, r)
			s.journal.Event(log.ErrorEvent, id, "session aborted by panic")
			fifo.Remove(channel)
			s.disconnects <- id
		}
	}()

	for {
		r, err := s.openSession(channel)
		if err != nil {
			// Channel errors are fatal to the worker.
			log.Error.Printf("server: session %s: %v", name, err)
			s.journal.Event(log.ErrorEvent, id, err.Error())
			fifo.Remove(channel)
			s.disconnects <- id
			return
		}

		br := bufio.NewReaderSize(r, pipeshare.MaxRequest)
		req, err := readRequest(br)
		if err == io.EOF {
			// The client opened and closed without a request.
			r.Close()
			continue
		}
		if err != nil {
			log.Error.Printf("server: session %s: read request: %v", name, err)
			s.journal.Event(log.ErrorEvent, id, err.Error())
			r.Close()
			fifo.Remove(channel)
			s.disconnects <- id
			return
		}

		s.journal.Event(log.Request, id, req)

		done := s.handle(id, name, channel, req, br)
		r.Close()
		if done {
			return
		}
	}
}

// openSession opens the read end of the session channel, retrying
// briefly if the client has not created it yet.
func (s *Server) openSession(channel string) (io.ReadCloser, error) {
	var err error
	for i := 0; i < openRetries; i++ {
		var r io.ReadCloser
		r, err = fifo.OpenReader(channel)
		if err == nil {
			return r, nil
		}
		time.Sleep(openInterval)
	}
	return nil, err
}

// handle dispatches one request. It reports whether the session is
// over. The quit and killServer paths acknowledge with the 4-byte
// literal before tearing the session down; every other command is
// delegated to the dispatcher, which writes its own response.
func (s *Server) handle(id pipeshare.ClientID, name, channel, req string, br *bufio.Reader) (done bool) {
	keyword, rest := firstWord(req)
	switch keyword {
	case pipeshare.CmdQuit:
		s.ack(channel)
		s.printf(">> %s disconnected\n", name)
		s.journal.Event(log.Disconnect, id, name+" disconnected")
		fifo.Remove(channel)
		s.disconnects <- id
		return true

	case pipeshare.CmdKillServer:
		s.ack(channel)
		fifo.Remove(channel)
		s.kill(id, name) // does not return
		return true

	case pipeshare.CmdUpload:
		// The upload payload follows the request line on the same
		// channel, so the dispatcher needs the buffered reader.
		err := s.upload(id, channel, rest, br)
		if errors.Is(errors.Truncated, err) {
			// A peer that vanished mid-transfer ends the session.
			s.journal.Event(log.ErrorEvent, id, err.Error())
			fifo.Remove(channel)
			s.disconnects <- id
			return true
		}
		return false

	default:
		s.dispatch(id, name, channel, keyword, rest)
		return false
	}
}

// ack writes the 4-byte teardown acknowledgment.
func (s *Server) ack(channel string) {
	w, err := fifo.OpenWriter(channel)
	if err != nil {
		log.Debug.Printf("server: ack: %v", err)
		return
	}
	w.Write([]byte(pipeshare.QuitAck))
	w.Close()
}

// respond delivers a response on the session channel. Closing the
// write end tells the client the response is complete.
func (s *Server) respond(channel, text string) {
	w, err := fifo.OpenWriter(channel)
	if err != nil {
		log.Error.Printf("server: respond: %v", err)
		return
	}
	defer w.Close()
	if _, err := io.WriteString(w, text); err != nil {
		log.Error.Printf("server: respond: %v", err)
	}
}

// readRequest reads one request line, at most pipeshare.MaxRequest
// bytes. A longer request is truncated at the buffer size, not
// reassembled. The trailing newline is stripped.
func readRequest(br *bufio.Reader) (string, error) {
	line, err := br.ReadSlice('\n')
	switch err {
	case nil, bufio.ErrBufferFull:
		// ErrBufferFull means the request exceeded the buffer;
		// keep what fits.
	case io.EOF:
		if len(line) == 0 {
			return "", io.EOF
		}
	default:
		return "", err
	}
	return strings.TrimRight(string(line), "\n"), nil
}
