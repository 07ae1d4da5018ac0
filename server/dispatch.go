// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"pipeshare.io/errors"
	"pipeshare.io/fifo"
	"pipeshare.io/log"
	"pipeshare.io/pipeshare"
	"pipeshare.io/transfer"
	"pipeshare.io/valid"
)

// dispatch executes one non-transfer command and writes its response
// to the session channel. File-content errors become one text line for
// the requester and the session continues.
func (s *Server) dispatch(id pipeshare.ClientID, name, channel, keyword, rest string) {
	switch keyword {
	case pipeshare.CmdHelp:
		s.respond(channel, helpText(rest))
	case pipeshare.CmdList:
		s.respond(channel, s.list())
	case pipeshare.CmdReadF:
		s.readF(id, channel, rest)
	case pipeshare.CmdWriteT:
		s.writeT(id, channel, rest)
	case pipeshare.CmdDownload:
		s.download(id, channel, rest)
	case pipeshare.CmdArchServer:
		s.archive(id, channel, rest)
	default:
		s.journal.Event(log.ErrorEvent, id, fmt.Sprintf("invalid command from %s: %s", name, keyword))
		s.respond(channel, fmt.Sprintf("Invalid command: %s\n", keyword))
	}
}

// fail reports a file-content error to the requester as a single text
// line and records it in the journal.
func (s *Server) fail(id pipeshare.ClientID, channel string, err error) {
	s.journal.Event(log.ErrorEvent, id, err.Error())
	s.respond(channel, err.Error()+"\n")
}

// list returns the newline-joined entries of the served directory.
// An unreadable directory yields an empty listing; the failure is
// logged, not surfaced distinctly.
func (s *Server) list() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Error.Printf("server: list: %v", err)
		return ""
	}
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.Name())
		b.WriteByte('\n')
	}
	return b.String()
}

// readF returns the whole file, or exactly one 1-indexed line of it.
func (s *Server) readF(id pipeshare.ClientID, channel, args string) {
	const op = "readF"
	fields := strings.Fields(args)
	if len(fields) < 1 || len(fields) > 2 {
		s.fail(id, channel, errors.E(op, id, errors.Invalid, errors.Str("usage: readF <file> [line #]")))
		return
	}
	fname := fields[0]
	if err := valid.FileName(fname); err != nil {
		s.fail(id, channel, err)
		return
	}
	line := 0
	if len(fields) == 2 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || valid.LineNumber(n) != nil {
			s.fail(id, channel, errors.E(op, id, fname, errors.Invalid, errors.Errorf("bad line number %q", fields[1])))
			return
		}
		line = n
	}

	s.counter.Exclusive(func() error {
		f, err := os.Open(s.resolve(fname))
		if err != nil {
			s.fail(id, channel, errors.E(op, id, fname, errors.NotExist))
			return nil
		}
		defer f.Close()

		if line == 0 {
			// Whole file, streamed in chunks.
			w, err := fifo.OpenWriter(channel)
			if err != nil {
				log.Error.Printf("server: readF: %v", err)
				return nil
			}
			defer w.Close()
			if _, err := transfer.Stream(w, f); err != nil {
				log.Error.Printf("server: readF: %v", err)
			}
			return nil
		}

		text, err := fileLine(f, line)
		if err != nil {
			s.fail(id, channel, errors.E(op, id, fname, err))
			return nil
		}
		s.respond(channel, text)
		return nil
	})
}

// fileLine returns the 1-indexed line n of r, including its newline if
// the line has one.
func fileLine(r io.Reader, n int) (string, error) {
	br := bufio.NewReader(r)
	for i := 1; ; i++ {
		line, err := br.ReadString('\n')
		if i == n && line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", errors.E(errors.LineOutOfRange, errors.Errorf("line %d not found", n))
		}
		if err != nil {
			return "", errors.E(errors.IO, err)
		}
	}
}

// writeT appends text as a new line at end of file (line -1), or seeks
// past line-1 lines and writes from that byte offset onward. The seek
// form does not insert: it overwrites whatever trailing content is in
// the way.
func (s *Server) writeT(id pipeshare.ClientID, channel, args string) {
	const op = "writeT"
	fname, rest := firstWord(args)
	lineStr, text := firstWord(rest)
	if fname == "" || lineStr == "" {
		s.fail(id, channel, errors.E(op, id, errors.Invalid, errors.Str("usage: writeT <file> <line #|-1> <string>")))
		return
	}
	if err := valid.FileName(fname); err != nil {
		s.fail(id, channel, err)
		return
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || valid.WriteLineNumber(line) != nil {
		s.fail(id, channel, errors.E(op, id, fname, errors.Invalid, errors.Errorf("bad line number %q", lineStr)))
		return
	}

	s.counter.Exclusive(func() error {
		// The file is created if absent; writeT never fails on a
		// missing file.
		f, err := os.OpenFile(s.resolve(fname), os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			s.fail(id, channel, errors.E(op, id, fname, errors.IO, err))
			return nil
		}
		defer f.Close()

		var offset int64
		if line == -1 {
			offset, err = f.Seek(0, io.SeekEnd)
		} else {
			offset, err = lineOffset(f, line)
		}
		if err != nil {
			s.fail(id, channel, errors.E(op, id, fname, errors.IO, err))
			return nil
		}
		if _, err := f.WriteAt([]byte(text+"\n"), offset); err != nil {
			s.fail(id, channel, errors.E(op, id, fname, errors.IO, err))
			return nil
		}
		s.respond(channel, "")
		return nil
	})
}

// lineOffset returns the byte offset just past line-1 lines of f. If
// the file has fewer lines, the offset is the end of the file.
func lineOffset(f *os.File, line int) (int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	br := bufio.NewReader(f)
	var offset int64
	for i := 1; i < line; i++ {
		text, err := br.ReadString('\n')
		offset += int64(len(text))
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// upload receives a length-prefixed payload from the client into a new
// file. The payload follows the request line on the same channel, so
// it is read through the worker's buffered reader. The response is a
// one-line status delivered after the payload.
func (s *Server) upload(id pipeshare.ClientID, channel, args string, br *bufio.Reader) error {
	const op = "upload"
	fields := strings.Fields(args)
	if len(fields) != 1 {
		drainUpload(br)
		s.fail(id, channel, errors.E(op, id, errors.Invalid, errors.Str("usage: upload <file>")))
		return nil
	}
	fname := fields[0]
	if err := valid.FileName(fname); err != nil {
		drainUpload(br)
		s.fail(id, channel, err)
		return nil
	}

	var size int64
	err := s.counter.Exclusive(func() error {
		path := s.resolve(fname)
		if _, err := os.Stat(path); err == nil {
			// The payload is already in flight; drain it to keep the
			// channel in sync before reporting the failure.
			drainUpload(br)
			return errors.E(op, id, fname, errors.Exist)
		}
		f, err := os.Create(path)
		if err != nil {
			drainUpload(br)
			return errors.E(op, id, fname, errors.IO, err)
		}
		size, err = transfer.Receive(br, f)
		f.Close()
		if err != nil {
			os.Remove(path)
			return errors.E(op, id, fname, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(errors.Truncated, err) {
			return err
		}
		s.fail(id, channel, err)
		return nil
	}
	s.respond(channel, fmt.Sprintf("%d bytes transferred\n", size))
	return nil
}

// drainUpload consumes and discards a length-prefixed payload so a
// rejected upload leaves no stray bytes on the channel.
func drainUpload(br *bufio.Reader) {
	transfer.Receive(br, io.Discard)
}

// download streams the named file to the client. There is no length
// field: closing the write end is the transfer-complete signal, and
// that asymmetry with upload is intentional.
func (s *Server) download(id pipeshare.ClientID, channel, args string) {
	const op = "download"
	fields := strings.Fields(args)
	if len(fields) != 1 {
		s.fail(id, channel, errors.E(op, id, errors.Invalid, errors.Str("usage: download <file>")))
		return
	}
	fname := fields[0]
	if err := valid.FileName(fname); err != nil {
		s.fail(id, channel, err)
		return
	}
	s.counter.Exclusive(func() error {
		s.sendFile(id, channel, op, fname, s.resolve(fname))
		return nil
	})
}

// sendFile implements the outbound half of the codec for download and
// archive retrieval: a full pre-scan for the exact byte length, then
// EOF-terminated streaming.
func (s *Server) sendFile(id pipeshare.ClientID, channel, op, fname, path string) {
	f, err := os.Open(path)
	if err != nil {
		s.fail(id, channel, errors.E(op, id, fname, errors.NotExist))
		return
	}
	defer f.Close()
	size, err := transfer.SizeByScan(f)
	if err != nil {
		s.fail(id, channel, errors.E(op, id, fname, err))
		return
	}
	w, err := fifo.OpenWriter(channel)
	if err != nil {
		log.Error.Printf("server: %s: %v", op, err)
		return
	}
	defer w.Close()
	n, err := transfer.Stream(w, f)
	if err != nil {
		log.Error.Printf("server: %s: %v", op, err)
		return
	}
	if n != size {
		log.Error.Printf("server: %s: sent %d bytes, expected %d", op, n, size)
	}
}
