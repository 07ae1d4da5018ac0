// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pipeshare.io/errors"
	"pipeshare.io/log"
	"pipeshare.io/pipeshare"
	"pipeshare.io/valid"
)

// archive collects the current contents of the served directory into a
// tar archive and sends it to the client through the download codec.
// The tar utility is an external collaborator: it either produces the
// archive or fails with a nonzero status, which is reported as a
// status line and not retried.
func (s *Server) archive(id pipeshare.ClientID, channel, args string) {
	const op = "archServer"
	fields := strings.Fields(args)
	if len(fields) != 1 {
		s.fail(id, channel, errors.E(op, id, errors.Invalid, errors.Str("usage: archServer <name>.tar")))
		return
	}
	aname := fields[0]
	if err := valid.FileName(aname); err != nil {
		s.fail(id, channel, err)
		return
	}

	// The archive is created outside the served directory so it never
	// appears in list output; the exclude covers a client archiving
	// into a name that already exists server-side.
	tmp, err := os.MkdirTemp("", "pipeshare-archive")
	if err != nil {
		s.fail(id, channel, errors.E(op, id, aname, errors.IO, err))
		return
	}
	defer os.RemoveAll(tmp)
	apath := filepath.Join(tmp, aname)

	s.printf("Archiving the current contents of the server...\n")
	cmd := exec.Command("tar", "-C", s.dir, "--exclude", aname, "-cf", apath, ".")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		s.fail(id, channel, errors.E(op, id, aname, errors.Archive, err))
		return
	}
	s.printf("Calling tar utility .. child PID %d\n", cmd.Process.Pid)
	if err := cmd.Wait(); err != nil {
		s.journal.Event(log.ErrorEvent, id, fmt.Sprintf("archive tool failed: %v", err))
		s.fail(id, channel, errors.E(op, id, aname, errors.Archive, errors.Errorf("%v: %s", err, strings.TrimSpace(out.String()))))
		return
	}
	s.printf("Child returned with SUCCESS..\n")

	count, bytes := s.dirStats()
	s.printf("%d files archived ..%d bytes transferred..\n", count, bytes)
	s.printf("SUCCESS Server side files are archived in %q\n", aname)
	s.journal.Event(log.Request, id, fmt.Sprintf("archived %d files, %d bytes into %s", count, bytes, aname))

	// The archive is delivered with the download codec, verbatim:
	// EOF-terminated streaming.
	s.counter.Exclusive(func() error {
		s.sendFile(id, channel, op, aname, apath)
		return nil
	})
}

// dirStats counts the regular files in the served directory and their
// total size.
func (s *Server) dirStats() (count int, total int64) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Error.Printf("server: archive stats: %v", err)
		return 0, 0
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		total += info.Size()
	}
	return count, total
}
