// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client implements the pipeshare client: the connect
// handshake, the interactive request loop, and the client halves of
// the transfer codec.
package client

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"pipeshare.io/admission"
	"pipeshare.io/errors"
	"pipeshare.io/fifo"
	"pipeshare.io/pipeshare"
	"pipeshare.io/transfer"
)

// Client is one client's connection to a pipeshare server.
type Client struct {
	id         pipeshare.ClientID
	serverPID  int
	channelDir string
	channel    string // session channel path
	stdout     io.Writer
}

// New returns an unconnected client for the server with the given
// process id. The client's own process id is its identity.
func New(serverPID int, channelDir string, stdout io.Writer) *Client {
	if channelDir == "" {
		channelDir = os.TempDir()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	id := pipeshare.ClientID(os.Getpid())
	return &Client{
		id:         id,
		serverPID:  serverPID,
		channelDir: channelDir,
		channel:    filepath.Join(channelDir, pipeshare.SessionChannel(id)),
		stdout:     stdout,
	}
}

// Dial connects to the server: it verifies the server process is
// alive, acquires an admission slot according to mode, creates the
// session channel, and sends the 8-byte identity on the well-known
// channel. In Wait mode a full queue is retried every two seconds; in
// Try mode a full queue means the attempt is abandoned and the caller
// exits successfully.
func (c *Client) Dial(mode pipeshare.ConnectMode) error {
	const op = "client.Dial"
	if !c.serverRunning() {
		return errors.E(op, errors.NotExist, errors.Errorf("server with PID %d is not running", c.serverPID))
	}

	counter, err := admission.Open(filepath.Join(c.channelDir, pipeshare.SlotsFile))
	if err != nil {
		return errors.E(op, err)
	}
	defer counter.Close()

	switch mode {
	case pipeshare.Wait:
		fmt.Fprintln(c.stdout, "Wait for a spot in the server queue...")
		if err := counter.Acquire(c.stdout); err != nil {
			return errors.E(op, err)
		}
	case pipeshare.Try:
		if err := counter.TryAcquire(); err != nil {
			return errors.E(op, err)
		}
	default:
		return errors.E(op, errors.Invalid, errors.Errorf("bad mode %d", mode))
	}

	// The session channel must exist before the handshake: the worker
	// spawned for us opens it immediately.
	if err := fifo.Create(c.channel); err != nil {
		return errors.E(op, err)
	}

	w, err := fifo.OpenWriter(filepath.Join(c.channelDir, pipeshare.ServerChannel))
	if err != nil {
		fifo.Remove(c.channel)
		return errors.E(op, err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(c.id))
	_, err = w.Write(buf[:])
	w.Close()
	if err != nil {
		fifo.Remove(c.channel)
		return errors.E(op, errors.ChannelUnavailable, err)
	}

	fmt.Fprintln(c.stdout, "Connected to the server.")
	return nil
}

// Run reads requests from in and executes them until quit, killServer,
// or end of input. End of input behaves like quit.
func (c *Client) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.stdout, ">> Enter command (type 'help' for available commands): ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return c.Quit()
		}
		req := strings.TrimSpace(scanner.Text())
		if req == "" {
			continue
		}
		done, err := c.Do(req)
		if err != nil {
			fmt.Fprintln(c.stdout, err)
			if errors.Is(errors.ChannelUnavailable, err) {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// Do executes one request line and reports whether the session is
// over.
func (c *Client) Do(req string) (done bool, err error) {
	keyword, rest, _ := strings.Cut(req, " ")
	rest = strings.TrimSpace(rest)
	switch keyword {
	case pipeshare.CmdUpload:
		return false, c.Upload(rest)
	case pipeshare.CmdDownload:
		return false, c.Download(rest)
	case pipeshare.CmdArchServer:
		return false, c.Archive(rest)
	case pipeshare.CmdQuit:
		return true, c.Quit()
	case pipeshare.CmdKillServer:
		return true, c.KillServer()
	default:
		resp, err := c.Simple(req)
		if err != nil {
			return false, err
		}
		fmt.Fprint(c.stdout, resp)
		return false, nil
	}
}

// Simple sends a request and returns the server's full response.
func (c *Client) Simple(req string) (string, error) {
	if err := c.send(req); err != nil {
		return "", err
	}
	return c.response()
}

// Upload sends a local file to the server. The request line is
// followed on the same channel by the 8-byte length field and the raw
// bytes, in 4096-byte chunks. The server's one-line status (or error)
// comes back on the channel afterward.
func (c *Client) Upload(name string) error {
	const op = "client.Upload"
	if name == "" {
		return errors.E(op, errors.Invalid, errors.Str("usage: upload <file>"))
	}
	f, err := os.Open(name)
	if err != nil {
		return errors.E(op, name, errors.NotExist, err)
	}
	defer f.Close()
	size, err := transfer.SizeByScan(f)
	if err != nil {
		return errors.E(op, name, err)
	}

	w, err := fifo.OpenWriter(c.channel)
	if err != nil {
		return errors.E(op, err)
	}
	fmt.Fprintln(c.stdout, "file transfer request received. Beginning file transfer:")
	if _, err := io.WriteString(w, "upload "+filepath.Base(name)+"\n"); err != nil {
		w.Close()
		return errors.E(op, errors.ChannelUnavailable, err)
	}
	err = transfer.Send(w, f, size)
	w.Close()
	if err != nil {
		return errors.E(op, name, err)
	}

	resp, err := c.response()
	if err != nil {
		return errors.E(op, err)
	}
	fmt.Fprint(c.stdout, resp)
	return nil
}

// Download retrieves a file from the server into the client's working
// directory. The stream has no length field: end-of-stream from the
// server's closed write end is the completion signal.
func (c *Client) Download(name string) error {
	const op = "client.Download"
	if name == "" {
		return errors.E(op, errors.Invalid, errors.Str("usage: download <file>"))
	}
	if _, err := os.Stat(name); err == nil {
		return errors.E(op, name, errors.Exist, errors.Str("file already exists on the client side"))
	}
	n, err := c.receiveFile(pipeshare.CmdDownload+" "+name, name)
	if err != nil {
		return errors.E(op, name, err)
	}
	fmt.Fprintf(c.stdout, "%d bytes transferred\n", n)
	return nil
}

// Archive asks the server to archive its directory and retrieves the
// resulting tar file, then lists it to report the file count.
func (c *Client) Archive(name string) error {
	const op = "client.Archive"
	if name == "" || !strings.HasSuffix(name, ".tar") {
		return errors.E(op, errors.Invalid, errors.Str("usage: archServer <name>.tar"))
	}
	fmt.Fprintln(c.stdout, "Archiving the current contents of the server...")
	n, err := c.receiveFile(pipeshare.CmdArchServer+" "+name, name)
	if err != nil {
		return errors.E(op, name, err)
	}
	count, err := archiveCount(name)
	if err != nil {
		return errors.E(op, name, errors.Archive, err)
	}
	fmt.Fprintf(c.stdout, "%d files downloaded ..%d bytes transferred..\n", count, n)
	fmt.Fprintf(c.stdout, "SUCCESS Server side files are archived in %q\n", name)
	return nil
}

// Quit ends the session: the worker acknowledges, logs the disconnect,
// and the client unlinks its own channel.
func (c *Client) Quit() error {
	const op = "client.Quit"
	defer fifo.Remove(c.channel)
	if err := c.send(pipeshare.CmdQuit); err != nil {
		return errors.E(op, err)
	}
	if err := c.readAck(); err != nil {
		return errors.E(op, err)
	}
	fmt.Fprintln(c.stdout, "bye...")
	return nil
}

// KillServer asks the server to terminate every session and exit.
func (c *Client) KillServer() error {
	const op = "client.KillServer"
	defer fifo.Remove(c.channel)
	if err := c.send(pipeshare.CmdKillServer); err != nil {
		return errors.E(op, err)
	}
	if err := c.readAck(); err != nil {
		return errors.E(op, err)
	}
	fmt.Fprintln(c.stdout, "Sending write request to server log file")
	fmt.Fprintln(c.stdout, "logfile write request granted")
	fmt.Fprintln(c.stdout, "bye...")
	return nil
}

// Interrupt is the client's signal path: it sends quit if the server
// is still alive and removes the session channel either way.
func (c *Client) Interrupt() {
	fmt.Fprintln(c.stdout, "\n>> Ctrl+C signal received. Exiting...")
	if c.serverRunning() {
		c.Quit()
		return
	}
	fifo.Remove(c.channel)
}

// serverRunning probes the server process with the null signal.
func (c *Client) serverRunning() bool {
	return unix.Kill(c.serverPID, 0) == nil
}

// send writes one request line and closes the write end.
func (c *Client) send(req string) error {
	w, err := fifo.OpenWriter(c.channel)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = io.WriteString(w, req+"\n")
	if err != nil {
		return errors.E(errors.ChannelUnavailable, err)
	}
	return nil
}

// response reads the server's reply until end-of-stream.
func (c *Client) response() (string, error) {
	r, err := fifo.OpenReader(c.channel)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.E(errors.ChannelUnavailable, err)
	}
	return string(data), nil
}

// readAck consumes the worker's 4-byte teardown acknowledgment.
func (c *Client) readAck() error {
	resp, err := c.response()
	if err != nil {
		return err
	}
	if resp != pipeshare.QuitAck {
		return errors.E(errors.Invalid, errors.Errorf("bad acknowledgment %q", resp))
	}
	return nil
}

// archiveCount lists the received archive with the tar utility and
// returns the number of file entries in it.
func archiveCount(path string) (int, error) {
	out, err := exec.Command("tar", "-tf", path).Output()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if line != "" && !strings.HasSuffix(line, "/") {
			count++
		}
	}
	return count, nil
}

// receiveFile sends req and writes the EOF-terminated reply stream to
// a new local file, returning the number of bytes received.
func (c *Client) receiveFile(req, name string) (int64, error) {
	if err := c.send(req); err != nil {
		return 0, err
	}
	f, err := os.Create(name)
	if err != nil {
		return 0, errors.E(errors.IO, err)
	}
	r, err := fifo.OpenReader(c.channel)
	if err != nil {
		f.Close()
		return 0, err
	}
	n, err := transfer.Stream(f, r)
	r.Close()
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.E(errors.IO, cerr)
	}
	return n, err
}
