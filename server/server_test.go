// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pipeshare.io/fifo"
	"pipeshare.io/pipeshare"
)

// peer drives the wire protocol by hand, standing in for a client
// process.
type peer struct {
	t         *testing.T
	id        pipeshare.ClientID
	channel   string
	wellKnown string
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	channelDir := t.TempDir()
	dir := filepath.Join(t.TempDir(), "shared")
	s, err := New(Config{
		Directory:  dir,
		MaxClients: 4,
		ChannelDir: channelDir,
		LogFile:    filepath.Join(t.TempDir(), "events.log"),
		Stdout:     io.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve()
	return s, channelDir
}

func newPeer(t *testing.T, channelDir string, id pipeshare.ClientID) *peer {
	return &peer{
		t:         t,
		id:        id,
		channel:   filepath.Join(channelDir, pipeshare.SessionChannel(id)),
		wellKnown: filepath.Join(channelDir, pipeshare.ServerChannel),
	}
}

// connect creates the session channel and sends the identity, the
// client half of the rendezvous handshake.
func (p *peer) connect() {
	p.t.Helper()
	if err := fifo.Create(p.channel); err != nil {
		p.t.Fatal(err)
	}
	w, err := fifo.OpenWriter(p.wellKnown)
	if err != nil {
		p.t.Fatal(err)
	}
	defer w.Close()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.id))
	if _, err := w.Write(buf[:]); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) request(line string) {
	p.t.Helper()
	w, err := fifo.OpenWriter(p.channel)
	if err != nil {
		p.t.Fatal(err)
	}
	defer w.Close()
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) response() string {
	p.t.Helper()
	r, err := fifo.OpenReader(p.channel)
	if err != nil {
		p.t.Fatal(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		p.t.Fatal(err)
	}
	return string(data)
}

func (p *peer) do(line string) string {
	p.t.Helper()
	p.request(line)
	return p.response()
}

// upload sends the request line, the length field and the payload in
// one open of the channel, then reads the status line.
func (p *peer) upload(name string, data []byte) string {
	p.t.Helper()
	w, err := fifo.OpenWriter(p.channel)
	if err != nil {
		p.t.Fatal(err)
	}
	fmt.Fprintf(w, "upload %s\n", name)
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(data)))
	w.Write(size[:])
	if _, err := w.Write(data); err != nil {
		p.t.Fatal(err)
	}
	w.Close()
	return p.response()
}

// The well-known channel must exist as soon as New returns, not when
// Serve gets scheduled: a client that connects immediately would
// otherwise find no channel.
func TestNewCreatesChannel(t *testing.T) {
	channelDir := t.TempDir()
	_, err := New(Config{
		Directory:  filepath.Join(t.TempDir(), "shared"),
		MaxClients: 1,
		ChannelDir: channelDir,
		LogFile:    filepath.Join(t.TempDir(), "events.log"),
		Stdout:     io.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(channelDir, pipeshare.ServerChannel)); err != nil {
		t.Errorf("well-known channel missing after New: %v", err)
	}
}

func TestCommands(t *testing.T) {
	_, channelDir := startServer(t)
	p := newPeer(t, channelDir, 101)
	p.connect()

	if got := p.do("help"); got != helpAll {
		t.Errorf("help = %q, want the overall list", got)
	}
	if got := p.do("help readF"); !strings.HasPrefix(got, "readF") {
		t.Errorf("help readF = %q", got)
	}
	if got := p.do("list"); got != "" {
		t.Errorf("list of empty directory = %q, want empty", got)
	}
	if got := p.do("writeT notes.txt -1 hello"); got != "" {
		t.Errorf("writeT = %q, want empty response", got)
	}
	if got := p.do("readF notes.txt 1"); got != "hello\n" {
		t.Errorf("readF line 1 = %q, want %q", got, "hello\n")
	}
	if got := p.do("readF notes.txt 7"); !strings.Contains(got, "line number out of range") {
		t.Errorf("readF past the end = %q", got)
	}
	if got := p.do("readF notes.txt"); got != "hello\n" {
		t.Errorf("readF whole file = %q, want %q", got, "hello\n")
	}
	if got := p.do("list"); got != "notes.txt\n" {
		t.Errorf("list = %q, want %q", got, "notes.txt\n")
	}
	if got := p.do("frobnicate now"); got != "Invalid command: frobnicate\n" {
		t.Errorf("invalid command response = %q", got)
	}
	if got := p.do("down notes.txt"); got != "Invalid command: down\n" {
		t.Errorf("keyword prefix must not match: %q", got)
	}
	if got := p.do("quit"); got != pipeshare.QuitAck {
		t.Errorf("quit acknowledgment = %q, want %q", got, pipeshare.QuitAck)
	}
}

func TestWriteTOverwrites(t *testing.T) {
	_, channelDir := startServer(t)
	p := newPeer(t, channelDir, 102)
	p.connect()

	for _, line := range []string{"one", "two", "three"} {
		p.do("writeT f.txt -1 " + line)
	}
	if got := p.do("writeT f.txt 2 TWO"); got != "" {
		t.Errorf("writeT line 2 = %q", got)
	}
	want := "one\nTWO\nthree\n"
	if got := p.do("readF f.txt"); got != want {
		t.Errorf("file after overwrite = %q, want %q", got, want)
	}
	p.do("quit")
}

func TestUploadDownload(t *testing.T) {
	s, channelDir := startServer(t)
	p := newPeer(t, channelDir, 103)
	p.connect()

	data := make([]byte, 3*pipeshare.ChunkSize+17)
	rand.New(rand.NewSource(1)).Read(data)

	want := fmt.Sprintf("%d bytes transferred\n", len(data))
	if got := p.upload("blob.bin", data); got != want {
		t.Errorf("upload status = %q, want %q", got, want)
	}
	stored, err := os.ReadFile(filepath.Join(s.dir, "blob.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, data) {
		t.Errorf("stored file differs from payload: %d vs %d bytes", len(stored), len(data))
	}

	// A duplicate upload is rejected; the payload must be drained so
	// the channel stays usable.
	if got := p.upload("blob.bin", data); !strings.Contains(got, "file already exists") {
		t.Errorf("duplicate upload status = %q", got)
	}

	p.request("download blob.bin")
	if got := p.response(); !bytes.Equal([]byte(got), data) {
		t.Errorf("download returned %d bytes, want %d", len(got), len(data))
	}
	if got := p.do("download nope.bin"); !strings.Contains(got, "file does not exist") {
		t.Errorf("download of missing file = %q", got)
	}
	p.do("quit")
}

// A second connection attempt with an identity that already has a live
// session is dropped: the connected set stays at one and the original
// session keeps serving.
func TestDuplicateIdentityRejected(t *testing.T) {
	s, channelDir := startServer(t)
	p := newPeer(t, channelDir, 555)
	p.connect()
	if got := p.do("writeT d.txt -1 first"); got != "" {
		t.Fatalf("writeT = %q", got)
	}

	// Same identity, second handshake. The listener logs and drops it
	// without spawning a worker.
	dup := newPeer(t, channelDir, 555)
	dup.connect()

	if got := p.do("readF d.txt 1"); got != "first\n" {
		t.Errorf("original session broken after duplicate attempt: %q", got)
	}
	s.mu.Lock()
	n := len(s.connected)
	s.mu.Unlock()
	if n != 1 {
		t.Errorf("connected set has %d entries, want 1", n)
	}
	p.do("quit")
}

// killServer exits the whole server process, so the server runs as a
// child process here: the test binary re-execs itself with
// PIPESHARE_TEST_SERVER set and drives it over the real channels.
func TestKillServer(t *testing.T) {
	if dir := os.Getenv("PIPESHARE_TEST_SERVER"); dir != "" {
		runTestServer(dir, os.Getenv("PIPESHARE_TEST_CHANNELS"))
		return
	}

	channelDir := t.TempDir()
	cmd := exec.Command(os.Args[0], "-test.run=TestKillServer")
	cmd.Env = append(os.Environ(),
		"PIPESHARE_TEST_SERVER="+filepath.Join(t.TempDir(), "shared"),
		"PIPESHARE_TEST_CHANNELS="+channelDir)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	defer cmd.Process.Kill()

	// The child creates the well-known channel in New.
	wellKnown := filepath.Join(channelDir, pipeshare.ServerChannel)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(wellKnown); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server child never created the well-known channel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	killer := newPeer(t, channelDir, 201)
	killer.connect()
	bystander := newPeer(t, channelDir, 202)
	bystander.connect()
	if got := bystander.do("help"); got != helpAll {
		t.Fatalf("bystander session not live: %q", got)
	}

	if got := killer.do("killServer"); got != pipeshare.QuitAck {
		t.Errorf("killServer acknowledgment = %q, want %q", got, pipeshare.QuitAck)
	}
	if err := cmd.Wait(); err != nil {
		t.Errorf("server exited with %v, want success", err)
	}

	// Teardown must have unlinked the bystander's channel and the
	// well-known channel, so its next request finds no peer.
	if _, err := os.Stat(bystander.channel); !os.IsNotExist(err) {
		t.Errorf("bystander channel still present after killServer (stat: %v)", err)
	}
	if _, err := os.Stat(wellKnown); !os.IsNotExist(err) {
		t.Errorf("well-known channel still present after killServer (stat: %v)", err)
	}
}

// runTestServer is the body of the re-exec'd child: it serves until a
// client's killServer terminates the process.
func runTestServer(dir, channelDir string) {
	s, err := New(Config{
		Directory:  dir,
		MaxClients: 4,
		ChannelDir: channelDir,
		LogFile:    filepath.Join(channelDir, "events.log"),
		Stdout:     io.Discard,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := s.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func TestArchServer(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}
	_, channelDir := startServer(t)
	p := newPeer(t, channelDir, 105)
	p.connect()

	files := map[string][]byte{
		"a.txt": []byte("alpha\n"),
		"b.bin": bytes.Repeat([]byte{0xA5}, 500),
	}
	for name, data := range files {
		p.upload(name, data)
	}

	p.request("archServer out.tar")
	archive := p.response()
	if len(archive) == 0 {
		t.Fatal("empty archive stream")
	}

	// Every file present at archive time must be listed.
	seen := make(map[string]bool)
	tr := tar.NewReader(strings.NewReader(archive))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading archive: %v", err)
		}
		seen[filepath.Base(hdr.Name)] = true
	}
	for name := range files {
		if !seen[name] {
			t.Errorf("archive is missing %s", name)
		}
	}
	p.do("quit")
}

func TestRejectsBadFileNames(t *testing.T) {
	_, channelDir := startServer(t)
	p := newPeer(t, channelDir, 104)
	p.connect()

	for _, req := range []string{
		"readF ../escape 1",
		"download a/b",
		"writeT .. -1 x",
	} {
		if got := p.do(req); !strings.Contains(got, "invalid") {
			t.Errorf("%q accepted: %q", req, got)
		}
	}
	p.do("quit")
}
