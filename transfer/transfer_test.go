// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"io"
	"testing"

	"pipeshare.io/errors"
)

// The round-trip sizes exercise the empty file, both sides of the
// chunk boundary, and a payload spanning many chunks.
var sizes = []int{0, 1, 4095, 4096, 4097, 1000000}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	for _, size := range sizes {
		want := payload(size)

		pr, pw := io.Pipe()
		sendErr := make(chan error, 1)
		go func() {
			err := Send(pw, bytes.NewReader(want), int64(size))
			pw.Close()
			sendErr <- err
		}()

		var got bytes.Buffer
		n, err := Receive(pr, &got)
		if err != nil {
			t.Fatalf("size %d: Receive: %v", size, err)
		}
		if err := <-sendErr; err != nil {
			t.Fatalf("size %d: Send: %v", size, err)
		}
		if n != int64(size) {
			t.Errorf("size %d: Receive reported %d bytes", size, n)
		}
		if !bytes.Equal(got.Bytes(), want) {
			t.Errorf("size %d: payload mismatch", size)
		}
	}
}

func TestStreamRoundTrip(t *testing.T) {
	for _, size := range sizes {
		want := payload(size)

		pr, pw := io.Pipe()
		go func() {
			// Closing the write end is the completion signal.
			Stream(pw, bytes.NewReader(want))
			pw.Close()
		}()

		got, err := io.ReadAll(pr)
		if err != nil {
			t.Fatalf("size %d: read: %v", size, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("size %d: payload mismatch", size)
		}
	}
}

func TestReceiveTruncated(t *testing.T) {
	// Declare 100 bytes but deliver only 40.
	var wire bytes.Buffer
	if err := Send(&wire, bytes.NewReader(payload(100)), 100); err != nil {
		t.Fatal(err)
	}
	short := wire.Bytes()[:8+40]

	var got bytes.Buffer
	n, err := Receive(bytes.NewReader(short), &got)
	if !errors.Is(errors.Truncated, err) {
		t.Fatalf("Receive = %v; want kind Truncated", err)
	}
	if n != 40 {
		t.Errorf("Receive moved %d bytes before failing; want 40", n)
	}
}

func TestSendShortSource(t *testing.T) {
	// The source ends before the declared size: the sender must
	// report the transfer error rather than pad the stream.
	var wire bytes.Buffer
	err := Send(&wire, bytes.NewReader(payload(10)), 50)
	if !errors.Is(errors.Truncated, err) {
		t.Fatalf("Send = %v; want kind Truncated", err)
	}
}

// eagerEOFReader returns io.EOF together with the final bytes rather
// than on a subsequent call, as io.Reader permits.
type eagerEOFReader struct {
	data []byte
}

func (r *eagerEOFReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	if len(r.data) == 0 {
		return n, io.EOF
	}
	return n, nil
}

func TestEagerEOF(t *testing.T) {
	for _, size := range []int{1, 4096, 4097} {
		want := payload(size)

		// Sender whose source delivers EOF with the last chunk.
		var wire bytes.Buffer
		if err := Send(&wire, &eagerEOFReader{data: want}, int64(size)); err != nil {
			t.Fatalf("size %d: Send: %v", size, err)
		}

		// Receiver whose channel delivers EOF with the last chunk.
		var got bytes.Buffer
		n, err := Receive(&eagerEOFReader{data: wire.Bytes()}, &got)
		if err != nil {
			t.Fatalf("size %d: Receive: %v", size, err)
		}
		if n != int64(size) || !bytes.Equal(got.Bytes(), want) {
			t.Errorf("size %d: got %d bytes back", size, n)
		}
	}
}

func TestSizeByScan(t *testing.T) {
	for _, size := range sizes {
		r := bytes.NewReader(payload(size))
		n, err := SizeByScan(r)
		if err != nil {
			t.Fatal(err)
		}
		if n != int64(size) {
			t.Errorf("SizeByScan = %d; want %d", n, size)
		}
		// The reader must be rewound for the transfer that follows.
		rest, _ := io.ReadAll(r)
		if len(rest) != size {
			t.Errorf("after scan %d bytes remain; want %d", len(rest), size)
		}
	}
}
