// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transfer implements the file-transfer codec used by upload,
// download, and archive retrieval.
//
// The two directions frame their payloads differently, and the
// asymmetry is load-bearing:
//
//   - Uploads are length-prefixed: an 8-byte unsigned length field
//     followed by exactly that many raw bytes.
//   - Downloads are EOF-terminated: raw bytes with no length field;
//     the sender closes its write handle to signal completion.
//
// Both directions move bytes in fixed 4096-byte chunks. There is no
// compression and no checksum.
package transfer

import (
	"encoding/binary"
	"io"

	"pipeshare.io/errors"
	"pipeshare.io/pipeshare"
)

// Send writes a length-prefixed payload: the size field, then size
// bytes read from r.
func Send(w io.Writer, r io.Reader, size int64) error {
	const op = "transfer.Send"
	var field [8]byte
	binary.LittleEndian.PutUint64(field[:], uint64(size))
	if _, err := w.Write(field[:]); err != nil {
		return errors.E(op, errors.ChannelUnavailable, err)
	}
	if err := copyN(w, r, size); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Receive reads a length-prefixed payload from r into w and returns
// the number of payload bytes. A peer that closes the channel before
// the declared length has arrived yields an error of kind Truncated.
func Receive(r io.Reader, w io.Writer) (int64, error) {
	const op = "transfer.Receive"
	var field [8]byte
	if _, err := io.ReadFull(r, field[:]); err != nil {
		return 0, errors.E(op, errors.Truncated, err)
	}
	size := int64(binary.LittleEndian.Uint64(field[:]))
	buf := make([]byte, pipeshare.ChunkSize)
	var total int64
	for total < size {
		want := size - total
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, errors.E(op, errors.IO, werr)
			}
			total += int64(n)
		}
		if err != nil {
			// An error arriving with the final bytes is not a failure.
			if total == size {
				break
			}
			if err == io.EOF {
				return total, errors.E(op, errors.Truncated,
					errors.Errorf("peer closed after %d of %d bytes", total, size))
			}
			return total, errors.E(op, errors.ChannelUnavailable, err)
		}
	}
	return total, nil
}

// Stream copies r to w in chunks until r reports end-of-stream and
// returns the number of bytes moved. The caller closes w afterward;
// for downloads that close is the transfer-complete signal.
func Stream(w io.Writer, r io.Reader) (int64, error) {
	const op = "transfer.Stream"
	buf := make([]byte, pipeshare.ChunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, errors.E(op, errors.ChannelUnavailable, werr)
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, errors.E(op, errors.IO, err)
		}
	}
}

// SizeByScan determines the exact byte length of rs by reading it to
// the end, then rewinds it. The pre-scan trusts the bytes it can read
// over any stat result.
func SizeByScan(rs io.ReadSeeker) (int64, error) {
	const op = "transfer.SizeByScan"
	size, err := io.Copy(io.Discard, rs)
	if err != nil {
		return 0, errors.E(op, errors.IO, err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return 0, errors.E(op, errors.IO, err)
	}
	return size, nil
}

// copyN moves exactly size bytes from r to w in chunks.
func copyN(w io.Writer, r io.Reader, size int64) error {
	buf := make([]byte, pipeshare.ChunkSize)
	var total int64
	for total < size {
		want := size - total
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return errors.E(errors.ChannelUnavailable, werr)
			}
			total += int64(n)
		}
		if err != nil {
			if total == size {
				break
			}
			return errors.E(errors.Truncated,
				errors.Errorf("source ended after %d of %d bytes: %v", total, size, err))
		}
	}
	return nil
}
