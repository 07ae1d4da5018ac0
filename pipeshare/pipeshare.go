// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeshare contains the types and constants shared by every
// pipeshare package. It has no dependencies within the project and is
// imported by all other packages.
package pipeshare

import "fmt"

// ClientID is the opaque, process-unique token a client presents to the
// server at connection time. It is the client's process id. A ClientID
// names the client's private session channel, deduplicates concurrent
// connection attempts, and tags journal records. At most one active
// session exists per ClientID at any time.
type ClientID int64

// ConnectMode selects the client's behavior when the server is full.
type ConnectMode int

const (
	// Wait retries admission every backoff interval until a slot frees.
	Wait ConnectMode = iota
	// Try attempts admission once and abandons the connection on failure.
	Try
)

func (m ConnectMode) String() string {
	switch m {
	case Wait:
		return "Connect"
	case Try:
		return "tryConnect"
	}
	return "unknown mode"
}

const (
	// ChunkSize is the fixed buffer size for all file transfers.
	// No transfer uses a larger write or read unit.
	ChunkSize = 4096

	// MaxRequest bounds a single request line on a session channel.
	// A longer request is truncated, not reassembled.
	MaxRequest = 256

	// QuitAck is the 4-byte literal a worker writes to acknowledge
	// session teardown.
	QuitAck = "quit"

	// ServerChannel is the base name of the well-known rendezvous
	// channel. Clients write their 8-byte identity to it, one shot
	// per connection attempt.
	ServerChannel = "pipeshare_server"

	// SlotsFile is the base name of the shared admission counter file.
	SlotsFile = "pipeshare_slots"
)

// SessionChannel returns the base name of the session channel for the
// given client identity. The name is a deterministic function of the
// identity so both ends derive it independently.
func SessionChannel(id ClientID) string {
	return fmt.Sprintf("pipeshare_client_%d_channel", id)
}

// Command keywords. Keywords are case-sensitive and matched exactly;
// a keyword followed by arguments must be separated by a space.
const (
	CmdHelp       = "help"
	CmdList       = "list"
	CmdReadF      = "readF"
	CmdWriteT     = "writeT"
	CmdUpload     = "upload"
	CmdDownload   = "download"
	CmdArchServer = "archServer"
	CmdQuit       = "quit"
	CmdKillServer = "killServer"
)
