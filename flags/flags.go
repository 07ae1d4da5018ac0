// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flags defines command-line flags to make them consistent
// between the server and client binaries. Not all flags make sense for
// all binaries.
package flags

import (
	"flag"
	"os"

	"pipeshare.io/log"
)

// We define the flags in two steps so clients don't have to write
// *flags.Flag. It also makes the documentation easier to read.

var (
	// ChannelDir is the directory holding the well-known channel, the
	// session channels, and the admission counter.
	ChannelDir = os.TempDir()

	// Config names an optional YAML configuration file for the server.
	Config = ""

	// LogFile names the server's append-only journal. If empty, the
	// journal is placed next to the served directory.
	LogFile = ""

	// LogLevel sets the level of logging.
	LogLevel logFlag
)

type logFlag struct {
	level string
}

// String implements flag.Value.
func (l *logFlag) String() string {
	return l.level
}

// Set implements flag.Value.
func (l *logFlag) Set(level string) error {
	if err := log.SetLevel(level); err != nil {
		return err
	}
	l.level = level
	return nil
}

func init() {
	flag.StringVar(&ChannelDir, "channeldir", ChannelDir, "directory for rendezvous channels and the admission counter")
	flag.StringVar(&Config, "config", Config, "YAML configuration file for the server")
	flag.StringVar(&LogFile, "logfile", LogFile, "name of the server journal file (empty to place it next to the served directory)")
	flag.Var(&LogLevel, "log", "sets the level of logging: debug, info, error, disabled")
	LogLevel.level = log.Level()
}
