// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Pipeshare is the interactive pipeshare client. It connects to a
// running server by process id and reads commands from standard input.
//
// Usage:
//
//	pipeshare [flags] <Connect|tryConnect> <serverPID>
//
// Connect waits for an admission slot if the server queue is full;
// tryConnect gives up immediately, which is not an error.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"pipeshare.io/client"
	"pipeshare.io/errors"
	"pipeshare.io/flags"
	"pipeshare.io/log"
	"pipeshare.io/pipeshare"
	"pipeshare.io/shutdown"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipeshare [flags] <Connect|tryConnect> <serverPID>")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 2 {
		usage()
	}

	var mode pipeshare.ConnectMode
	switch flag.Arg(0) {
	case pipeshare.Wait.String():
		mode = pipeshare.Wait
	case pipeshare.Try.String():
		mode = pipeshare.Try
	default:
		usage()
	}
	pid, err := strconv.Atoi(flag.Arg(1))
	if err != nil || pid <= 0 {
		fmt.Fprintf(os.Stderr, "pipeshare: bad server PID %q\n", flag.Arg(1))
		usage()
	}

	c := client.New(pid, flags.ChannelDir, os.Stdout)
	if err := c.Dial(mode); err != nil {
		if errors.Is(errors.Capacity, err) {
			// tryConnect against a full queue is a clean exit.
			fmt.Println("Server queue is full. Exiting...")
			return
		}
		log.Fatal(err)
	}

	// A signal mid-session still disconnects cleanly.
	shutdown.Handle(c.Interrupt)

	if err := c.Run(os.Stdin); err != nil {
		log.Fatal(err)
	}
}
