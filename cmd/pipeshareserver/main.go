// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Pipeshareserver is the pipeshare file server. It owns a directory of
// shared files and serves connected clients over named channels.
//
// Usage:
//
//	pipeshareserver [flags] <directory> <maxClients>
//
// The directory is created fresh at startup; previous contents are
// destroyed. MaxClients bounds the number of clients admitted over the
// server's lifetime. Both may instead come from a YAML configuration
// file named with -config; command-line values take precedence.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"pipeshare.io/config"
	"pipeshare.io/flags"
	"pipeshare.io/log"
	"pipeshare.io/server"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipeshareserver [flags] <directory> <maxClients>")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg := &config.Server{
		ChannelDir: flags.ChannelDir,
		LogFile:    flags.LogFile,
	}
	if flags.Config != "" {
		fileCfg, err := config.FromFile(flags.Config)
		if err != nil {
			log.Fatal(err)
		}
		if fileCfg.LogLevel != "" {
			log.SetLevel(fileCfg.LogLevel)
		}
		if fileCfg.ChannelDir != "" {
			cfg.ChannelDir = fileCfg.ChannelDir
		}
		if fileCfg.LogFile != "" {
			cfg.LogFile = fileCfg.LogFile
		}
		cfg.Directory = fileCfg.Directory
		cfg.MaxClients = fileCfg.MaxClients
		// Command-line flags win over the file.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "channeldir":
				cfg.ChannelDir = flags.ChannelDir
			case "logfile":
				cfg.LogFile = flags.LogFile
			case "log":
				log.SetLevel(flags.LogLevel.String())
			}
		})
	}

	switch flag.NArg() {
	case 0:
		if cfg.Directory == "" {
			usage()
		}
	case 2:
		cfg.Directory = flag.Arg(0)
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "pipeshareserver: bad maxClients %q\n", flag.Arg(1))
			usage()
		}
		cfg.MaxClients = n
	default:
		usage()
	}

	s, err := server.New(server.Config{
		Directory:  cfg.Directory,
		MaxClients: cfg.MaxClients,
		ChannelDir: cfg.ChannelDir,
		LogFile:    cfg.LogFile,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Serve(); err != nil {
		log.Fatal(err)
	}
}
