// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package config parses the server's optional configuration file.

Configuration files must be in YAML format, of this general form:

	directory: /srv/share
	maxclients: 8
	channeldir: /tmp
	loglevel: debug
	logfile: /var/log/pipeshare.log

Directory names the directory the server owns; its previous contents
are destroyed at startup. MaxClients is the admission capacity.
ChannelDir holds the rendezvous and session channels; it defaults to
the system temporary directory. LogLevel is one of debug, info, error,
or disabled. LogFile names the append-only journal; if empty the
journal is placed next to the served directory.

Values given on the command line override values from the file.
*/
package config

import (
	"os"

	yaml "gopkg.in/yaml.v2"

	"pipeshare.io/errors"
)

// Server holds the server's configuration.
type Server struct {
	Directory  string `yaml:"directory"`
	MaxClients int    `yaml:"maxclients"`
	ChannelDir string `yaml:"channeldir"`
	LogLevel   string `yaml:"loglevel"`
	LogFile    string `yaml:"logfile"`
}

// FromYAML unmarshals a Server configuration from YAML data and
// validates it.
func FromYAML(data []byte) (*Server, error) {
	const op = "config.FromYAML"
	cfg := new(Server)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.E(op, errors.Invalid, err)
	}
	if cfg.MaxClients < 0 {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("maxclients %d", cfg.MaxClients))
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "error", "disabled":
	default:
		return nil, errors.E(op, errors.Invalid, errors.Errorf("loglevel %q", cfg.LogLevel))
	}
	return cfg, nil
}

// FromFile reads and parses the configuration file at path.
func FromFile(path string) (*Server, error) {
	const op = "config.FromFile"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, path, errors.NotExist, err)
		}
		return nil, errors.E(op, path, errors.IO, err)
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, errors.E(op, path, err)
	}
	return cfg, nil
}
