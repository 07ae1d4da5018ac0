// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"

	"pipeshare.io/errors"
)

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
directory: /srv/share
maxclients: 8
loglevel: debug
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Directory != "/srv/share" {
		t.Errorf("Directory = %q", cfg.Directory)
	}
	if cfg.MaxClients != 8 {
		t.Errorf("MaxClients = %d", cfg.MaxClients)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ChannelDir != "" || cfg.LogFile != "" {
		t.Errorf("unset fields not empty: %+v", cfg)
	}
}

var badConfigs = []string{
	"maxclients: -1",
	"loglevel: loud",
	": not yaml :\n\t",
}

func TestFromYAMLRejectsBad(t *testing.T) {
	for _, s := range badConfigs {
		if _, err := FromYAML([]byte(s)); !errors.Is(errors.Invalid, err) {
			t.Errorf("FromYAML(%q) = %v; want kind Invalid", s, err)
		}
	}
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile("/nonexistent/pipeshare.yaml")
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("FromFile = %v; want kind NotExist", err)
	}
}
