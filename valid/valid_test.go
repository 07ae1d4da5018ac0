// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package valid

import (
	"testing"

	"pipeshare.io/errors"
)

var fileNameTests = []struct {
	name string
	ok   bool
}{
	{"a.txt", true},
	{"archive.tar", true},
	{"with space.txt", true},
	{"..", false},
	{".", false},
	{"", false},
	{"dir/file", false},
	{"/etc/passwd", false},
	{"a\x00b", false},
}

func TestFileName(t *testing.T) {
	for _, test := range fileNameTests {
		err := FileName(test.name)
		if test.ok && err != nil {
			t.Errorf("FileName(%q) = %v; want nil", test.name, err)
		}
		if !test.ok && !errors.Is(errors.Invalid, err) {
			t.Errorf("FileName(%q) = %v; want kind Invalid", test.name, err)
		}
	}
}

func TestLineNumbers(t *testing.T) {
	for _, n := range []int{1, 2, 1000} {
		if err := LineNumber(n); err != nil {
			t.Errorf("LineNumber(%d) = %v", n, err)
		}
	}
	for _, n := range []int{0, -1, -5} {
		if err := LineNumber(n); err == nil {
			t.Errorf("LineNumber(%d) = nil; want error", n)
		}
	}
	if err := WriteLineNumber(-1); err != nil {
		t.Errorf("WriteLineNumber(-1) = %v; -1 means append", err)
	}
	for _, n := range []int{0, -2} {
		if err := WriteLineNumber(n); err == nil {
			t.Errorf("WriteLineNumber(%d) = nil; want error", n)
		}
	}
}
