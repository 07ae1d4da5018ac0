// Copyright 2024 The Pipeshare Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package valid does validation of request arguments.
package valid

import (
	"strings"

	"pipeshare.io/errors"
)

// FileName verifies that name can safely be resolved against the
// server's directory: it must be a bare, non-empty file name with no
// path components, so a request can never escape the directory.
func FileName(name string) error {
	const op = "valid.FileName"
	if name == "" {
		return errors.E(op, errors.Invalid, errors.Str("empty file name"))
	}
	if name == "." || name == ".." {
		return errors.E(op, name, errors.Invalid, errors.Str("not a file name"))
	}
	if strings.ContainsAny(name, "/\x00") {
		return errors.E(op, name, errors.Invalid, errors.Str("file name must not contain path separators"))
	}
	return nil
}

// LineNumber verifies a readF line argument: line numbers are
// 1-indexed.
func LineNumber(n int) error {
	const op = "valid.LineNumber"
	if n < 1 {
		return errors.E(op, errors.Invalid, errors.Errorf("line number %d", n))
	}
	return nil
}

// WriteLineNumber verifies a writeT line argument: a 1-indexed line,
// or -1 meaning append at end of file.
func WriteLineNumber(n int) error {
	const op = "valid.WriteLineNumber"
	if n == -1 || n >= 1 {
		return nil
	}
	return errors.E(op, errors.Invalid, errors.Errorf("line number %d", n))
}
