// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package findings

import (
	"errors"
	"fmt"
)

// Common errors for the scanner.
var (
	// ErrInvalidInput indicates an empty source, a nil path list or a nil
	// result. Analysis never starts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a missing file or directory.
	ErrNotFound = errors.New("not found")
)

// FileError describes a failure to read or analyze one file of a batch.
//
// Batch analysis records these as skipped files instead of returning them.
type FileError struct {
	// Path is the file that failed.
	Path string

	// Op is the failed operation ("stat", "read", "analyze").
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Err
}
