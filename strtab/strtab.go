// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package strtab implements the offset-indexed string table abstraction
// of spec.md §4.2, shared by the elf decoder (.dynstr/.strtab, delimited
// by NUL) and the ar decoder (the "//" extended-name member, delimited by
// newline).
package strtab

import "github.com/binspect/binspect/ferr"

// Table is a byte slice plus a delimiter byte. Get(offset) returns the
// borrowed substring running from offset up to, but not including, the
// next delimiter.
type Table struct {
	data      []byte
	delim     byte
	subsystem string
}

// New wraps data as a string table delimited by delim. subsystem names
// the caller for error messages.
func New(data []byte, delim byte, subsystem string) *Table {
	return &Table{data: data, delim: delim, subsystem: subsystem}
}

// Get returns the string starting at offset. Offset 0 conventionally
// yields an empty string; offset >= len(data) is an error. The returned
// string is a lossy, best-effort interpretation of the raw bytes: it does
// not validate strict UTF-8.
func (t *Table) Get(offset uint64) (string, error) {
	if offset == 0 {
		return "", nil
	}
	if offset >= uint64(len(t.data)) {
		return "", ferr.OutOfBoundsf(t.subsystem, int64(offset), "string table offset beyond table of length %d", len(t.data))
	}
	end := offset
	for end < uint64(len(t.data)) && t.data[end] != t.delim {
		end++
	}
	return string(t.data[offset:end]), nil
}

// Len returns the size in bytes of the underlying table.
func (t *Table) Len() int { return len(t.data) }

// Slice reduces the table to callers that want to reimplement iteration
// directly (e.g. the archive's newline-delimited extended-name table
// which also needs to walk over empty entries).
func (t *Table) Slice() []byte { return t.data }
