// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package cursor implements the byte cursor and typed-pread layer of
// spec.md §4.1: a single source of bounds checking shared by the elf and
// ar decoders. Endianness is a runtime value, not a type parameter,
// because ELF must select LE/BE at parse time from EI_DATA.
package cursor

import (
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
)

// Cursor reads fixed-width integers, strings and sub-slices out of a
// borrowed byte slice, advancing an internal offset and failing closed on
// out-of-bounds reads. The zero value is not usable; use New.
type Cursor struct {
	data      []byte
	off       int64
	order     binary.ByteOrder
	subsystem string
}

// New wraps data for cursor-style reads, starting at offset 0, using order
// for all subsequent multi-byte reads. subsystem names the caller for
// error messages (e.g. "elf.header").
func New(data []byte, order binary.ByteOrder, subsystem string) *Cursor {
	return &Cursor{data: data, order: order, subsystem: subsystem}
}

// Len returns the length of the underlying buffer.
func (c *Cursor) Len() int { return len(c.data) }

// Offset returns the current read position.
func (c *Cursor) Offset() int64 { return c.off }

// Seek repositions the cursor to an absolute offset. It does not itself
// validate the offset; the next read will fail if it is out of bounds.
func (c *Cursor) Seek(offset int64) { c.off = offset }

// SetOrder changes the byte order used by subsequent multi-byte reads.
func (c *Cursor) SetOrder(order binary.ByteOrder) { c.order = order }

func (c *Cursor) require(n int64) error {
	if n < 0 || c.off < 0 || c.off+n > int64(len(c.data)) {
		return ferr.OutOfBoundsf(c.subsystem, c.off, "need %d bytes, have %d", n, int64(len(c.data))-c.off)
	}
	return nil
}

// U8 reads one byte and advances the cursor.
func (c *Cursor) U8() (uint8, error) {
	if err := c.require(1); err != nil {
		return 0, err
	}
	v := c.data[c.off]
	c.off++
	return v, nil
}

// U16 reads a 2-byte unsigned integer in the cursor's byte order.
func (c *Cursor) U16() (uint16, error) {
	if err := c.require(2); err != nil {
		return 0, err
	}
	v := c.order.Uint16(c.data[c.off:])
	c.off += 2
	return v, nil
}

// U32 reads a 4-byte unsigned integer in the cursor's byte order.
func (c *Cursor) U32() (uint32, error) {
	if err := c.require(4); err != nil {
		return 0, err
	}
	v := c.order.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

// U64 reads an 8-byte unsigned integer in the cursor's byte order.
func (c *Cursor) U64() (uint64, error) {
	if err := c.require(8); err != nil {
		return 0, err
	}
	v := c.order.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

// Bytes reads n raw bytes and returns a slice borrowed from the input.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.require(int64(n)); err != nil {
		return nil, err
	}
	v := c.data[c.off : c.off+int64(n)]
	c.off += int64(n)
	return v, nil
}

// CString reads bytes up to and including a trailing NUL, returning the
// string without the terminator. The cursor advances past the NUL.
func (c *Cursor) CString() (string, error) {
	start := c.off
	for {
		if err := c.require(1); err != nil {
			return "", err
		}
		b := c.data[c.off]
		c.off++
		if b == 0 {
			return string(c.data[start : c.off-1]), nil
		}
	}
}

// LenPrefixedU32 reads a u32 length prefix followed by that many raw
// bytes.
func (c *Cursor) LenPrefixedU32() ([]byte, error) {
	n, err := c.U32()
	if err != nil {
		return nil, err
	}
	return c.Bytes(int(n))
}

// PeekAt reads n bytes at a fixed absolute offset without moving the
// cursor, for look-ahead like probing a magic number before committing to
// a format.
func (c *Cursor) PeekAt(offset int64, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+int64(n) > int64(len(c.data)) {
		return nil, ferr.OutOfBoundsf(c.subsystem, offset, "need %d bytes at fixed offset", n)
	}
	return c.data[offset : offset+int64(n)], nil
}

// Align advances the cursor to the next multiple of alignment relative to
// base (used for ELF note padding, where alignment is 4 or 8).
func (c *Cursor) Align(base int64, alignment int64) {
	rem := (c.off - base) % alignment
	if rem != 0 {
		c.off += alignment - rem
	}
}
