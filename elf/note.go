// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import (
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
)

// Well-known GNU note types.
const (
	NT_GNU_ABI_TAG      uint32 = 1
	NT_GNU_HWCAP        uint32 = 2
	NT_GNU_BUILD_ID     uint32 = 3
	NT_GNU_GOLD_VERSION uint32 = 4
)

// Note is a single (namesz, descsz, type) record from a PT_NOTE segment
// or SHT_NOTE section, with Name and Desc already stripped of their
// alignment padding.
type Note struct {
	Type uint32 `json:"n_type"`
	Name string `json:"name"`
	Desc []byte `json:"desc"`
}

// parseNotes walks a flat note region (either a PT_NOTE segment's file
// range or a SHT_NOTE section's range), padding both name and desc to the
// given alignment as spec.md §4.4 requires: 4 for 32-bit objects and
// section-based notes, 8 for 64-bit segment-based notes.
func parseNotes(data []byte, order binary.ByteOrder, offset, size uint64, alignment int64) ([]Note, error) {
	if alignment != 4 && alignment != 8 {
		alignment = 4
	}

	end := int64(offset + size)
	if end > int64(len(data)) || end < int64(offset) {
		return nil, ferr.OutOfBoundsf("elf.note", int64(offset), "note region extends past end of file")
	}

	var notes []Note
	off := int64(offset)
	for off < end {
		if off+12 > end {
			break
		}
		namesz := order.Uint32(data[off : off+4])
		descsz := order.Uint32(data[off+4 : off+8])
		typ := order.Uint32(data[off+8 : off+12])
		off += 12

		if off+int64(namesz) > end {
			return nil, ferr.OutOfBoundsf("elf.note", off, "note name extends past end of region")
		}
		name := data[off : off+int64(namesz)]
		for len(name) > 0 && name[len(name)-1] == 0 {
			name = name[:len(name)-1]
		}
		off += int64(namesz)
		off = alignUp(off, int64(offset), alignment)

		if off+int64(descsz) > end {
			return nil, ferr.OutOfBoundsf("elf.note", off, "note descriptor extends past end of region")
		}
		desc := data[off : off+int64(descsz)]
		off += int64(descsz)
		off = alignUp(off, int64(offset), alignment)

		notes = append(notes, Note{Type: typ, Name: string(name), Desc: desc})
	}
	return notes, nil
}

func alignUp(off, base, alignment int64) int64 {
	rem := (off - base) % alignment
	if rem != 0 {
		off += alignment - rem
	}
	return off
}
