// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import "github.com/binspect/binspect/ferr"

// A handful of commonly-encountered x86-64 relocation types; unrecognized
// numeric values are preserved verbatim rather than rejected (spec.md
// §4.4's "unknown relocation types are preserved as their numeric value,
// not rejected").
const (
	R_X86_64_NONE      uint32 = 0
	R_X86_64_64        uint32 = 1
	R_X86_64_PC32      uint32 = 2
	R_X86_64_GLOB_DAT  uint32 = 6
	R_X86_64_JUMP_SLOT uint32 = 7
	R_X86_64_RELATIVE  uint32 = 8
)

const (
	Rela32Size = 4 + 4 + 4
	Rela64Size = 8 + 8 + 8
)

// Rela is a RELA relocation entry with an explicit addend, with Symbol and
// Type unpacked from r_info.
type Rela struct {
	Offset uint64 `json:"r_offset"`
	Symbol uint64 `json:"symbol"`
	Type   uint32 `json:"type"`
	Addend int64  `json:"r_addend"`
}

// RSym64 unpacks the symbol-table index from a 64-bit r_info:
// (symbol_index << 32) | type.
func RSym64(info uint64) uint64 { return info >> 32 }

// RType64 unpacks the relocation type from a 64-bit r_info.
func RType64(info uint64) uint32 { return uint32(info) }

// RInfo64 packs a symbol index and type into a 64-bit r_info.
func RInfo64(sym uint64, typ uint32) uint64 { return sym<<32 | uint64(typ) }

// RSym32 unpacks the symbol-table index from a 32-bit r_info:
// (symbol_index << 8) | type.
func RSym32(info uint32) uint32 { return info >> 8 }

// RType32 unpacks the relocation type from a 32-bit r_info.
func RType32(info uint32) uint32 { return info & 0xff }

func parseRelas(data []byte, h Header, offset, size uint64) ([]Rela, error) {
	if size == 0 {
		return nil, nil
	}
	order := h.ByteOrder()
	entsize := int64(Rela64Size)
	if h.Class == Class32 {
		entsize = Rela32Size
	}
	count := int(size) / int(entsize)

	relas := make([]Rela, 0, count)
	for i := 0; i < count; i++ {
		off := int64(offset) + int64(i)*entsize
		if off < 0 || off+entsize > int64(len(data)) {
			return nil, ferr.OutOfBoundsf("elf.rela", off, "relocation %d extends past end of file", i)
		}
		b := data[off : off+entsize]

		var r Rela
		if h.Class == Class64 {
			r.Offset = order.Uint64(b[0:8])
			info := order.Uint64(b[8:16])
			r.Symbol = RSym64(info)
			r.Type = RType64(info)
			r.Addend = int64(order.Uint64(b[16:24]))
		} else {
			r.Offset = uint64(order.Uint32(b[0:4]))
			info := order.Uint32(b[4:8])
			r.Symbol = uint64(RSym32(info))
			r.Type = RType32(info)
			r.Addend = int64(int32(order.Uint32(b[8:12])))
		}
		relas = append(relas, r)
	}
	return relas, nil
}
