// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import "github.com/binspect/binspect/ferr"

// Symbol bindings (top 4 bits of st_info).
const (
	STB_LOCAL  uint8 = 0
	STB_GLOBAL uint8 = 1
	STB_WEAK   uint8 = 2
)

// Symbol types (bottom 4 bits of st_info).
const (
	STT_NOTYPE  uint8 = 0
	STT_OBJECT  uint8 = 1
	STT_FUNC    uint8 = 2
	STT_SECTION uint8 = 3
	STT_FILE    uint8 = 4
	STT_COMMON  uint8 = 5
	STT_TLS     uint8 = 6
	STT_GNU_IFUNC uint8 = 10
)

const (
	Sym32Size = 16
	Sym64Size = 24
)

// Sym is a symbol-table entry, widened to 64-bit fields. Bind and Type are
// unpacked from st_info at parse time so callers never see the packed
// byte.
type Sym struct {
	Name  uint32 `json:"st_name"`
	Bind  uint8  `json:"bind"`
	Type  uint8  `json:"type"`
	Other uint8  `json:"st_other"`
	Shndx uint16 `json:"st_shndx"`
	Value uint64 `json:"st_value"`
	Size  uint64 `json:"st_size"`
}

// StBind unpacks the binding from a raw st_info byte: bind = info >> 4.
func StBind(info uint8) uint8 { return info >> 4 }

// StType unpacks the type from a raw st_info byte: type = info & 0xF.
func StType(info uint8) uint8 { return info & 0xF }

func parseSymbols(data []byte, h Header, offset, entsize uint64, count int) ([]Sym, error) {
	order := h.ByteOrder()
	syms := make([]Sym, 0, count)
	for i := 0; i < count; i++ {
		off := int64(offset) + int64(i)*int64(entsize)
		if off < 0 || off+int64(entsize) > int64(len(data)) {
			return nil, ferr.OutOfBoundsf("elf.symbol", off, "symbol %d extends past end of file", i)
		}
		b := data[off : off+int64(entsize)]

		var s Sym
		if h.Class == Class64 {
			if len(b) < Sym64Size {
				return nil, ferr.OutOfBoundsf("elf.symbol", off, "truncated Sym64")
			}
			s.Name = order.Uint32(b[0:4])
			s.Bind = StBind(b[4])
			s.Type = StType(b[4])
			s.Other = b[5]
			s.Shndx = order.Uint16(b[6:8])
			s.Value = order.Uint64(b[8:16])
			s.Size = order.Uint64(b[16:24])
		} else {
			if len(b) < Sym32Size {
				return nil, ferr.OutOfBoundsf("elf.symbol", off, "truncated Sym32")
			}
			s.Name = order.Uint32(b[0:4])
			s.Value = uint64(order.Uint32(b[4:8]))
			s.Size = uint64(order.Uint32(b[8:12]))
			s.Bind = StBind(b[12])
			s.Type = StType(b[12])
			s.Other = b[13]
			s.Shndx = order.Uint16(b[14:16])
		}
		syms = append(syms, s)
	}
	return syms, nil
}
