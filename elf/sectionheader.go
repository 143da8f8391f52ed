// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import "github.com/binspect/binspect/ferr"

// Section types (sh_type).
const (
	SHT_NULL         uint32 = 0
	SHT_PROGBITS     uint32 = 1
	SHT_SYMTAB       uint32 = 2
	SHT_STRTAB       uint32 = 3
	SHT_NOTE         uint32 = 7
	SHT_DYNSYM       uint32 = 11
	SHT_GNU_HASH     uint32 = 0x6ffffff6
	SHT_GNU_VERNEED  uint32 = 0x6ffffffe
	SHT_GNU_VERSYM   uint32 = 0x6fffffff
	SHT_ARM_ATTRIBUTES uint32 = 0x70000003
)

const (
	Shdr32Size = 40
	Shdr64Size = 64
)

// SectionHeader is a section descriptor, widened to 64-bit fields.
type SectionHeader struct {
	Name      uint32 `json:"sh_name"`
	Type      uint32 `json:"sh_type"`
	Flags     uint64 `json:"sh_flags"`
	Addr      uint64 `json:"sh_addr"`
	Offset    uint64 `json:"sh_offset"`
	Size      uint64 `json:"sh_size"`
	Link      uint32 `json:"sh_link"`
	Info      uint32 `json:"sh_info"`
	AddrAlign uint64 `json:"sh_addralign"`
	EntSize   uint64 `json:"sh_entsize"`

	// NameString is resolved against e_shstrndx once the full table has
	// been read, so callers never have to resolve it themselves.
	NameString string `json:"name,omitempty"`
}

func parseSectionHeaders(data []byte, h Header) ([]SectionHeader, error) {
	order := h.ByteOrder()
	entsize := int64(h.Shentsize)
	if entsize == 0 {
		if h.Class == Class64 {
			entsize = Shdr64Size
		} else {
			entsize = Shdr32Size
		}
	}

	shdrs := make([]SectionHeader, 0, h.Shnum)
	for i := uint16(0); i < h.Shnum; i++ {
		off := int64(h.Shoff) + int64(i)*entsize
		if off < 0 || off+entsize > int64(len(data)) {
			return nil, ferr.OutOfBoundsf("elf.section-header", off, "section header %d extends past end of file", i)
		}
		b := data[off : off+entsize]

		var sh SectionHeader
		if h.Class == Class64 {
			if len(b) < Shdr64Size {
				return nil, ferr.OutOfBoundsf("elf.section-header", off, "truncated Shdr64")
			}
			sh.Name = order.Uint32(b[0:4])
			sh.Type = order.Uint32(b[4:8])
			sh.Flags = order.Uint64(b[8:16])
			sh.Addr = order.Uint64(b[16:24])
			sh.Offset = order.Uint64(b[24:32])
			sh.Size = order.Uint64(b[32:40])
			sh.Link = order.Uint32(b[40:44])
			sh.Info = order.Uint32(b[44:48])
			sh.AddrAlign = order.Uint64(b[48:56])
			sh.EntSize = order.Uint64(b[56:64])
		} else {
			if len(b) < Shdr32Size {
				return nil, ferr.OutOfBoundsf("elf.section-header", off, "truncated Shdr32")
			}
			sh.Name = order.Uint32(b[0:4])
			sh.Type = order.Uint32(b[4:8])
			sh.Flags = uint64(order.Uint32(b[8:12]))
			sh.Addr = uint64(order.Uint32(b[12:16]))
			sh.Offset = uint64(order.Uint32(b[16:20]))
			sh.Size = uint64(order.Uint32(b[20:24]))
			sh.Link = order.Uint32(b[24:28])
			sh.Info = order.Uint32(b[28:32])
			sh.AddrAlign = uint64(order.Uint32(b[32:36]))
			sh.EntSize = uint64(order.Uint32(b[36:40]))
		}
		shdrs = append(shdrs, sh)
	}

	if int(h.Shstrndx) < len(shdrs) {
		shstrtab := shdrs[h.Shstrndx]
		start, end := int64(shstrtab.Offset), int64(shstrtab.Offset+shstrtab.Size)
		if start >= 0 && end <= int64(len(data)) && end >= start {
			raw := data[start:end]
			for i := range shdrs {
				shdrs[i].NameString = cstr(raw, shdrs[i].Name)
			}
		}
	}
	return shdrs, nil
}

func cstr(data []byte, offset uint32) string {
	if uint64(offset) >= uint64(len(data)) {
		return ""
	}
	end := offset
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[offset:end])
}

func findSection(shdrs []SectionHeader, typ uint32) (SectionHeader, bool) {
	for _, sh := range shdrs {
		if sh.Type == typ {
			return sh, true
		}
	}
	return SectionHeader{}, false
}

func findSectionByName(shdrs []SectionHeader, name string) (SectionHeader, bool) {
	for _, sh := range shdrs {
		if sh.NameString == name {
			return sh, true
		}
	}
	return SectionHeader{}, false
}
