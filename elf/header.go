// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package elf decodes ELF objects, executables, shared objects and core
// files per spec.md §4.4: identification bytes, program headers, the
// dynamic array, symbol and relocation tables, notes, and GNU symbol
// versioning. It shares the cursor/strtab/ferr/log infrastructure with the
// pe and ar packages rather than duplicating bounds-checking or error
// formatting.
package elf

import (
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
)

// Identification byte indices within e_ident.
const (
	idxMag0    = 0
	idxMag1    = 1
	idxMag2    = 2
	idxMag3    = 3
	idxClass   = 4
	idxData    = 5
	idxVersion = 6
	idxOSABI   = 7
)

// EI_CLASS values.
const (
	ClassNone Class = 0
	Class32   Class = 1
	Class64   Class = 2
)

// Class is the ELFCLASS32/ELFCLASS64 identity byte.
type Class uint8

func (c Class) String() string {
	switch c {
	case Class32:
		return "ELFCLASS32"
	case Class64:
		return "ELFCLASS64"
	default:
		return "ELFCLASSNONE"
	}
}

// EI_DATA values.
const (
	DataNone Data = 0
	DataLE   Data = 1
	DataBE   Data = 2
)

// Data is the ELFDATA2LSB/ELFDATA2MSB identity byte.
type Data uint8

func (d Data) String() string {
	switch d {
	case DataLE:
		return "ELFDATA2LSB"
	case DataBE:
		return "ELFDATA2MSB"
	default:
		return "ELFDATANONE"
	}
}

// e_type values.
const (
	ET_NONE uint16 = 0
	ET_REL  uint16 = 1
	ET_EXEC uint16 = 2
	ET_DYN  uint16 = 3
	ET_CORE uint16 = 4
)

// EHDR32Size and EHDR64Size are the on-disk sizes of the fixed header,
// excluding nothing: e_ident is included in both.
const (
	EHDR32Size = 52
	EHDR64Size = 64
)

const magic = "\x7fELF"

// Header is the ELF identification plus fixed fields of Ehdr32/Ehdr64,
// widened to 64 bits uniformly so callers don't need to type-switch.
type Header struct {
	Class      Class  `json:"class"`
	Data       Data   `json:"data"`
	Version    uint8  `json:"ei_version"`
	OSABI      uint8  `json:"osabi"`
	Type       uint16 `json:"e_type"`
	Machine    uint16 `json:"e_machine"`
	Version32  uint32 `json:"e_version"`
	Entry      uint64 `json:"e_entry"`
	Phoff      uint64 `json:"e_phoff"`
	Shoff      uint64 `json:"e_shoff"`
	Flags      uint32 `json:"e_flags"`
	Ehsize     uint16 `json:"e_ehsize"`
	Phentsize  uint16 `json:"e_phentsize"`
	Phnum      uint16 `json:"e_phnum"`
	Shentsize  uint16 `json:"e_shentsize"`
	Shnum      uint16 `json:"e_shnum"`
	Shstrndx   uint16 `json:"e_shstrndx"`
}

// ByteOrder returns the binary.ByteOrder implied by the header's EI_DATA
// byte, for callers building their own cursor.Cursor.
func (h Header) ByteOrder() binary.ByteOrder {
	if h.Data == DataBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// parseHeader validates e_ident and decodes the fixed header fields,
// dispatching the variable-width region (e_entry..e_shstrndx) on class.
func parseHeader(data []byte) (Header, error) {
	if len(data) < 16 {
		return Header{}, ferr.OutOfBoundsf("elf.header", 0, "file shorter than e_ident")
	}
	if string(data[idxMag0:idxMag3+1]) != magic {
		return Header{}, ferr.BadMagicErr("elf.header", binary.LittleEndian.Uint64(data[:8]))
	}

	h := Header{
		Class:   Class(data[idxClass]),
		Data:    Data(data[idxData]),
		Version: data[idxVersion],
		OSABI:   data[idxOSABI],
	}
	if h.Class != Class32 && h.Class != Class64 {
		return Header{}, ferr.Unsupportedf("elf.header", "unknown EI_CLASS byte 0x%x", data[idxClass])
	}
	if h.Data != DataLE && h.Data != DataBE {
		return Header{}, ferr.Unsupportedf("elf.header", "unknown EI_DATA byte 0x%x", data[idxData])
	}

	order := h.ByteOrder()
	rest := data[16:]

	switch h.Class {
	case Class64:
		if len(rest) < EHDR64Size-16 {
			return Header{}, ferr.OutOfBoundsf("elf.header", 16, "truncated Ehdr64")
		}
		h.Type = order.Uint16(rest[0:2])
		h.Machine = order.Uint16(rest[2:4])
		h.Version32 = order.Uint32(rest[4:8])
		h.Entry = order.Uint64(rest[8:16])
		h.Phoff = order.Uint64(rest[16:24])
		h.Shoff = order.Uint64(rest[24:32])
		h.Flags = order.Uint32(rest[32:36])
		h.Ehsize = order.Uint16(rest[36:38])
		h.Phentsize = order.Uint16(rest[38:40])
		h.Phnum = order.Uint16(rest[40:42])
		h.Shentsize = order.Uint16(rest[42:44])
		h.Shnum = order.Uint16(rest[44:46])
		h.Shstrndx = order.Uint16(rest[46:48])
	case Class32:
		if len(rest) < EHDR32Size-16 {
			return Header{}, ferr.OutOfBoundsf("elf.header", 16, "truncated Ehdr32")
		}
		h.Type = order.Uint16(rest[0:2])
		h.Machine = order.Uint16(rest[2:4])
		h.Version32 = order.Uint32(rest[4:8])
		h.Entry = uint64(order.Uint32(rest[8:12]))
		h.Phoff = uint64(order.Uint32(rest[12:16]))
		h.Shoff = uint64(order.Uint32(rest[16:20]))
		h.Flags = order.Uint32(rest[20:24])
		h.Ehsize = order.Uint16(rest[24:26])
		h.Phentsize = order.Uint16(rest[26:28])
		h.Phnum = order.Uint16(rest[28:30])
		h.Shentsize = order.Uint16(rest[30:32])
		h.Shnum = order.Uint16(rest[32:34])
		h.Shstrndx = order.Uint16(rest[34:36])
	}
	return h, nil
}

func beU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4 && i < len(b); i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}
