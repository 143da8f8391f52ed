// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import "github.com/binspect/binspect/ferr"

// Segment types (p_type).
const (
	PT_NULL         uint32 = 0
	PT_LOAD         uint32 = 1
	PT_DYNAMIC      uint32 = 2
	PT_INTERP       uint32 = 3
	PT_NOTE         uint32 = 4
	PT_SHLIB        uint32 = 5
	PT_PHDR         uint32 = 6
	PT_TLS          uint32 = 7
	PT_GNU_EH_FRAME uint32 = 0x6474e550
	PT_GNU_STACK    uint32 = 0x6474e551
	PT_GNU_RELRO    uint32 = 0x6474e552
)

// Segment flag bits (p_flags).
const (
	PF_X uint32 = 1 << 0
	PF_W uint32 = 1 << 1
	PF_R uint32 = 1 << 2
)

const (
	Phdr32Size = 32
	Phdr64Size = 56
)

// ProgramHeader is a single segment descriptor, widened to 64-bit fields
// regardless of the file's class.
type ProgramHeader struct {
	Type   uint32 `json:"p_type"`
	Flags  uint32 `json:"p_flags"`
	Offset uint64 `json:"p_offset"`
	Vaddr  uint64 `json:"p_vaddr"`
	Paddr  uint64 `json:"p_paddr"`
	Filesz uint64 `json:"p_filesz"`
	Memsz  uint64 `json:"p_memsz"`
	Align  uint64 `json:"p_align"`
}

func parseProgramHeaders(data []byte, h Header) ([]ProgramHeader, error) {
	order := h.ByteOrder()
	entsize := int64(h.Phentsize)
	if entsize == 0 {
		if h.Class == Class64 {
			entsize = Phdr64Size
		} else {
			entsize = Phdr32Size
		}
	}

	phdrs := make([]ProgramHeader, 0, h.Phnum)
	for i := uint16(0); i < h.Phnum; i++ {
		off := int64(h.Phoff) + int64(i)*entsize
		if off < 0 || off+entsize > int64(len(data)) {
			return nil, ferr.OutOfBoundsf("elf.program-header", off, "program header %d extends past end of file", i)
		}
		b := data[off : off+entsize]

		var ph ProgramHeader
		if h.Class == Class64 {
			if len(b) < Phdr64Size {
				return nil, ferr.OutOfBoundsf("elf.program-header", off, "truncated Phdr64")
			}
			ph.Type = order.Uint32(b[0:4])
			ph.Flags = order.Uint32(b[4:8])
			ph.Offset = order.Uint64(b[8:16])
			ph.Vaddr = order.Uint64(b[16:24])
			ph.Paddr = order.Uint64(b[24:32])
			ph.Filesz = order.Uint64(b[32:40])
			ph.Memsz = order.Uint64(b[40:48])
			ph.Align = order.Uint64(b[48:56])
		} else {
			if len(b) < Phdr32Size {
				return nil, ferr.OutOfBoundsf("elf.program-header", off, "truncated Phdr32")
			}
			ph.Type = order.Uint32(b[0:4])
			ph.Offset = uint64(order.Uint32(b[4:8]))
			ph.Vaddr = uint64(order.Uint32(b[8:12]))
			ph.Paddr = uint64(order.Uint32(b[12:16]))
			ph.Filesz = uint64(order.Uint32(b[16:20]))
			ph.Memsz = uint64(order.Uint32(b[20:24]))
			ph.Flags = order.Uint32(b[24:28])
			ph.Align = uint64(order.Uint32(b[28:32]))
		}
		phdrs = append(phdrs, ph)
	}
	return phdrs, nil
}

// bias is the difference between a live-memory load base and the first
// PT_LOAD segment's p_vaddr, computed by two's-complement wraparound
// exactly as a loader would: zero for an on-disk file image (the common
// case here), non-zero only when the caller has supplied bytes taken from
// a running process's address space.
func bias(phdrs []ProgramHeader) uint64 {
	for _, ph := range phdrs {
		if ph.Type == PT_LOAD {
			return -ph.Vaddr
		}
	}
	return 0
}

func interpreter(data []byte, phdrs []ProgramHeader) (string, bool) {
	for _, ph := range phdrs {
		if ph.Type != PT_INTERP {
			continue
		}
		start, end := int64(ph.Offset), int64(ph.Offset+ph.Filesz)
		if start < 0 || end > int64(len(data)) || end < start {
			return "", false
		}
		s := data[start:end]
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return string(s), true
	}
	return "", false
}
