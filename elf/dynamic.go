// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import (
	"github.com/binspect/binspect/ferr"
	"github.com/binspect/binspect/strtab"
)

// Dynamic array tags (d_tag).
const (
	DT_NULL     uint64 = 0
	DT_NEEDED   uint64 = 1
	DT_PLTRELSZ uint64 = 2
	DT_PLTGOT   uint64 = 3
	DT_HASH     uint64 = 4
	DT_STRTAB   uint64 = 5
	DT_SYMTAB   uint64 = 6
	DT_RELA     uint64 = 7
	DT_RELASZ   uint64 = 8
	DT_RELAENT  uint64 = 9
	DT_STRSZ    uint64 = 10
	DT_SYMENT   uint64 = 11
	DT_INIT     uint64 = 12
	DT_FINI     uint64 = 13
	DT_SONAME   uint64 = 14
	DT_RPATH    uint64 = 15
	DT_SYMBOLIC uint64 = 16
	DT_REL      uint64 = 17
	DT_RELSZ    uint64 = 18
	DT_RELENT   uint64 = 19
	DT_PLTREL   uint64 = 20
	DT_DEBUG    uint64 = 21
	DT_TEXTREL  uint64 = 22
	DT_JMPREL   uint64 = 23
	DT_BIND_NOW uint64 = 24

	DT_INIT_ARRAY    uint64 = 25
	DT_FINI_ARRAY    uint64 = 26
	DT_INIT_ARRAYSZ  uint64 = 27
	DT_FINI_ARRAYSZ  uint64 = 28
	DT_RUNPATH       uint64 = 29
	DT_FLAGS         uint64 = 30
	DT_PREINIT_ARRAY uint64 = 32

	DT_GNU_HASH   uint64 = 0x6ffffef5
	DT_VERSYM     uint64 = 0x6ffffff0
	DT_RELACOUNT  uint64 = 0x6ffffff9
	DT_RELCOUNT   uint64 = 0x6ffffffa
	DT_FLAGS_1    uint64 = 0x6ffffffb
	DT_VERDEF     uint64 = 0x6ffffffc
	DT_VERDEFNUM  uint64 = 0x6ffffffd
	DT_VERNEED    uint64 = 0x6ffffffe
	DT_VERNEEDNUM uint64 = 0x6fffffff
)

const sizeofDyn = 16

// Dyn is a single (d_tag, d_val) entry of the dynamic array. d_val is
// stored widened to 64 bits regardless of class; for 32-bit objects it is
// the entry's d_un union reinterpreted as an integer.
type Dyn struct {
	Tag uint64 `json:"d_tag"`
	Val uint64 `json:"d_val"`
}

// parseDynamic locates the PT_DYNAMIC segment and reads its (tag, val)
// pairs up to and including DT_NULL.
func parseDynamic(data []byte, h Header, phdrs []ProgramHeader) ([]Dyn, error) {
	order := h.ByteOrder()
	entsize := sizeofDyn
	if h.Class == Class32 {
		entsize = 8
	}

	for _, ph := range phdrs {
		if ph.Type != PT_DYNAMIC {
			continue
		}
		count := int(ph.Filesz) / entsize
		dyns := make([]Dyn, 0, count)
		for i := 0; i < count; i++ {
			off := int64(ph.Offset) + int64(i)*int64(entsize)
			if off < 0 || off+int64(entsize) > int64(len(data)) {
				return nil, ferr.OutOfBoundsf("elf.dynamic", off, "dynamic entry %d extends past end of file", i)
			}
			b := data[off : off+int64(entsize)]
			var d Dyn
			if h.Class == Class64 {
				d.Tag = order.Uint64(b[0:8])
				d.Val = order.Uint64(b[8:16])
			} else {
				d.Tag = uint64(order.Uint32(b[0:4]))
				d.Val = uint64(order.Uint32(b[4:8]))
			}
			dyns = append(dyns, d)
			if d.Tag == DT_NULL {
				break
			}
		}
		return dyns, nil
	}
	return nil, nil
}

// DynamicInfo is the result of a single linear pass over the dynamic
// array: every address-valued tag pre-adjusted by bias, ready to index
// directly into the file image.
type DynamicInfo struct {
	Rela, RelaSz, RelaEnt, RelaCount uint64
	Hash, GNUHash                    uint64
	Strtab, Strsz                    uint64
	Symtab, Syment                   uint64
	PltGot                           uint64
	PltRelSz, PltRel, Jmprel         uint64
	Verneed, VerneedNum, Versym      uint64
	Init, Fini                       uint64
	InitArray, InitArraySz           uint64
	FiniArray, FiniArraySz           uint64
	NeededCount                      int
	Flags, Flags1                    uint64
	Soname                           uint64
}

func newDynamicInfo(dyns []Dyn, bias uint64) DynamicInfo {
	var info DynamicInfo
	for _, d := range dyns {
		switch d.Tag {
		case DT_RELA:
			info.Rela = d.Val + bias
		case DT_RELASZ:
			info.RelaSz = d.Val
		case DT_RELAENT:
			info.RelaEnt = d.Val
		case DT_RELACOUNT:
			info.RelaCount = d.Val
		case DT_GNU_HASH:
			info.GNUHash = d.Val + bias
		case DT_HASH:
			info.Hash = d.Val + bias
		case DT_STRTAB:
			info.Strtab = d.Val + bias
		case DT_STRSZ:
			info.Strsz = d.Val
		case DT_SYMTAB:
			info.Symtab = d.Val + bias
		case DT_SYMENT:
			info.Syment = d.Val
		case DT_PLTGOT:
			info.PltGot = d.Val + bias
		case DT_PLTRELSZ:
			info.PltRelSz = d.Val
		case DT_PLTREL:
			info.PltRel = d.Val
		case DT_JMPREL:
			info.Jmprel = d.Val + bias
		case DT_VERNEED:
			info.Verneed = d.Val + bias
		case DT_VERNEEDNUM:
			info.VerneedNum = d.Val
		case DT_VERSYM:
			info.Versym = d.Val + bias
		case DT_INIT:
			info.Init = d.Val + bias
		case DT_FINI:
			info.Fini = d.Val + bias
		case DT_INIT_ARRAY:
			info.InitArray = d.Val + bias
		case DT_INIT_ARRAYSZ:
			info.InitArraySz = d.Val
		case DT_FINI_ARRAY:
			info.FiniArray = d.Val + bias
		case DT_FINI_ARRAYSZ:
			info.FiniArraySz = d.Val
		case DT_NEEDED:
			info.NeededCount++
		case DT_FLAGS:
			info.Flags = d.Val
		case DT_FLAGS_1:
			info.Flags1 = d.Val
		case DT_SONAME:
			info.Soname = d.Val
		}
	}
	return info
}

// neededLibraries scans the dynamic array for DT_NEEDED entries, resolving
// each d_val through the dynamic string table.
func neededLibraries(dyns []Dyn, dynstr *strtab.Table) []string {
	needed := make([]string, 0)
	for _, d := range dyns {
		if d.Tag != DT_NEEDED {
			continue
		}
		if s, err := dynstr.Get(d.Val); err == nil {
			needed = append(needed, s)
		}
	}
	return needed
}
