// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package probe classifies a buffer by its leading magic bytes, per
// spec.md §4.3, as the front end that dispatches to the elf, pe or ar
// decoder (Mach-O is recognized but has no decoder in this module — see
// spec.md §1, out of scope).
package probe

import "encoding/binary"

// Format is the container family identified by Classify.
type Format int

const (
	// Unknown means none of the recognized magics matched.
	Unknown Format = iota
	// ELF is an ELF object, executable or shared object.
	ELF
	// PE is a DOS/PE executable.
	PE
	// Archive is a SysV Unix ar archive.
	Archive
	// MachO is a single-architecture Mach-O image (out of scope: no decoder).
	MachO
	// MachFat is a Mach-O fat (universal) binary (out of scope: no decoder).
	MachFat
)

func (f Format) String() string {
	switch f {
	case ELF:
		return "ELF"
	case PE:
		return "PE"
	case Archive:
		return "Archive"
	case MachO:
		return "MachO"
	case MachFat:
		return "MachFat"
	default:
		return "Unknown"
	}
}

// ELF identity byte values, duplicated here (rather than imported from
// package elf) so that probe has no dependency on the format decoders —
// it is the front end they are dispatched from, not a consumer of them.
const (
	elfClass32 = 1
	elfClass64 = 2
	elfDataLE  = 1
	elfDataBE  = 2
)

const (
	peDOSMagic = 0x5A4D // "MZ", little-endian u16.

	machOMagic32      = 0xFEEDFACE
	machOMagic64      = 0xFEEDFACF
	machOCigam32      = 0xCEFAEDFE
	machOCigam64      = 0xCFFAEDFE
	machOFatMagic     = 0xCAFEBABE
	machOFatCigam     = 0xBEBAFECA
)

var archiveMagic = [8]byte{'!', '<', 'a', 'r', 'c', 'h', '>', '\n'}

// Classification is the result of Classify: the recognized format plus
// whatever endianness/bitness hints could be read from the leading bytes.
type Classification struct {
	Format Format

	// Is64 is meaningful only for ELF, where EI_CLASS distinguishes
	// ELFCLASS32 (false) from ELFCLASS64 (true).
	Is64 bool

	// LittleEndian is meaningful only for ELF, where EI_DATA distinguishes
	// ELFDATA2LSB (true) from ELFDATA2MSB (false).
	LittleEndian bool

	// Observed is the first 8 bytes of the buffer, for diagnostics when
	// Format == Unknown.
	Observed [8]byte
}

// Classify reads up to the first 16 bytes of data and returns exactly one
// Classification (probe totality, spec.md §8 property 1): no two of the
// recognized magics can overlap on the same prefix.
func Classify(data []byte) Classification {
	var c Classification
	copy(c.Observed[:], data)

	if len(data) >= 4 && data[0] == 0x7F && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		c.Format = ELF
		if len(data) >= 6 {
			c.Is64 = data[4] == elfClass64
			c.LittleEndian = data[5] == elfDataLE
		}
		return c
	}

	if len(data) >= 8 {
		var magic [8]byte
		copy(magic[:], data[:8])
		if magic == archiveMagic {
			c.Format = Archive
			return c
		}
	}

	if len(data) >= 2 && binary.LittleEndian.Uint16(data[:2]) == peDOSMagic {
		c.Format = PE
		return c
	}

	if len(data) >= 4 {
		magic := binary.LittleEndian.Uint32(data[:4])
		switch magic {
		case machOMagic32, machOMagic64, machOCigam32, machOCigam64:
			c.Format = MachO
			return c
		case machOFatMagic, machOFatCigam:
			c.Format = MachFat
			return c
		}
	}

	return c
}
