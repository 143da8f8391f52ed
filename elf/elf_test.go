// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildEhdr64 assembles a little-endian ELF64 header declaring phnum
// program header table entries at phoff and no sections.
func buildEhdr64(phoff, phnum uint16) []byte {
	var b bytes.Buffer
	b.WriteByte(0x7f)
	b.WriteString("ELF")
	b.WriteByte(byte(Class64))
	b.WriteByte(byte(DataLE))
	b.WriteByte(1) // EI_VERSION
	b.WriteByte(0) // EI_OSABI
	b.Write(make([]byte, 8))

	le16 := func(v uint16) { binary.Write(&b, binary.LittleEndian, v) }
	le32 := func(v uint32) { binary.Write(&b, binary.LittleEndian, v) }
	le64 := func(v uint64) { binary.Write(&b, binary.LittleEndian, v) }

	le16(ET_DYN)
	le16(0x3e) // e_machine, arbitrary (x86-64)
	le32(1)    // e_version
	le64(0)    // e_entry
	le64(uint64(phoff))
	le64(0) // e_shoff
	le32(0) // e_flags
	le16(EHDR64Size)
	le16(Phdr64Size)
	le16(phnum)
	le16(0) // e_shentsize
	le16(0) // e_shnum
	le16(0) // e_shstrndx

	return b.Bytes()
}

func buildPhdr64(typ, flags uint32, offset, vaddr, filesz, memsz, align uint64) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, typ)
	binary.Write(&b, binary.LittleEndian, flags)
	binary.Write(&b, binary.LittleEndian, offset)
	binary.Write(&b, binary.LittleEndian, vaddr)
	binary.Write(&b, binary.LittleEndian, vaddr) // p_paddr, unused here
	binary.Write(&b, binary.LittleEndian, filesz)
	binary.Write(&b, binary.LittleEndian, memsz)
	binary.Write(&b, binary.LittleEndian, align)
	return b.Bytes()
}

func dynEntry64(tag, val uint64) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, tag)
	binary.Write(&b, binary.LittleEndian, val)
	return b.Bytes()
}

// TestNeededLibraries covers the DT_NEEDED/DT_STRTAB scenario: a minimal
// ELF64 shared object whose dynamic array names two dependencies via
// string-table offsets, expecting File.Needed to preserve their order.
func TestNeededLibraries(t *testing.T) {
	const (
		phdrOff = EHDR64Size
		dynOff  = phdrOff + Phdr64Size
	)

	// strtab: byte 0 reserved empty, then "libc.so.6\0libm.so.6\0".
	strtabOff := dynOff + 5*16 // 5 dyn entries: 2×NEEDED, STRTAB, STRSZ, NULL
	var strtabBuf bytes.Buffer
	strtabBuf.WriteByte(0)
	libcOff := strtabBuf.Len()
	strtabBuf.WriteString("libc.so.6\x00")
	libmOff := strtabBuf.Len()
	strtabBuf.WriteString("libm.so.6\x00")
	strtabBytes := strtabBuf.Bytes()

	var dyn bytes.Buffer
	dyn.Write(dynEntry64(DT_NEEDED, uint64(libcOff)))
	dyn.Write(dynEntry64(DT_NEEDED, uint64(libmOff)))
	dyn.Write(dynEntry64(DT_STRTAB, uint64(strtabOff)))
	dyn.Write(dynEntry64(DT_STRSZ, uint64(len(strtabBytes))))
	dyn.Write(dynEntry64(DT_NULL, 0))
	dynBytes := dyn.Bytes()

	var buf bytes.Buffer
	buf.Write(buildEhdr64(phdrOff, 1))
	buf.Write(buildPhdr64(PT_DYNAMIC, PF_R|PF_W, uint64(dynOff), uint64(dynOff), uint64(len(dynBytes)), uint64(len(dynBytes)), 8))
	buf.Write(dynBytes)
	buf.Write(strtabBytes)

	f, err := NewBytes(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}
	want := []string{"libc.so.6", "libm.so.6"}
	if len(f.Needed) != len(want) {
		t.Fatalf("Needed = %v, want %v", f.Needed, want)
	}
	for i, lib := range want {
		if f.Needed[i] != lib {
			t.Errorf("Needed[%d] = %q, want %q", i, f.Needed[i], lib)
		}
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	data := buildEhdr64(EHDR64Size, 0)
	data[0] = 0x00
	if _, err := NewBytes(data, nil); err == nil {
		t.Fatal("expected bad-magic error, got nil")
	}
}

func TestBiasZeroWithoutLoadSegment(t *testing.T) {
	phdrOff := uint16(EHDR64Size)
	var buf bytes.Buffer
	buf.Write(buildEhdr64(phdrOff, 0))
	f, err := NewBytes(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}
	if f.Bias != 0 {
		t.Errorf("Bias = %d, want 0", f.Bias)
	}
}
