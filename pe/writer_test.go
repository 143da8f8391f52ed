// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"testing"
)

const (
	testLfanew           = 0x80
	testFileAlignment    = 0x200
	testSectionAlignment = 0x1000
)

// buildMinimalPE32 assembles a self-contained PE32 image with one ".text"
// section, small enough to build inline rather than checking in a binary
// fixture: DOS header, a zero-filled DOS stub up to e_lfanew, PE signature,
// COFF header, optional header (PE32, 16 empty data directories), one
// section table entry, and that section's raw bytes.
func buildMinimalPE32(t *testing.T, sectionName string, sectionCharacteristics uint32, sectionData []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	dos := ImageDOSHeader{
		Magic:                 ImageDOSSignature,
		AddressOfNewEXEHeader: testLfanew,
	}
	if err := binary.Write(&buf, binary.LittleEndian, dos); err != nil {
		t.Fatalf("writing dos header: %v", err)
	}
	buf.Write(make([]byte, testLfanew-buf.Len()))

	if err := binary.Write(&buf, binary.LittleEndian, uint32(ImageNTSignature)); err != nil {
		t.Fatalf("writing pe signature: %v", err)
	}

	fileHeader := ImageFileHeader{
		Machine:              0x8664,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(ImageOptionalHeader32{})),
	}
	if err := binary.Write(&buf, binary.LittleEndian, fileHeader); err != nil {
		t.Fatalf("writing file header: %v", err)
	}

	sectionHeaderOffset := uint32(buf.Len()) + uint32(binary.Size(ImageOptionalHeader32{}))
	sectionRawOffset := alignUp(sectionHeaderOffset+uint32(binary.Size(ImageSectionHeader{})), testFileAlignment)
	sizeOfHeaders := alignUp(sectionRawOffset, testFileAlignment)
	sizeOfRawData := alignUp(uint32(len(sectionData)), testFileAlignment)

	optHeader := ImageOptionalHeader32{
		Magic:                 ImageNtOptionalHeader32Magic,
		SectionAlignment:      testSectionAlignment,
		FileAlignment:         testFileAlignment,
		ImageBase:             0x400000,
		SizeOfImage:           alignUp(testSectionAlignment+uint32(len(sectionData)), testSectionAlignment),
		SizeOfHeaders:         sizeOfHeaders,
		NumberOfRvaAndSizes:   16,
		SizeOfInitializedData: sizeOfRawData,
		Subsystem:             2,
	}
	if err := binary.Write(&buf, binary.LittleEndian, optHeader); err != nil {
		t.Fatalf("writing optional header: %v", err)
	}

	section := ImageSectionHeader{
		VirtualSize:      uint32(len(sectionData)),
		VirtualAddress:   testSectionAlignment,
		SizeOfRawData:    sizeOfRawData,
		PointerToRawData: sectionRawOffset,
		Characteristics:  sectionCharacteristics,
	}
	copy(section.Name[:], sectionName)
	if err := binary.Write(&buf, binary.LittleEndian, section); err != nil {
		t.Fatalf("writing section header: %v", err)
	}

	buf.Write(make([]byte, int(sectionRawOffset)-buf.Len()))
	buf.Write(sectionData)
	buf.Write(make([]byte, int(sizeOfRawData)-len(sectionData)))

	return buf.Bytes()
}

func parseMinimalPE32(t *testing.T, data []byte) *File {
	t.Helper()
	f, err := NewBytes(data, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes: %v", err)
	}
	if err := f.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

// TestWriterNoOpPreservesSectionCount covers the writer-idempotence
// scenario: writing back a decoded PE with no pending sections must not
// change the section count, and every emitted section must still satisfy
// size_of_raw_data % file_alignment == 0.
func TestWriterNoOpPreservesSectionCount(t *testing.T) {
	src := buildMinimalPE32(t, ".text", ImageScnMemRead|ImageScnMemExecute|ImageScnCntInitializedData,
		bytes.Repeat([]byte{0x90}, 100))
	f := parseMinimalPE32(t, src)

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	out, err := w.WriteInto()
	if err != nil {
		t.Fatalf("WriteInto: %v", err)
	}

	got, err := NewBytes(out, &Options{Fast: true})
	if err != nil {
		t.Fatalf("re-parsing written image: %v", err)
	}
	if err := got.Parse(); err != nil {
		t.Fatalf("re-parsing written image: %v", err)
	}
	if len(got.Sections) != len(f.Sections) {
		t.Fatalf("section count = %d, want %d", len(got.Sections), len(f.Sections))
	}
	for _, s := range got.Sections {
		if s.Header.SizeOfRawData%testFileAlignment != 0 {
			t.Errorf("section %q: SizeOfRawData %d not aligned to %d",
				s.Header.Name, s.Header.SizeOfRawData, testFileAlignment)
		}
	}
}

// TestWriterAppendsPendingSection covers InsertSection's VA-assignment rule
// and the append-only invariant: the new section must land after every
// existing section in both virtual-address and file-offset space.
func TestWriterAppendsPendingSection(t *testing.T) {
	src := buildMinimalPE32(t, ".text", ImageScnMemRead|ImageScnMemExecute|ImageScnCntInitializedData,
		bytes.Repeat([]byte{0x90}, 50))
	f := parseMinimalPE32(t, src)

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	newContents := []byte("hello from a pending section")
	if err := w.InsertSection(".extra", ImageScnMemRead|ImageScnCntInitializedData, newContents); err != nil {
		t.Fatalf("InsertSection: %v", err)
	}

	out, err := w.WriteInto()
	if err != nil {
		t.Fatalf("WriteInto: %v", err)
	}

	got, err := NewBytes(out, &Options{Fast: true})
	if err != nil {
		t.Fatalf("re-parsing written image: %v", err)
	}
	if err := got.Parse(); err != nil {
		t.Fatalf("re-parsing written image: %v", err)
	}

	if len(got.Sections) != 2 {
		t.Fatalf("section count = %d, want 2", len(got.Sections))
	}
	last := got.Sections[1].Header
	first := got.Sections[0].Header
	if last.VirtualAddress < first.VirtualAddress+first.VirtualSize {
		t.Errorf("pending section VA %d overlaps existing section [%d, %d)",
			last.VirtualAddress, first.VirtualAddress, first.VirtualAddress+first.VirtualSize)
	}
	if last.PointerToRawData < first.PointerToRawData+first.SizeOfRawData {
		t.Errorf("pending section raw pointer %d overlaps existing section data", last.PointerToRawData)
	}

	gotData := got.data[last.PointerToRawData : last.PointerToRawData+uint32(len(newContents))]
	if !bytes.Equal(gotData, newContents) {
		t.Errorf("pending section contents = %q, want %q", gotData, newContents)
	}
}

func TestWriterRejectsTooManySections(t *testing.T) {
	src := buildMinimalPE32(t, ".text", ImageScnMemRead|ImageScnMemExecute, nil)
	f := parseMinimalPE32(t, src)
	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < maxNumberOfSectionsPE; i++ {
		if err := w.InsertSection(".x", ImageScnMemRead, []byte{1}); err != nil {
			t.Fatalf("InsertSection %d: %v", i, err)
		}
	}
	if _, err := w.WriteInto(); err == nil {
		t.Fatal("expected ErrTooManySections, got nil")
	}
}
