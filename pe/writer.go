// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
)

// maxNumberOfSectionsPE is the upper bound on the number of sections
// a PE image may carry, inclusive, taken from the Microsoft PE/COFF
// specification (and mirrored by LLVM's COFF writer).
const maxNumberOfSectionsPE = 65279

var (
	// ErrTooManySections is reported when a Writer would emit more than
	// maxNumberOfSectionsPE sections.
	ErrTooManySections = ferr.Unsupportedf("pe.writer", "too many sections for a PE image (limit %d)", maxNumberOfSectionsPE)

	// ErrMissingOptionalHeader is reported when Writer.New is given a File
	// whose optional header was never parsed.
	ErrMissingOptionalHeader = ferr.Malformedf("pe.writer", -1, "missing optional header, write is not supported")

	// ErrPendingSectionNeedsContents is reported when a pending section
	// carries contents but none of the mapped characteristics
	// (read/write/execute).
	ErrPendingSectionNeedsContents = ferr.Malformedf("pe.writer", -1, "pending section has contents but no mapped characteristics")

	// ErrDebugDirectoryCrossesSectionBoundary is reported when the debug
	// data directory does not fit entirely within one section.
	ErrDebugDirectoryCrossesSectionBoundary = ferr.Malformedf("pe.writer", -1, "debug directory extends past end of section")
)

// PendingSection describes a section a Writer should append to the image.
// Fields that can be derived (virtual address, raw-data pointer, sizes) are
// left zero and computed at write time.
type PendingSection struct {
	Name            string
	Characteristics uint32
	Contents        []byte

	header ImageSectionHeader
}

// Writer re-lays-out a decoded PE's headers, section table, and data
// directories to accommodate zero or more pending new sections, producing a
// new, independent output buffer. It never mutates the File it was built
// from, and never moves an existing section's body — it only appends.
type Writer struct {
	pe               *File
	fileAlignment    uint32
	sectionAlignment uint32

	pending []PendingSection

	fileSize              uint32
	sizeOfInitializedData uint64
}

// NewWriter captures the file-alignment/section-alignment pair from the
// decoded optional header and returns a Writer ready to accept pending
// sections.
func NewWriter(pe *File) (*Writer, error) {
	if pe.NtHeader.OptionalHeader == nil {
		return nil, ErrMissingOptionalHeader
	}
	w := &Writer{pe: pe}
	switch oh := pe.NtHeader.OptionalHeader.(type) {
	case ImageOptionalHeader32:
		w.fileAlignment = oh.FileAlignment
		w.sectionAlignment = oh.SectionAlignment
	case ImageOptionalHeader64:
		w.fileAlignment = oh.FileAlignment
		w.sectionAlignment = oh.SectionAlignment
	default:
		return nil, ErrMissingOptionalHeader
	}
	return w, nil
}

// InsertSection enqueues a pending section. When its characteristics mark it
// mapped (readable, writable, or executable), a virtual address is assigned
// immediately: the highest (virtual_address + virtual_size) across existing
// and already-pending sections, rounded up to the section alignment.
func (w *Writer) InsertSection(name string, characteristics uint32, contents []byte) error {
	ps := PendingSection{Name: name, Characteristics: characteristics, Contents: contents}
	needVA := characteristics&(ImageScnMemRead|ImageScnMemWrite|ImageScnMemExecute) != 0
	if needVA {
		var highest uint32
		for _, s := range w.pe.Sections {
			end := s.Header.VirtualAddress + s.Header.VirtualSize
			if end > highest {
				highest = end
			}
		}
		for _, p := range w.pending {
			end := p.header.VirtualAddress + p.header.VirtualSize
			if end > highest {
				highest = end
			}
		}
		ps.header.VirtualSize = uint32(len(contents))
		ps.header.VirtualAddress = alignUp(highest, w.sectionAlignment)
	} else if len(contents) > 0 {
		return ErrPendingSectionNeedsContents
	}
	ps.header.Characteristics = characteristics
	copy(ps.header.Name[:], name)
	w.pending = append(w.pending, ps)
	return nil
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

// layoutSection rounds a section's raw-data size up to the file alignment,
// assigns its raw-data pointer at the current file cursor, and advances the
// cursor and the running initialized-data total.
func layoutSection(fileSize *uint32, sizeOfInitializedData *uint64, header *ImageSectionHeader, dataLen int, fileAlignment uint32) {
	header.SizeOfRawData = alignUp(uint32(dataLen), fileAlignment)
	if header.SizeOfRawData > 0 {
		header.PointerToRawData = *fileSize
	} else {
		header.PointerToRawData = 0
	}
	*fileSize += header.SizeOfRawData
	*fileSize = alignUp(*fileSize, fileAlignment)
	if header.Characteristics&ImageScnCntInitializedData == ImageScnCntInitializedData {
		*sizeOfInitializedData += uint64(header.SizeOfRawData)
	}
}

// WriteInto finalizes the layout and serializes the whole image: headers,
// section table, section bodies (0xCC-padded executable slack), then the
// certificate table and debug directory, in that order, since neither is
// mapped into memory and both must trail everything else on disk.
func (w *Writer) WriteInto() ([]byte, error) {
	total := len(w.pe.Sections) + len(w.pending)
	if total > maxNumberOfSectionsPE {
		return nil, ErrTooManySections
	}

	is64 := w.pe.Is64
	lfanew := w.pe.DOSHeader.AddressOfNewEXEHeader
	coffHeaderSize := uint32(binary.Size(ImageFileHeader{}))

	var optionalHeaderSize uint32
	if is64 {
		optionalHeaderSize = uint32(binary.Size(ImageOptionalHeader64{}))
	} else {
		optionalHeaderSize = uint32(binary.Size(ImageOptionalHeader32{}))
	}

	sectionHeaderSize := uint32(binary.Size(ImageSectionHeader{}))
	numberOfSections := uint16(total)

	sizeOfHeaders := lfanew + 4 + coffHeaderSize + optionalHeaderSize +
		uint32(numberOfSections)*sectionHeaderSize
	sizeOfHeaders = alignUp(sizeOfHeaders, w.fileAlignment)

	w.fileSize = sizeOfHeaders
	w.sizeOfInitializedData = 0

	// Lay out existing sections first (in their current order), then the
	// pending ones in insertion order; existing bodies are never moved in
	// virtual-address space, only their on-disk position is recomputed.
	existingHeaders := make([]ImageSectionHeader, len(w.pe.Sections))
	for i, s := range w.pe.Sections {
		h := s.Header
		layoutSection(&w.fileSize, &w.sizeOfInitializedData, &h, int(s.Header.SizeOfRawData), w.fileAlignment)
		existingHeaders[i] = h
	}
	for i := range w.pending {
		layoutSection(&w.fileSize, &w.sizeOfInitializedData, &w.pending[i].header, len(w.pending[i].Contents), w.fileAlignment)
	}

	var sizeOfImage uint32
	for _, h := range existingHeaders {
		if end := alignUp(h.VirtualAddress+h.VirtualSize, w.sectionAlignment); end > sizeOfImage {
			sizeOfImage = end
		}
	}
	for _, p := range w.pending {
		if end := alignUp(p.header.VirtualAddress+p.header.VirtualSize, w.sectionAlignment); end > sizeOfImage {
			sizeOfImage = end
		}
	}

	dataDirs, err := w.layoutDataDirectories(is64)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, w.fileSize)
	if err := w.writeHeaders(buf, existingHeaders, sizeOfHeaders, sizeOfImage, dataDirs); err != nil {
		return nil, err
	}
	if err := w.writeSections(buf, existingHeaders); err != nil {
		return nil, err
	}
	if err := w.writeCertificatesAndDebug(buf, existingHeaders, dataDirs); err != nil {
		return nil, err
	}

	return buf, nil
}

// layoutDataDirectories returns the 16 data-directory entries for the new
// image: every directory that isn't the certificate table or the debug
// table keeps its existing (virtual_address, size) unchanged, since the
// content it names lives inside a section body that this writer copies
// verbatim; the certificate table and debug table are assigned fresh
// positions past the end of all section data, in that order, because
// neither is mapped into memory.
func (w *Writer) layoutDataDirectories(is64 bool) ([16]DataDirectory, error) {
	var dirs [16]DataDirectory
	if is64 {
		dirs = w.pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).DataDirectory
	} else {
		dirs = w.pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).DataDirectory
	}

	const (
		certificateTableIndex = 4
		debugTableIndex       = 6
	)

	if dirs[certificateTableIndex].Size > 0 {
		dirs[certificateTableIndex].VirtualAddress = w.fileSize
		dirs[certificateTableIndex].Size = uint32(len(w.pe.Certificates.Raw))
		w.fileSize += dirs[certificateTableIndex].Size
	}
	if dirs[debugTableIndex].Size > 0 {
		w.fileSize = alignUp(w.fileSize, 4)
		dirs[debugTableIndex].VirtualAddress = w.fileSize
		w.fileSize += dirs[debugTableIndex].Size
	}
	w.fileSize = alignUp(w.fileSize, w.fileAlignment)
	return dirs, nil
}

func (w *Writer) writeHeaders(buf []byte, existingHeaders []ImageSectionHeader, sizeOfHeaders, sizeOfImage uint32, dataDirs [16]DataDirectory) error {
	lfanew := w.pe.DOSHeader.AddressOfNewEXEHeader

	// DOS header + DOS stub are copied verbatim from the source image; this
	// writer never relocates e_lfanew.
	if int(lfanew)+4 > len(w.pe.Header) {
		return ErrMissingOptionalHeader
	}
	copy(buf, w.pe.Header[:lfanew])

	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, w.pe.NtHeader.Signature)

	fileHeader := w.pe.NtHeader.FileHeader
	fileHeader.NumberOfSections = uint16(len(existingHeaders) + len(w.pending))
	binary.Write(&b, binary.LittleEndian, fileHeader)

	switch oh := w.pe.NtHeader.OptionalHeader.(type) {
	case ImageOptionalHeader32:
		oh.SizeOfHeaders = sizeOfHeaders
		oh.SizeOfImage = sizeOfImage
		oh.SizeOfInitializedData = uint32(w.sizeOfInitializedData)
		oh.CheckSum = 0
		oh.DataDirectory = dataDirs
		binary.Write(&b, binary.LittleEndian, oh)
	case ImageOptionalHeader64:
		oh.SizeOfHeaders = sizeOfHeaders
		oh.SizeOfImage = sizeOfImage
		oh.SizeOfInitializedData = uint32(w.sizeOfInitializedData)
		oh.CheckSum = 0
		oh.DataDirectory = dataDirs
		binary.Write(&b, binary.LittleEndian, oh)
	}

	for _, h := range existingHeaders {
		binary.Write(&b, binary.LittleEndian, h)
	}
	for _, p := range w.pending {
		binary.Write(&b, binary.LittleEndian, p.header)
	}

	copy(buf[lfanew:], b.Bytes())
	return nil
}

// writeSections copies every existing section's raw bytes, and every
// pending section's contents, to the raw-data pointer layoutSection
// assigned it. Sections marked executable have their slack (the gap
// between the contents length and the aligned SizeOfRawData) padded with
// 0xCC, an int3 breakpoint opcode on x86 and a recognizable disassembly
// landmark for any slack bytes that should never be reached.
func (w *Writer) writeSections(buf []byte, existingHeaders []ImageSectionHeader) error {
	data := []byte(w.pe.data)
	for i, s := range w.pe.Sections {
		h := existingHeaders[i]
		if h.SizeOfRawData == 0 {
			continue
		}
		srcOff := s.Header.PointerToRawData
		srcLen := s.Header.SizeOfRawData
		if uint32(len(data)) < srcOff+srcLen {
			srcLen = uint32(len(data)) - srcOff
		}
		n := copy(buf[h.PointerToRawData:], data[srcOff:srcOff+srcLen])
		padExecutableSlack(buf, h, uint32(n))
	}
	for _, p := range w.pending {
		h := p.header
		if h.SizeOfRawData == 0 {
			continue
		}
		n := copy(buf[h.PointerToRawData:], p.Contents)
		padExecutableSlack(buf, h, uint32(n))
	}
	return nil
}

func padExecutableSlack(buf []byte, h ImageSectionHeader, written uint32) {
	if h.Characteristics&ImageScnMemExecute == 0 {
		return
	}
	for i := written; i < h.SizeOfRawData; i++ {
		buf[h.PointerToRawData+i] = 0xCC
	}
}

// writeCertificatesAndDebug emits the certificate table bytes and the debug
// directory entries at the positions layoutDataDirectories assigned them,
// then patches each debug entry's PointerToRawData from its
// AddressOfRawData RVA using the new section layout, since the directory
// was serialized before the section table it points into was finalized.
func (w *Writer) writeCertificatesAndDebug(buf []byte, existingHeaders []ImageSectionHeader, dataDirs [16]DataDirectory) error {
	certOff := dataDirs[4].VirtualAddress
	debugOff := dataDirs[6].VirtualAddress

	if dataDirs[4].Size > 0 && len(w.pe.Certificates.Raw) > 0 {
		copy(buf[certOff:], w.pe.Certificates.Raw)
	}

	if dataDirs[6].Size > 0 {
		entrySize := uint32(binary.Size(ImageDebugDirectory{}))
		off := debugOff
		for _, d := range w.pe.Debugs {
			entry := d.Struct
			if entry.PointerToRawData != 0 {
				if p, err := rvaToRawPointer(existingHeaders, entry.AddressOfRawData); err == nil {
					entry.PointerToRawData = p
				}
			}
			var b bytes.Buffer
			binary.Write(&b, binary.LittleEndian, entry)
			copy(buf[off:], b.Bytes())
			off += entrySize
		}
	}

	return nil
}

// rvaToRawPointer finds which re-laid-out section contains rva and
// translates it to a file offset within that section's new raw-data
// position.
func rvaToRawPointer(headers []ImageSectionHeader, rva uint32) (uint32, error) {
	for _, h := range headers {
		end := h.VirtualAddress + h.VirtualSize
		if rva >= h.VirtualAddress && rva < end {
			return h.PointerToRawData + (rva - h.VirtualAddress), nil
		}
	}
	return 0, ErrDebugDirectoryCrossesSectionBoundary
}
