// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ar decodes the SysV variant of the Unix ar archive format:
// static libraries such as libc.a, as described in spec.md §4.5. It reads
// the member-header stream, recognizes the two special members (the `/`
// SysV symbol index and the `//` extended-name table), and builds the
// canonical-name and symbol lookup maps a linker would need.
package ar

import (
	"os"
	"strconv"
	"strings"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/binspect/binspect/ferr"
	"github.com/binspect/binspect/log"
)

// Magic is the 8-byte signature every SysV archive begins with.
var Magic = [8]byte{'!', '<', 'a', 'r', 'c', 'h', '>', '\n'}

const (
	sizeofMagic      = 8
	sizeofIdentifier = 16
	sizeofHeader     = sizeofIdentifier + 12 + 6 + 6 + 8 + 10 + 2

	indexName    = "/               "
	nameIndexName = "//              "
)

// Header is the 60-byte ASCII header preceding every archive member's
// data. Every field except Size is kept in its on-disk ASCII encoding,
// not interpreted: Identifier verbatim, the others with their space
// padding trimmed.
type Header struct {
	// Identifier is the raw, space-padded 16-byte member name field,
	// including a trailing "/" for names that fit inline.
	Identifier string `json:"identifier"`

	// Timestamp is the ASCII decimal file-modification timestamp.
	Timestamp string `json:"timestamp"`

	// OwnerID is the ASCII decimal owner id.
	OwnerID string `json:"owner_id"`

	// GroupID is the ASCII decimal group id.
	GroupID string `json:"group_id"`

	// Mode is the ASCII octal file mode.
	Mode string `json:"mode"`

	// Size is the member's data size in bytes, parsed from the ASCII
	// decimal size field. It does not include the 0/1 byte of padding
	// that follows odd-sized members.
	Size uint64 `json:"size"`
}

// Member is a single non-special entry in the archive: a header plus the
// file offset at which its data begins (immediately after the header,
// with no padding skipped yet — Parse already accounts for
// alignment when it advances past each member).
type Member struct {
	Header Header `json:"header"`

	// Offset is the file offset of the member's data, i.e. exactly
	// sizeofHeader bytes past the start of this member's header.
	Offset uint64 `json:"offset"`
}

// Name returns the canonical member name: the raw identifier with
// trailing spaces and a trailing "/" stripped. For names that reference
// the extended-name table ("/<decimal offset>"), callers should use
// Archive.CanonicalName instead, which resolves the indirection.
func (m Member) Name() string {
	return strings.TrimRight(strings.TrimRight(m.Header.Identifier, " "), "/")
}

// Archive is the parsed, in-memory representation of a SysV ar file. Byte
// slices returned by Extract borrow from the input buffer supplied to
// Parse; names and header fields are copied into Go strings.
type Archive struct {
	Members []Member `json:"members"`

	// SymbolIndexOffsets are the per-symbol, big-endian member-offset
	// entries from the `/` special member, in on-disk order. SymbolNames
	// is the parallel array of symbol names from that same member's
	// trailing string table.
	SymbolIndexOffsets []uint32 `json:"symbol_index_offsets"`
	SymbolNames        []string `json:"symbol_names"`

	data           []byte
	extendedNames  []byte
	nameToMember   map[string]int
	symbolToMember map[string]int
	logger         *log.Helper

	mm mmap.MMap
	f  *os.File
}

// Options configures Parse. The zero value is the common case.
type Options struct {
	// Logger receives anomaly-level diagnostics (e.g. a symbol index entry
	// that matches no member). A nil Logger discards them.
	Logger log.Logger
}

// New opens name, memory-maps it read-only, and parses it as a SysV
// archive, mirroring elf.New and pe.New's file-based entry point.
func New(name string, opts *Options) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := Parse(data, opts)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	a.mm = data
	a.f = f
	return a, nil
}

// NewBytes parses data as an in-memory SysV archive. It is an alias for
// Parse, kept so ar's entry points read the same as elf.NewBytes and
// pe.NewBytes.
func NewBytes(data []byte, opts *Options) (*Archive, error) {
	return Parse(data, opts)
}

// Close releases the backing memory map, if the Archive was opened with
// New. Archives built with Parse or NewBytes need no cleanup; Close is a
// no-op for them.
func (a *Archive) Close() error {
	if a.mm != nil {
		_ = a.mm.Unmap()
	}
	if a.f != nil {
		return a.f.Close()
	}
	return nil
}

// Parse decodes a SysV archive from data. It returns a *ferr.Error for a
// bad magic, a malformed size field, a truncated member header, or a
// truncated symbol index or extended-name table. An ordinary member whose
// data runs past the end of the input is recorded as is; Extract reports
// it.
func Parse(data []byte, opts *Options) (*Archive, error) {
	if opts == nil {
		opts = &Options{}
	}
	helper := log.NewHelper(opts.Logger)

	if len(data) < sizeofMagic {
		return nil, ferr.Malformedf("ar.magic", 0, "archive shorter than magic")
	}
	var magic [8]byte
	copy(magic[:], data[:sizeofMagic])
	if magic != Magic {
		observed := uint64(0)
		for i := 0; i < 8 && i < len(data); i++ {
			observed |= uint64(data[i]) << (8 * uint(i))
		}
		return nil, ferr.BadMagicErr("ar.magic", observed)
	}

	a := &Archive{data: data, logger: helper}

	offset := uint64(sizeofMagic)
	size := uint64(len(data))

	for offset < size {
		if offset&1 == 1 {
			offset++
			if offset >= size {
				break
			}
		}

		hdr, err := parseHeader(data, offset)
		if err != nil {
			return nil, err
		}
		memberOffset := offset + sizeofHeader

		switch hdr.Identifier {
		case indexName:
			if err := a.parseSymbolIndex(data, memberOffset, hdr.Size); err != nil {
				return nil, err
			}
			offset = memberOffset + hdr.Size
		case nameIndexName:
			if memberOffset+hdr.Size > uint64(len(data)) {
				return nil, ferr.OutOfBoundsf("ar.extended-names", int64(memberOffset), "extended name table extends past end of archive")
			}
			a.extendedNames = data[memberOffset : memberOffset+hdr.Size]
			offset = memberOffset + hdr.Size
		default:
			a.Members = append(a.Members, Member{Header: hdr, Offset: memberOffset})
			offset = memberOffset + hdr.Size
		}
	}

	a.buildNameIndex()
	if err := a.buildSymbolIndex(); err != nil {
		return nil, err
	}
	return a, nil
}

func parseHeader(data []byte, offset uint64) (Header, error) {
	if offset+sizeofHeader > uint64(len(data)) {
		return Header{}, ferr.OutOfBoundsf("ar.header", int64(offset), "truncated member header")
	}
	b := data[offset : offset+sizeofHeader]

	identifier := string(b[0:16])
	timestamp := string(b[16:28])
	ownerID := string(b[28:34])
	groupID := string(b[34:40])
	mode := string(b[40:48])
	sizeField := strings.TrimRight(string(b[48:58]), " ")
	terminator := b[58:60]

	if terminator[0] != 0x60 || terminator[1] != 0x0A {
		return Header{}, ferr.Malformedf("ar.header", int64(offset), "bad header terminator %#v", terminator)
	}

	size, err := strconv.ParseUint(strings.TrimSpace(sizeField), 10, 64)
	if err != nil {
		return Header{}, ferr.Malformedf("ar.header", int64(offset), "bad size field %q: %v", sizeField, err)
	}

	return Header{
		Identifier: identifier,
		Timestamp:  strings.TrimSpace(timestamp),
		OwnerID:    strings.TrimSpace(ownerID),
		GroupID:    strings.TrimSpace(groupID),
		Mode:       strings.TrimSpace(mode),
		Size:       size,
	}, nil
}

// parseSymbolIndex decodes the `/` special member: a big-endian u32 count,
// that many big-endian u32 member offsets, then a NUL-delimited string
// table of the same count of names.
func (a *Archive) parseSymbolIndex(data []byte, offset, size uint64) error {
	if offset+4 > uint64(len(data)) {
		return ferr.OutOfBoundsf("ar.symbol-index", int64(offset), "truncated symbol count")
	}
	count := be32(data[offset:])
	pos := offset + 4

	if pos+uint64(count)*4 > uint64(len(data)) {
		return ferr.OutOfBoundsf("ar.symbol-index", int64(pos), "truncated offset table for %d symbols", count)
	}
	offsets := make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		offsets[i] = be32(data[pos:])
		pos += 4
	}

	strtabStart := pos
	strtabEnd := offset + size
	if strtabEnd > uint64(len(data)) || strtabEnd < strtabStart {
		return ferr.OutOfBoundsf("ar.symbol-index", int64(strtabStart), "symbol name table extends past end of archive")
	}
	names := splitNulDelimited(data[strtabStart:strtabEnd], int(count))

	a.SymbolIndexOffsets = offsets
	a.SymbolNames = names
	return nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func splitNulDelimited(data []byte, count int) []string {
	names := make([]string, 0, count)
	start := 0
	for i := 0; i < len(data) && len(names) < count; i++ {
		if data[i] == 0 {
			names = append(names, string(data[start:i]))
			start = i + 1
		}
	}
	return names
}

// CanonicalName resolves a raw, possibly indirect member identifier
// ("/<decimal offset>" into the extended-name table, or an inline
// space/slash-padded name) to its canonical form.
func (a *Archive) CanonicalName(identifier string) (string, error) {
	if !strings.HasPrefix(identifier, "/") || identifier == indexName || identifier == nameIndexName {
		return strings.TrimRight(strings.TrimRight(identifier, " "), "/"), nil
	}
	idxStr := strings.TrimSpace(strings.TrimPrefix(identifier, "/"))
	idx, err := strconv.ParseUint(idxStr, 10, 64)
	if err != nil {
		return "", ferr.Malformedf("ar.name-index", -1, "bad extended name index %q: %v", identifier, err)
	}
	if a.extendedNames == nil {
		return "", ferr.Malformedf("ar.name-index", -1, "extended name reference %q but no // member present", identifier)
	}
	name, err := extendedNameAt(a.extendedNames, idx)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(name, "/"), nil
}

// extendedNameAt returns the newline-delimited entry of the `//` member
// starting at byte offset idx. Unlike strtab.Table, offset 0 is a valid,
// non-empty entry here: the extended-name table has no reserved empty
// slot the way ELF/PE NUL-delimited string tables do.
func extendedNameAt(table []byte, idx uint64) (string, error) {
	if idx >= uint64(len(table)) {
		return "", ferr.OutOfBoundsf("ar.extended-names", int64(idx), "index beyond table of length %d", len(table))
	}
	end := idx
	for end < uint64(len(table)) && table[end] != '\n' {
		end++
	}
	return string(table[idx:end]), nil
}

func (a *Archive) buildNameIndex() {
	a.nameToMember = make(map[string]int, len(a.Members))
	for i, m := range a.Members {
		name, err := a.CanonicalName(m.Header.Identifier)
		if err != nil {
			a.logger.Warnf("member %d: %v", i, err)
			continue
		}
		a.nameToMember[name] = i
	}
}

// buildSymbolIndex matches each symbol's recorded offset against member
// header offsets by unconditional linear search. spec.md §9 flags the
// original "equality against a running last_symidx" shortcut as buggy
// (it collides with a genuinely-zero offset); this rebuilds the map from
// scratch for every symbol instead.
func (a *Archive) buildSymbolIndex() error {
	a.symbolToMember = make(map[string]int, len(a.SymbolNames))
	for i, name := range a.SymbolNames {
		if i >= len(a.SymbolIndexOffsets) {
			break
		}
		target := uint64(a.SymbolIndexOffsets[i]) + sizeofHeader
		found := false
		for memidx, m := range a.Members {
			if m.Offset == target {
				a.symbolToMember[name] = memidx
				found = true
				break
			}
		}
		if !found {
			a.logger.Warnf("symbol %q: offset 0x%x matches no member", name, a.SymbolIndexOffsets[i])
		}
	}
	return nil
}

// MemberOfSymbol returns the canonical member name defining symbol, if
// the archive's symbol index references it.
func (a *Archive) MemberOfSymbol(symbol string) (string, bool) {
	idx, ok := a.symbolToMember[symbol]
	if !ok {
		return "", false
	}
	name, err := a.CanonicalName(a.Members[idx].Header.Identifier)
	if err != nil {
		return "", false
	}
	return name, true
}

// Extract returns the raw bytes of the named member.
func (a *Archive) Extract(name string) ([]byte, error) {
	idx, ok := a.nameToMember[name]
	if !ok {
		return nil, ferr.Malformedf("ar.extract", -1, "member %q not found", name)
	}
	m := a.Members[idx]
	start := m.Offset
	end := start + m.Header.Size
	if end > uint64(len(a.data)) {
		return nil, ferr.OutOfBoundsf("ar.extract", int64(start), "member %q extends past end of archive", name)
	}
	return a.data[start:end], nil
}

// MemberNames returns the canonical names of every ordinary member, in
// on-disk order.
func (a *Archive) MemberNames() []string {
	names := make([]string, 0, len(a.Members))
	for _, m := range a.Members {
		if name, err := a.CanonicalName(m.Header.Identifier); err == nil {
			names = append(names, name)
		}
	}
	return names
}
