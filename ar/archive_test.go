// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ar

import (
	"bytes"
	"testing"

	"github.com/binspect/binspect/ferr"
)

// buildMember builds a 60-byte SysV header followed by the member's data,
// right-padding every ASCII field as the format requires and appending a
// single 0x0A padding byte when size is odd.
func buildMember(name string, data []byte) []byte {
	pad := func(s string, n int) string {
		if len(s) > n {
			s = s[:n]
		}
		for len(s) < n {
			s += " "
		}
		return s
	}
	var buf bytes.Buffer
	buf.WriteString(pad(name, 16))
	buf.WriteString(pad("0", 12))
	buf.WriteString(pad("0", 6))
	buf.WriteString(pad("0", 6))
	buf.WriteString(pad("0", 8))
	buf.WriteString(pad(itoa(len(data)), 10))
	buf.Write([]byte{0x60, 0x0A})
	buf.Write(data)
	if len(data)%2 == 1 {
		buf.WriteByte(0x0A)
	}
	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func be32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// buildArchive assembles magic + a `/` symbol index (one symbol, pointing
// at crt1Offset, the header offset of the crt1.o member) + the crt1.o
// member itself, and returns the full archive bytes. The symbol index entry
// holds the header offset of the crt1.o member.
func buildArchive(t *testing.T, symbol, memberName string, memberData []byte) []byte {
	t.Helper()

	crt1Member := buildMember(memberName, memberData)

	// The crt1.o member immediately follows the index member in our test
	// archive; compute its header offset once we know the index size.
	nameStrtab := []byte(symbol)
	nameStrtab = append(nameStrtab, 0)
	indexData := append(be32Bytes(1), be32Bytes(0)...) // placeholder offset, patched below
	indexData = append(indexData, nameStrtab...)

	indexMember := buildMember("/", indexData)
	crt1HeaderOffset := uint32(len(Magic) + len(indexMember))

	// Patch the placeholder offset (4 bytes after the count).
	patched := buildMember("/", append(append(be32Bytes(1), be32Bytes(crt1HeaderOffset)...), nameStrtab...))

	var out bytes.Buffer
	out.Write(Magic[:])
	out.Write(patched)
	out.Write(crt1Member)
	return out.Bytes()
}

func TestArchiveExtractAndSymbolLookup(t *testing.T) {
	memberData := bytes.Repeat([]byte{0xAB}, 1928)
	data := buildArchive(t, "_start", "crt1.o/", memberData)

	a, err := Parse(data, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	name, ok := a.MemberOfSymbol("_start")
	if !ok || name != "crt1.o" {
		t.Fatalf("MemberOfSymbol(_start) = %q, %v; want crt1.o, true", name, ok)
	}

	extracted, err := a.Extract("crt1.o")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(extracted) != 1928 {
		t.Fatalf("extracted length = %d, want 1928", len(extracted))
	}
	if !bytes.Equal(extracted, memberData) {
		t.Fatalf("extracted content mismatch")
	}
}

func TestArchiveBadMagic(t *testing.T) {
	_, err := Parse([]byte("not an archive!"), nil)
	if !ferr.Is(err, ferr.BadMagic) {
		t.Fatalf("err = %v, want BadMagic", err)
	}
}

func TestArchiveExtendedNames(t *testing.T) {
	longName := "this_is_a_member_name_longer_than_sixteen_bytes.o"
	extendedNames := []byte(longName + "/\n")
	nameIndexMember := buildMember("//", extendedNames)

	member := buildMember("/0", []byte{1, 2, 3, 4})

	var out bytes.Buffer
	out.Write(Magic[:])
	out.Write(nameIndexMember)
	out.Write(member)

	a, err := Parse(out.Bytes(), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	names := a.MemberNames()
	if len(names) != 1 || names[0] != longName {
		t.Fatalf("MemberNames() = %v, want [%q]", names, longName)
	}

	extracted, err := a.Extract(longName)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(extracted, []byte{1, 2, 3, 4}) {
		t.Fatalf("extracted content mismatch: %v", extracted)
	}
}
