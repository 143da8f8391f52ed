// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// ARM EABI build-attributes section (.ARM.attributes), the "Tag_*" records
// a cross compiler leaves describing the CPU/architecture/ABI choices it
// built for. The format is a single format-version byte ('A'), followed by
// one or more vendor subsections, each carrying a vendor name and a run of
// ULEB128-tagged sub-subsections (Tag_File = 1, Tag_Section = 2,
// Tag_Symbol = 3) whose body is itself a stream of (tag, value) pairs.
// Tags up to 32 carry a ULEB128 value (except Tag_CPU_name, a
// NUL-terminated string); above 32, even tags carry a ULEB128 value and
// odd ones a NUL-terminated string.
package elf

import "github.com/binspect/binspect/ferr"

const buildAttrFormatVersion = 'A'

// Well-known Tag_* numbers a reader commonly cares about; unrecognized
// tags are preserved in Attribute.Tag/Value rather than rejected.
const (
	TagFile    = 1
	TagSection = 2
	TagSymbol  = 3

	TagCPUName   = 5
	TagCPUArch   = 6
	TagFPArch    = 10
	TagDivUse    = 44
)

// Attribute is a single decoded (tag, value) pair from a build-attributes
// sub-subsection. Exactly one of String/ULEB is meaningful, selected by
// whether Tag is odd (NTBS) or even (ULEB128) per the Arm addendum's
// convention for tags above 32.
type Attribute struct {
	Tag    uint64 `json:"tag"`
	String string `json:"string,omitempty"`
	ULEB   uint64 `json:"uleb,omitempty"`
	IsStr  bool   `json:"is_string"`
}

// BuildAttributesSection is one vendor subsection of .ARM.attributes.
type BuildAttributesSection struct {
	Vendor     string      `json:"vendor"`
	Attributes []Attribute `json:"attributes"`
}

// parseBuildAttributes decodes the .ARM.attributes section contents.
func parseBuildAttributes(data []byte) ([]BuildAttributesSection, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != buildAttrFormatVersion {
		return nil, ferr.Malformedf("elf.build-attributes", 0, "unsupported format-version byte 0x%x", data[0])
	}

	var sections []BuildAttributesSection
	off := 1
	for off < len(data) {
		if off+4 > len(data) {
			return nil, ferr.OutOfBoundsf("elf.build-attributes", int64(off), "truncated subsection length")
		}
		length := leUint32(data[off : off+4])
		if length < 4 || off+int(length) > len(data) {
			return nil, ferr.Malformedf("elf.build-attributes", int64(off), "bad subsection length %d", length)
		}
		sub := data[off+4 : off+int(length)]

		nameEnd := indexByte(sub, 0)
		if nameEnd < 0 {
			return nil, ferr.Malformedf("elf.build-attributes", int64(off+4), "vendor name not NUL-terminated")
		}
		vendor := string(sub[:nameEnd])
		body := sub[nameEnd+1:]

		attrs, err := parseSubSubsections(body)
		if err != nil {
			return nil, err
		}
		sections = append(sections, BuildAttributesSection{Vendor: vendor, Attributes: attrs})

		off += int(length)
	}
	return sections, nil
}

// parseSubSubsections walks the Tag_File/Tag_Section/Tag_Symbol records
// following a vendor name and returns the (tag, value) pairs of the
// Tag_File records only, flattened into one list. Tag_Section and
// Tag_Symbol records are skipped over by their length and not decoded.
func parseSubSubsections(data []byte) ([]Attribute, error) {
	var attrs []Attribute
	off := 0
	for off < len(data) {
		if off+5 > len(data) {
			break
		}
		// tag (1 byte) + length (4 bytes), length counts from the tag byte
		// itself (i.e. includes both the tag and the length field).
		tag := data[off]
		length := leUint32(data[off+1 : off+5])
		if length < 5 || off+int(length) > len(data) {
			return nil, ferr.Malformedf("elf.build-attributes", int64(off), "bad sub-subsection length %d for tag %d", length, tag)
		}
		body := data[off+5 : off+int(length)]

		if tag == TagFile {
			parsed, err := parseAttributeStream(body)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, parsed...)
		}

		off += int(length)
	}
	return attrs, nil
}

func parseAttributeStream(data []byte) ([]Attribute, error) {
	var attrs []Attribute
	off := 0
	for off < len(data) {
		tag, n := uleb128(data[off:])
		if n == 0 {
			return nil, ferr.Malformedf("elf.build-attributes", int64(off), "malformed ULEB128 tag")
		}
		off += n

		isStr := tagIsString(tag)
		if isStr {
			end := indexByte(data[off:], 0)
			if end < 0 {
				return nil, ferr.Malformedf("elf.build-attributes", int64(off), "attribute value not NUL-terminated")
			}
			attrs = append(attrs, Attribute{Tag: tag, String: string(data[off : off+end]), IsStr: true})
			off += end + 1
		} else {
			val, n := uleb128(data[off:])
			if n == 0 {
				return nil, ferr.Malformedf("elf.build-attributes", int64(off), "malformed ULEB128 value for tag %d", tag)
			}
			attrs = append(attrs, Attribute{Tag: tag, ULEB: val})
			off += n
		}
	}
	return attrs, nil
}

// tagIsString applies the Arm addendum's convention: tags 1-32 are
// individually defined (most are ULEB128, a handful like CpuName are
// NTBS, which this simplified decoder treats as ULEB unless explicitly
// listed); for tags above 32, odd numbers are NTBS and even are ULEB128.
func tagIsString(tag uint64) bool {
	switch tag {
	case TagCPUName:
		return true
	}
	if tag <= 32 {
		return false
	}
	return tag%2 == 1
}

func uleb128(data []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, b := range data {
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
		if shift > 63 {
			return 0, 0
		}
	}
	return 0, 0
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
