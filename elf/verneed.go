// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import (
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
	"github.com/binspect/binspect/strtab"
)

const (
	sizeofVerneed = 16
	sizeofVernaux = 16
)

// Vernaux is a single "version needed auxiliary" entry: one specific
// version string required of a dependency.
type Vernaux struct {
	Hash  uint32 `json:"vna_hash"`
	Flags uint16 `json:"vna_flags"`
	Other uint16 `json:"vna_other"`
	Name  string `json:"vna_name"`
}

// Verneed is a "version needed" entry: a dependency file name plus the
// set of versions of it this object requires.
type Verneed struct {
	Version uint16    `json:"vn_version"`
	File    string    `json:"vn_file"`
	Aux     []Vernaux `json:"aux"`
}

// parseVerneed walks the SHT_GNU_VERNEED section, if present, following
// vn_next across the outer Verneed list and vna_next across each entry's
// inner Vernaux list, terminating each walk at a zero "next" field per
// spec.md §4.4.
func parseVerneed(data []byte, h Header, shdrs []SectionHeader) ([]Verneed, error) {
	sh, ok := findSection(shdrs, SHT_GNU_VERNEED)
	if !ok {
		return nil, nil
	}
	if int(sh.Link) >= len(shdrs) {
		return nil, ferr.Malformedf("elf.verneed", int64(sh.Offset), "sh_link %d out of range", sh.Link)
	}
	strShdr := shdrs[sh.Link]
	strStart, strEnd := int64(strShdr.Offset), int64(strShdr.Offset+strShdr.Size)
	if strStart < 0 || strEnd > int64(len(data)) || strEnd < strStart {
		return nil, ferr.OutOfBoundsf("elf.verneed", strStart, "linked string table out of range")
	}
	symstr := strtab.New(data[strStart:strEnd], 0, "elf.verneed.strtab")

	order := h.ByteOrder()
	base := int64(sh.Offset)
	end := int64(sh.Offset + sh.Size)
	if end > int64(len(data)) || end < base {
		return nil, ferr.OutOfBoundsf("elf.verneed", base, "section extends past end of file")
	}

	count := int(sh.Info)
	results := make([]Verneed, 0, count)
	off := base
	for i := 0; i < count; i++ {
		if off+sizeofVerneed > end {
			return nil, ferr.OutOfBoundsf("elf.verneed", off, "verneed entry %d extends past section", i)
		}
		b := data[off : off+sizeofVerneed]
		vnVersion := order.Uint16(b[0:2])
		vnCnt := order.Uint16(b[2:4])
		vnFile := order.Uint32(b[4:8])
		vnAux := order.Uint32(b[8:12])
		vnNext := order.Uint32(b[12:16])

		fileName, _ := symstr.Get(uint64(vnFile))

		aux, err := parseVernaux(data, order, off+int64(vnAux), int(vnCnt), symstr, end)
		if err != nil {
			return nil, err
		}

		results = append(results, Verneed{Version: vnVersion, File: fileName, Aux: aux})

		if vnNext == 0 {
			break
		}
		off += int64(vnNext)
	}
	return results, nil
}

func parseVernaux(data []byte, order binary.ByteOrder, offset int64, count int, symstr *strtab.Table, sectionEnd int64) ([]Vernaux, error) {
	aux := make([]Vernaux, 0, count)
	off := offset
	for i := 0; i < count; i++ {
		if off+sizeofVernaux > sectionEnd {
			return nil, ferr.OutOfBoundsf("elf.vernaux", off, "vernaux entry %d extends past section", i)
		}
		b := data[off : off+sizeofVernaux]
		hash := order.Uint32(b[0:4])
		flags := order.Uint16(b[4:6])
		other := order.Uint16(b[6:8])
		name := order.Uint32(b[8:12])
		next := order.Uint32(b[12:16])

		nameStr, _ := symstr.Get(uint64(name))
		aux = append(aux, Vernaux{Hash: hash, Flags: flags, Other: other, Name: nameStr})

		if next == 0 {
			break
		}
		off += int64(next)
	}
	return aux, nil
}
