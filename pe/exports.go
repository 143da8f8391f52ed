// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
)

// maxExportedFunctions bounds NumberOfFunctions/NumberOfNames: both are
// attacker-controlled 32-bit counts read straight from the export directory,
// and each entry drives a make() call, so an unbounded value is a trivial
// memory-exhaustion vector.
const maxExportedFunctions = 1 << 20

// ImageExportDirectory represents the IMAGE_EXPORT_DIRECTORY structure, the
// header of the export directory table: one per image, naming the module
// and indexing its exported functions by both ordinal and name.
type ImageExportDirectory struct {
	Characteristics       uint32 `json:"characteristics"`
	TimeDateStamp         uint32 `json:"time_date_stamp"`
	MajorVersion          uint16 `json:"major_version"`
	MinorVersion          uint16 `json:"minor_version"`
	Name                  uint32 `json:"name"`
	Base                  uint32 `json:"base"`
	NumberOfFunctions     uint32 `json:"number_of_functions"`
	NumberOfNames         uint32 `json:"number_of_names"`
	AddressOfFunctions    uint32 `json:"address_of_functions"`
	AddressOfNames        uint32 `json:"address_of_names"`
	AddressOfNameOrdinals uint32 `json:"address_of_name_ordinals"`
}

// ExportFunction represents a single exported symbol. A forwarded export
// (one whose address table entry points inside the export directory itself
// rather than at code) carries a non-empty Forwarder string naming the
// "DLL.Symbol" or "DLL.#Ordinal" it resolves to instead of a FunctionRVA.
type ExportFunction struct {
	Ordinal      uint32 `json:"ordinal"`
	FunctionRVA  uint32 `json:"function_rva"`
	NameRVA      uint32 `json:"name_rva"`
	Name         string `json:"name"`
	Forwarder    string `json:"forwarder,omitempty"`
	ForwarderRVA uint32 `json:"forwarder_rva,omitempty"`
}

// Export is the fully decoded export directory: the module name it exports
// under, the raw directory header, and every function it advertises.
type Export struct {
	Name      string                `json:"name"`
	Struct    ImageExportDirectory  `json:"struct"`
	Functions []ExportFunction      `json:"functions"`
}

const maxExportNameLength = 0x200

// parseExportDirectory decodes the IMAGE_EXPORT_DIRECTORY at rva, resolving
// every ordinal-indexed address table entry, and for each name pointer
// table entry, the function it names. Address table entries that fall
// inside [rva, rva+size) are forwarders: their RVA points at a
// "DLL.Symbol" string rather than code, per spec.md's PE export rules.
func (pe *File) parseExportDirectory(rva, size uint32) (err error) {
	expDirOffset := pe.GetOffsetFromRva(rva)
	expDir := ImageExportDirectory{}
	expDirSize := uint32(binary.Size(expDir))
	if err := pe.structUnpack(&expDir, expDirOffset, expDirSize); err != nil {
		return err
	}

	if expDir.NumberOfFunctions > maxExportedFunctions || expDir.NumberOfNames > maxExportedFunctions {
		return ferr.Malformedf("pe.exports", int64(expDirOffset),
			"export directory claims %d functions / %d names, exceeds sanity limit %d",
			expDir.NumberOfFunctions, expDir.NumberOfNames, maxExportedFunctions)
	}

	dllName := pe.getStringAtRVA(expDir.Name, maxExportNameLength)
	if !IsValidDosFilename(dllName) {
		dllName = ""
	}

	// Address table: one entry per ordinal slot, 0..NumberOfFunctions.
	addressTable := make([]uint32, expDir.NumberOfFunctions)
	addrTableOffset := pe.GetOffsetFromRva(expDir.AddressOfFunctions)
	for i := uint32(0); i < expDir.NumberOfFunctions; i++ {
		v, err := pe.ReadUint32(addrTableOffset + i*4)
		if err != nil {
			break
		}
		addressTable[i] = v
	}

	// Name pointer table and the parallel ordinal table it's indexed by.
	namePointerTable := make([]uint32, expDir.NumberOfNames)
	namePtrOffset := pe.GetOffsetFromRva(expDir.AddressOfNames)
	for i := uint32(0); i < expDir.NumberOfNames; i++ {
		v, err := pe.ReadUint32(namePtrOffset + i*4)
		if err != nil {
			break
		}
		namePointerTable[i] = v
	}

	nameOrdinalTable := make([]uint16, expDir.NumberOfNames)
	ordTableOffset := pe.GetOffsetFromRva(expDir.AddressOfNameOrdinals)
	for i := uint32(0); i < expDir.NumberOfNames; i++ {
		v, err := pe.ReadUint16(ordTableOffset + i*2)
		if err != nil {
			break
		}
		nameOrdinalTable[i] = v
	}

	// ordinalToName maps an address-table index (ordinal - Base) back to
	// the name that resolves to it, when one exists.
	ordinalToName := make(map[uint16]string, len(nameOrdinalTable))
	for i, ord := range nameOrdinalTable {
		if uint32(i) >= uint32(len(namePointerTable)) {
			break
		}
		name := pe.getStringAtRVA(namePointerTable[i], maxExportNameLength)
		ordinalToName[ord] = name
	}

	exportStart, exportEnd := rva, rva+size
	functions := make([]ExportFunction, 0, len(addressTable))
	for i, funcRVA := range addressTable {
		if funcRVA == 0 {
			continue
		}
		ef := ExportFunction{
			Ordinal: expDir.Base + uint32(i),
		}
		if name, ok := ordinalToName[uint16(i)]; ok {
			ef.Name = name
			ef.NameRVA = namePointerTable[indexOfOrdinal(nameOrdinalTable, uint16(i))]
		}
		if funcRVA >= exportStart && funcRVA < exportEnd {
			ef.ForwarderRVA = funcRVA
			ef.Forwarder = pe.getStringAtRVA(funcRVA, maxExportNameLength)
		} else {
			ef.FunctionRVA = funcRVA
		}
		functions = append(functions, ef)
	}

	pe.Export = Export{
		Name:      dllName,
		Struct:    expDir,
		Functions: functions,
	}
	if len(functions) > 0 {
		pe.HasExport = true
	}
	return nil
}

func indexOfOrdinal(ords []uint16, target uint16) int {
	for i, o := range ords {
		if o == target {
			return i
		}
	}
	return 0
}
