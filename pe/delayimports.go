// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"

	"github.com/binspect/binspect/ferr"
)

// maxDelayImportDescriptors bounds the IMAGE_DELAYLOAD_DESCRIPTOR walk: the
// array has no explicit count, only a zero-filled terminator, so a corrupt
// or adversarial image that never zeroes its terminator would otherwise walk
// off into the rest of the file forever.
const maxDelayImportDescriptors = 4096

// ImageDelayImportDescriptor represents the IMAGE_DELAYLOAD_DESCRIPTOR
// structure: one entry per DLL the image delay-loads, i.e. resolves on
// first call rather than at load time. In its original Visual C++ 6.0
// incarnation the RVA-shaped fields below actually held virtual addresses;
// the Attributes field distinguishes the two layouts (bit 0 set means the
// fields are genuine RVAs).
type ImageDelayImportDescriptor struct {
	// Attributes, most commonly just RvaBased (bit 0): the remaining fields
	// are RVAs rather than absolute addresses.
	Attributes uint32 `json:"attributes"`

	// The RVA of an ASCII string containing the DLL name.
	Name uint32 `json:"name"`

	// The RVA of the module handle (in the data section) to be filled in
	// once the DLL is loaded.
	ModuleHandleRVA uint32 `json:"module_handle_rva"`

	// The RVA of the delay-load import address table.
	ImportAddressTableRVA uint32 `json:"import_address_table_rva"`

	// The RVA of the delay-load import name table, whose layout matches the
	// regular import lookup table (INT).
	ImportNameTableRVA uint32 `json:"import_name_table_rva"`

	// The RVA of the bound delay-load address table, or zero if unused.
	BoundImportAddressTableRVA uint32 `json:"bound_import_address_table_rva"`

	// The RVA of the unload delay-load address table, or zero if unused.
	UnloadInformationTableRVA uint32 `json:"unload_information_table_rva"`

	// The timestamp of the bound DLL, or zero if not bound.
	TimeDateStamp uint32 `json:"time_date_stamp"`
}

// DelayImport represents a single DLL entry in the delay import directory.
type DelayImport struct {
	Offset     uint32                      `json:"offset"`
	Name       string                      `json:"name"`
	Functions  []ImportFunction            `json:"functions"`
	Descriptor ImageDelayImportDescriptor  `json:"descriptor"`
}

// parseDelayImportDirectory walks the IMAGE_DELAYLOAD_DESCRIPTOR array,
// reusing the same thunk-table machinery parseImportDirectory uses for the
// regular import table: getImportTable32/64 and parseImports32/64 already
// type-switch on *ImageDelayImportDescriptor.
func (pe *File) parseDelayImportDirectory(rva, size uint32) (err error) {
	for count := 0; ; count++ {
		if count >= maxDelayImportDescriptors {
			return ferr.Malformedf("pe.delayimports", int64(rva),
				"more than %d delay-import descriptors without a zero terminator", maxDelayImportDescriptors)
		}
		delayDesc := ImageDelayImportDescriptor{}
		fileOffset := pe.GetOffsetFromRva(rva)
		delayDescSize := uint32(binary.Size(delayDesc))
		err := pe.structUnpack(&delayDesc, fileOffset, delayDescSize)
		if err != nil {
			return err
		}

		if delayDesc == (ImageDelayImportDescriptor{}) {
			break
		}

		rva += delayDescSize

		maxLen := uint32(len(pe.data)) - fileOffset
		if rva > delayDesc.ImportNameTableRVA || rva > delayDesc.ImportAddressTableRVA {
			if rva < delayDesc.ImportNameTableRVA {
				maxLen = rva - delayDesc.ImportAddressTableRVA
			} else if rva < delayDesc.ImportAddressTableRVA {
				maxLen = rva - delayDesc.ImportNameTableRVA
			} else {
				maxLen = Max(rva-delayDesc.ImportNameTableRVA,
					rva-delayDesc.ImportAddressTableRVA)
			}
		}

		var importedFunctions []ImportFunction
		if pe.Is64 {
			importedFunctions, err = pe.parseImports64(&delayDesc, maxLen)
		} else {
			importedFunctions, err = pe.parseImports32(&delayDesc, maxLen)
		}
		if err != nil {
			return err
		}

		dllName := pe.getStringAtRVA(delayDesc.Name, maxDllLength)
		if !IsValidDosFilename(dllName) {
			dllName = "*invalid*"
			continue
		}

		pe.DelayImports = append(pe.DelayImports, DelayImport{
			Offset:     fileOffset,
			Name:       string(dllName),
			Functions:  importedFunctions,
			Descriptor: delayDesc,
		})
	}

	if len(pe.DelayImports) > 0 {
		pe.HasDelayImp = true
	}

	return nil
}
