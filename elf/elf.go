// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/binspect/binspect/ferr"
	"github.com/binspect/binspect/log"
	"github.com/binspect/binspect/strtab"
)

// File is a fully parsed ELF object, executable, shared object or core
// file.
type File struct {
	Header         Header                    `json:"header"`
	ProgramHeaders []ProgramHeader           `json:"program_headers,omitempty"`
	SectionHeaders []SectionHeader           `json:"section_headers,omitempty"`
	Dynamic        []Dyn                     `json:"dynamic,omitempty"`
	DynamicInfo    DynamicInfo               `json:"-"`
	Symbols        []Sym                     `json:"symbols,omitempty"`
	Rela           []Rela                    `json:"rela,omitempty"`
	PltRela        []Rela                    `json:"plt_rela,omitempty"`
	Notes          []Note                    `json:"notes,omitempty"`
	Verneed        []Verneed                 `json:"verneed,omitempty"`
	BuildAttrs     []BuildAttributesSection  `json:"build_attributes,omitempty"`
	Needed         []string                  `json:"needed,omitempty"`
	SOName         string                    `json:"soname,omitempty"`
	Interpreter    string                    `json:"interpreter,omitempty"`
	Bias           uint64                    `json:"bias"`

	data   []byte
	mm     mmap.MMap
	f      *os.File
	opts   *Options
	logger *log.Helper
}

// Options configures Parse. The zero value is the common case.
type Options struct {
	// Logger receives permissive-mode diagnostics, e.g. a verneed section
	// whose linked string table index is out of range. A nil Logger
	// discards them.
	Logger log.Logger
}

// New opens name, memory-maps it read-only, and parses it as an ELF
// object.
func New(name string, opts *Options) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	file, err := NewBytes(data, opts)
	if err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}
	file.mm = data
	file.f = f
	return file, nil
}

// NewBytes parses data as an in-memory ELF object.
func NewBytes(data []byte, opts *Options) (*File, error) {
	if opts == nil {
		opts = &Options{}
	}
	file := &File{data: data, opts: opts, logger: log.NewHelper(opts.Logger)}
	if err := file.parse(); err != nil {
		return nil, err
	}
	return file, nil
}

// Close releases the backing memory map, if the File was opened with New.
func (f *File) Close() error {
	if f.mm != nil {
		_ = f.mm.Unmap()
	}
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

func (f *File) parse() error {
	h, err := parseHeader(f.data)
	if err != nil {
		return err
	}
	f.Header = h

	phdrs, err := parseProgramHeaders(f.data, h)
	if err != nil {
		return err
	}
	f.ProgramHeaders = phdrs
	f.Bias = bias(phdrs)

	if interp, ok := interpreter(f.data, phdrs); ok {
		f.Interpreter = interp
	}

	shdrs, err := parseSectionHeaders(f.data, h)
	if err != nil {
		f.logger.Warnf("section header parsing failed: %v", err)
	} else {
		f.SectionHeaders = shdrs
	}

	dyns, err := parseDynamic(f.data, h, phdrs)
	if err != nil {
		return err
	}
	f.Dynamic = dyns

	if dyns != nil {
		info := newDynamicInfo(dyns, f.Bias)
		f.DynamicInfo = info

		if info.Strtab != 0 {
			strEnd := info.Strtab + info.Strsz
			if strEnd <= uint64(len(f.data)) {
				dynstr := strtab.New(f.data[info.Strtab:strEnd], 0, "elf.dynstr")
				f.Needed = neededLibraries(dyns, dynstr)
				if soname, err := dynstr.Get(info.Soname); err == nil {
					f.SOName = soname
				}
			}
		}

		if info.Symtab != 0 && info.Syment != 0 {
			count, err := f.symbolCount(info)
			if err != nil {
				f.logger.Warnf("symbol count derivation failed: %v", err)
			} else if count > 0 {
				syms, err := parseSymbols(f.data, h, info.Symtab, info.Syment, count)
				if err != nil {
					f.logger.Warnf("symbol table parsing failed: %v", err)
				} else {
					f.Symbols = syms
				}
			}
		}

		if info.Rela != 0 {
			relas, err := parseRelas(f.data, h, info.Rela, info.RelaSz)
			if err != nil {
				f.logger.Warnf("rela parsing failed: %v", err)
			} else {
				f.Rela = relas
			}
		}
		if info.Jmprel != 0 {
			pltrelas, err := parseRelas(f.data, h, info.Jmprel, info.PltRelSz)
			if err != nil {
				f.logger.Warnf("pltrela parsing failed: %v", err)
			} else {
				f.PltRela = pltrelas
			}
		}
	}

	for _, ph := range phdrs {
		if ph.Type != PT_NOTE {
			continue
		}
		alignment := int64(8)
		if h.Class == Class32 {
			alignment = 4
		}
		notes, err := parseNotes(f.data, h.ByteOrder(), ph.Offset, ph.Filesz, alignment)
		if err != nil {
			f.logger.Warnf("note parsing failed: %v", err)
			continue
		}
		f.Notes = append(f.Notes, notes...)
	}
	for _, sh := range shdrs {
		if sh.Type != SHT_NOTE {
			continue
		}
		notes, err := parseNotes(f.data, h.ByteOrder(), sh.Offset, sh.Size, 4)
		if err != nil {
			f.logger.Warnf("note section parsing failed: %v", err)
			continue
		}
		f.Notes = append(f.Notes, notes...)
	}

	if shdrs != nil {
		verneed, err := parseVerneed(f.data, h, shdrs)
		if err != nil {
			f.logger.Warnf("verneed parsing failed: %v", err)
		} else {
			f.Verneed = verneed
		}

		if sh, ok := findSectionByName(shdrs, ".ARM.attributes"); ok {
			start, end := int64(sh.Offset), int64(sh.Offset+sh.Size)
			if start >= 0 && end <= int64(len(f.data)) && end >= start {
				attrs, err := parseBuildAttributes(f.data[start:end])
				if err != nil {
					f.logger.Warnf("build attributes parsing failed: %v", err)
				} else {
					f.BuildAttrs = attrs
				}
			}
		}
	}

	return nil
}

// symbolCount derives the number of .dynsym entries from DT_GNU_HASH or
// DT_HASH when present, falling back to the enclosing SHT_DYNSYM section
// header's size, per spec.md §4.4.
func (f *File) symbolCount(info DynamicInfo) (int, error) {
	if info.GNUHash != 0 {
		if c, err := gnuHashSymCount(f.data, f.Header, info.GNUHash); err == nil {
			return c, nil
		}
	}
	if info.Hash != 0 {
		if c, err := sysvSymCount(f.data, f.Header, info.Hash); err == nil {
			return c, nil
		}
	}
	for _, sh := range f.SectionHeaders {
		if sh.Type == SHT_DYNSYM && sh.EntSize > 0 {
			return int(sh.Size / sh.EntSize), nil
		}
	}
	return 0, ferr.Unsupportedf("elf.symbol-count", "no DT_HASH, DT_GNU_HASH or SHT_DYNSYM available")
}
