// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Hash-table symbol-count derivation. Neither the SysV DT_HASH nor the GNU
// DT_GNU_HASH table is retained in full; both exist here only to answer
// "how many entries are in .dynsym", which the dynamic array does not
// state directly (spec.md §4.4: "count is derived from DT_HASH or
// DT_GNU_HASH when present, otherwise from the size of the enclosing
// section header").
package elf

import "github.com/binspect/binspect/ferr"

// sysvSymCount reads the classic SysV .hash table layout:
//
//	nbucket, nchain uint32
//	bucket[nbucket]  uint32
//	chain[nchain]    uint32
//
// nchain is, by construction, exactly the number of symbols in the linked
// symbol table.
func sysvSymCount(data []byte, h Header, offset uint64) (int, error) {
	ord := h.ByteOrder()
	if offset+8 > uint64(len(data)) {
		return 0, ferr.OutOfBoundsf("elf.hash", int64(offset), "truncated DT_HASH header")
	}
	nchain := ord.Uint32(data[offset+4 : offset+8])
	return int(nchain), nil
}

// gnuHashSymCount derives the highest symbol index referenced by a
// DT_GNU_HASH table, which (together with symoffset) is the only way to
// recover .dynsym's length when the hash table omits a direct count the
// way SysV hash does.
//
// Layout:
//
//	nbuckets, symoffset, bloomSize, bloomShift uint32
//	bloom[bloomSize]                           uint64 (or uint32 on 32-bit)
//	buckets[nbuckets]                          uint32
//	chain[]                                    uint32, one per symbol from symoffset on,
//	                                            terminated per-bucket by an odd value.
func gnuHashSymCount(data []byte, h Header, offset uint64) (int, error) {
	ord := h.ByteOrder()
	if offset+16 > uint64(len(data)) {
		return 0, ferr.OutOfBoundsf("elf.gnu-hash", int64(offset), "truncated DT_GNU_HASH header")
	}
	nbuckets := ord.Uint32(data[offset : offset+4])
	symoffset := ord.Uint32(data[offset+4 : offset+8])
	bloomSize := ord.Uint32(data[offset+8 : offset+12])

	bloomWordSize := uint64(8)
	if h.Class == Class32 {
		bloomWordSize = 4
	}
	bucketsOff := offset + 16 + uint64(bloomSize)*bloomWordSize
	chainOff := bucketsOff + uint64(nbuckets)*4

	if bucketsOff+uint64(nbuckets)*4 > uint64(len(data)) {
		return 0, ferr.OutOfBoundsf("elf.gnu-hash", int64(bucketsOff), "truncated GNU hash bucket array")
	}

	maxSym := uint32(0)
	for i := uint32(0); i < nbuckets; i++ {
		b := ord.Uint32(data[bucketsOff+uint64(i)*4 : bucketsOff+uint64(i)*4+4])
		if b > maxSym {
			maxSym = b
		}
	}
	if maxSym < symoffset {
		return int(symoffset), nil
	}

	// Walk the chain for the bucket with the highest starting index until
	// its odd-terminated run ends, to find the true last symbol index.
	idx := maxSym
	for {
		pos := chainOff + uint64(idx-symoffset)*4
		if pos+4 > uint64(len(data)) {
			break
		}
		v := ord.Uint32(data[pos : pos+4])
		if v&1 == 1 {
			break
		}
		idx++
	}
	return int(idx) + 1, nil
}
