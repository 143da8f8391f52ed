// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package elf

import "testing"

// TestParseBuildAttributes feeds the canonical ARM32 .ARM.attributes
// section (vendor "aeabi", CPU arch v7, ISA ARM + Thumb-2, FP arch VFPv3,
// Neon v1, wchar_t 4, 8-byte alignment) and checks the decoded (tag, value)
// stream matches what readelf reports for it.
func TestParseBuildAttributes(t *testing.T) {
	data := []byte{
		0x41, 0x36, 0x00, 0x00, 0x00, 0x61, 0x65, 0x61, 0x62, 0x69, 0x00, 0x01, 0x2c, 0x00, 0x00, 0x00,
		0x05, 0x37, 0x2d, 0x41, 0x00, 0x06, 0x0a, 0x07, 0x41, 0x08, 0x01, 0x09, 0x02, 0x0a, 0x03, 0x0c,
		0x01, 0x12, 0x04, 0x14, 0x01, 0x15,
		0x01, 0x17, 0x03, 0x18, 0x01, 0x19, 0x01, 0x1a, 0x02, 0x1c, 0x01, 0x22, 0x01, 0x2a, 0x01, 0x44, 0x01,
	}

	sections, err := parseBuildAttributes(data)
	if err != nil {
		t.Fatalf("parseBuildAttributes: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	sec := sections[0]
	if sec.Vendor != "aeabi" {
		t.Errorf("Vendor = %q, want aeabi", sec.Vendor)
	}

	type want struct {
		tag    uint64
		isStr  bool
		str    string
		uleb   uint64
	}
	wants := []want{
		{tag: 5, isStr: true, str: "7-A"},
		{tag: 6, uleb: 10}, // Tag_CPU_arch: v7
		{tag: 7, uleb: 0x41}, // Tag_CPU_arch_profile: Application
		{tag: 8, uleb: 1}, // Tag_ARM_ISA_use: Yes
		{tag: 9, uleb: 2}, // Tag_THUMB_ISA_use: Thumb-2
		{tag: 10, uleb: 3}, // Tag_FP_arch: VFPv3
		{tag: 12, uleb: 1}, // Tag_Advanced_SIMD_arch: NEONv1
		{tag: 18, uleb: 4}, // Tag_ABI_PCS_wchar_t: 4
		{tag: 20, uleb: 1},
		{tag: 21, uleb: 1},
		{tag: 23, uleb: 3},
		{tag: 24, uleb: 1}, // Tag_ABI_align_needed: 8-byte
		{tag: 25, uleb: 1},
		{tag: 26, uleb: 2},
		{tag: 28, uleb: 1}, // Tag_ABI_VFP_args: VFP registers
		{tag: 34, uleb: 1}, // Tag_CPU_unaligned_access: v6
		{tag: 42, uleb: 1}, // Tag_MPextension_use: Allowed
		{tag: 68, uleb: 1}, // Tag_Virtualization_use: TrustZone
	}

	if len(sec.Attributes) != len(wants) {
		t.Fatalf("got %d attributes, want %d: %+v", len(sec.Attributes), len(wants), sec.Attributes)
	}
	for i, w := range wants {
		got := sec.Attributes[i]
		if got.Tag != w.tag {
			t.Errorf("attribute %d: Tag = %d, want %d", i, got.Tag, w.tag)
		}
		if got.IsStr != w.isStr {
			t.Errorf("attribute %d (tag %d): IsStr = %v, want %v", i, w.tag, got.IsStr, w.isStr)
		}
		if w.isStr && got.String != w.str {
			t.Errorf("attribute %d (tag %d): String = %q, want %q", i, w.tag, got.String, w.str)
		}
		if !w.isStr && got.ULEB != w.uleb {
			t.Errorf("attribute %d (tag %d): ULEB = %d, want %d", i, w.tag, got.ULEB, w.uleb)
		}
	}
}

func TestParseBuildAttributesRejectsBadFormatVersion(t *testing.T) {
	if _, err := parseBuildAttributes([]byte{0x42, 0, 0, 0, 0}); err == nil {
		t.Fatal("expected error for unsupported format-version byte")
	}
}

func TestParseBuildAttributesEmptyIsNotError(t *testing.T) {
	sections, err := parseBuildAttributes(nil)
	if err != nil {
		t.Fatalf("parseBuildAttributes(nil): %v", err)
	}
	if sections != nil {
		t.Errorf("sections = %v, want nil", sections)
	}
}
