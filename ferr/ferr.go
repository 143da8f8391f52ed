// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ferr defines the error taxonomy shared by the elf, ar and pe
// decoders: a single closed sum type instead of one sentinel error per
// failure site, so callers of any of the three formats can switch on the
// same four kinds.
package ferr

import "fmt"

// Kind classifies why a decoder gave up on an input.
type Kind int

const (
	// Malformed means a structural invariant was violated: truncation, an
	// impossible field value, or an inconsistent size.
	Malformed Kind = iota

	// BadMagic means the identifying bytes at the start of the buffer did
	// not match any format this package recognizes.
	BadMagic

	// OutOfBounds means a read would extend past the end of the input
	// buffer.
	OutOfBounds

	// Unsupported means the input is a recognized but unimplemented
	// feature, e.g. an ELF class/data byte outside {32,64}/{LE,BE}, or
	// an OS/2, VxD or TE signature where a PE NT header is expected.
	Unsupported
)

// String renders the Kind name, e.g. for inclusion in log lines.
func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case BadMagic:
		return "bad-magic"
	case OutOfBounds:
		return "out-of-bounds"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the single user-visible failure surface of this module's
// decoders. Subsystem names the component that failed (e.g. "elf.dynamic",
// "ar.index", "pe.tls") and Offset, when >= 0, is the byte offset into the
// input that the failure relates to.
type Error struct {
	Kind      Kind
	Subsystem string
	Offset    int64
	Message   string

	// Observed carries the bad-magic bytes, interpreted as a little-endian
	// u64, when Kind == BadMagic.
	Observed uint64
}

func (e *Error) Error() string {
	if e.Kind == BadMagic {
		return fmt.Sprintf("%s: %s: observed magic 0x%x", e.Subsystem, e.Kind, e.Observed)
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: %s at offset 0x%x: %s", e.Subsystem, e.Kind, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Subsystem, e.Kind, e.Message)
}

// Malformedf builds a Malformed error for subsystem at offset.
func Malformedf(subsystem string, offset int64, format string, args ...interface{}) *Error {
	return &Error{Kind: Malformed, Subsystem: subsystem, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// OutOfBoundsf builds an OutOfBounds error for subsystem at offset.
func OutOfBoundsf(subsystem string, offset int64, format string, args ...interface{}) *Error {
	return &Error{Kind: OutOfBounds, Subsystem: subsystem, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// Unsupportedf builds an Unsupported error for subsystem.
func Unsupportedf(subsystem string, format string, args ...interface{}) *Error {
	return &Error{Kind: Unsupported, Subsystem: subsystem, Offset: -1, Message: fmt.Sprintf(format, args...)}
}

// BadMagicErr builds a BadMagic error carrying the observed value.
func BadMagicErr(subsystem string, observed uint64) *Error {
	return &Error{Kind: BadMagic, Subsystem: subsystem, Offset: 0, Observed: observed}
}

// Is reports whether err is a *Error of the given Kind, so callers can
// write `if ferr.Is(err, ferr.OutOfBounds)` instead of a type switch.
func Is(err error, kind Kind) bool {
	fe, ok := err.(*Error)
	return ok && fe.Kind == kind
}
