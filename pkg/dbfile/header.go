// pkg/dbfile/header.go
// Package dbfile implements the keel database file format.
// A database is a single file of fixed-size pages; the first 100 bytes of
// page 0 hold the file header described here.
package dbfile

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the size of the database file header in bytes.
	HeaderSize = 100

	// MagicString identifies a valid keel database file.
	// It must be exactly 16 bytes.
	MagicString = "KeelDB format 1\x00"

	// DefaultPageSize is the default page size in bytes.
	DefaultPageSize = 4096

	// MinPageSize is the smallest supported page size.
	MinPageSize = 512

	// MaxPageSize is the largest page size whose in-page offsets still fit
	// the u16 slot entries used by btree pages.
	MaxPageSize = 32768
)

// Header field offsets. All multi-byte fields are big-endian.
// Bytes 20..24 and 40..100 are reserved and zero.
const (
	offsetMagic         = 0  // 16 bytes: magic string
	offsetPageSize      = 16 // 4 bytes: page size
	offsetPageCount     = 24 // 4 bytes: total pages ever addressed
	offsetFreelistHead  = 28 // 4 bytes: first freelist page (0 = none)
	offsetFreelistCount = 32 // 4 bytes: number of freelist pages
	offsetSchemaRoot    = 36 // 4 bytes: root page of the schema catalog
)

var (
	ErrInvalidMagic    = errors.New("invalid database header (bad magic)")
	ErrHeaderTooShort  = errors.New("header data too short")
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidHeader   = errors.New("invalid database header")
)

// Header represents the 100-byte database file header.
type Header struct {
	PageSize      uint32 // Page size in bytes (power of 2, 512..32768)
	PageCount     uint32 // Total number of pages in the database
	FreelistHead  uint32 // Page number of the first freelist page (0 if none)
	FreelistCount uint32 // Total number of pages on the freelist
	SchemaRoot    uint32 // Root page of the schema catalog B+tree (0 until initialized)
}

// NewHeader creates a header for a fresh database: one page (the header
// page itself), no freelist, no schema catalog.
func NewHeader() *Header {
	return &Header{
		PageSize:  DefaultPageSize,
		PageCount: 1,
	}
}

// Encode serializes the header to a 100-byte slice.
func (h *Header) Encode() []byte {
	data := make([]byte, HeaderSize)

	copy(data[offsetMagic:], MagicString)
	binary.BigEndian.PutUint32(data[offsetPageSize:], h.PageSize)
	binary.BigEndian.PutUint32(data[offsetPageCount:], h.PageCount)
	binary.BigEndian.PutUint32(data[offsetFreelistHead:], h.FreelistHead)
	binary.BigEndian.PutUint32(data[offsetFreelistCount:], h.FreelistCount)
	binary.BigEndian.PutUint32(data[offsetSchemaRoot:], h.SchemaRoot)

	return data
}

// EncodeInto writes the header into the first 100 bytes of buf, which is
// typically a full page 0 image. The reserved bytes are zeroed.
func (h *Header) EncodeInto(buf []byte) {
	copy(buf[:HeaderSize], h.Encode())
}

// DecodeHeader deserializes a header from a byte slice.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrHeaderTooShort
	}
	if string(data[offsetMagic:offsetMagic+16]) != MagicString {
		return nil, ErrInvalidMagic
	}

	h := &Header{
		PageSize:      binary.BigEndian.Uint32(data[offsetPageSize:]),
		PageCount:     binary.BigEndian.Uint32(data[offsetPageCount:]),
		FreelistHead:  binary.BigEndian.Uint32(data[offsetFreelistHead:]),
		FreelistCount: binary.BigEndian.Uint32(data[offsetFreelistCount:]),
		SchemaRoot:    binary.BigEndian.Uint32(data[offsetSchemaRoot:]),
	}
	return h, nil
}
