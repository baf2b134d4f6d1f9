// internal/encoding/bigendian.go
package encoding

import "encoding/binary"

// Fixed-width big-endian accessors used by the page formats. Keys are
// signed 64-bit integers stored in big-endian two's complement; everything
// else is an unsigned fixed-width field.

func GetU16(buf []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(buf[offset : offset+2])
}

func PutU16(buf []byte, offset int, v uint16) {
	binary.BigEndian.PutUint16(buf[offset:offset+2], v)
}

func GetU32(buf []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(buf[offset : offset+4])
}

func PutU32(buf []byte, offset int, v uint32) {
	binary.BigEndian.PutUint32(buf[offset:offset+4], v)
}

func GetI64(buf []byte, offset int) int64 {
	return int64(binary.BigEndian.Uint64(buf[offset : offset+8]))
}

func PutI64(buf []byte, offset int, v int64) {
	binary.BigEndian.PutUint64(buf[offset:offset+8], uint64(v))
}
