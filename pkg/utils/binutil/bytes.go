package binutil

import "math"

// ParseUint32LittleEndian DCBA
func ParseUint32LittleEndian(buf []byte) uint32 {
	return uint32(buf[3])<<24 +
		uint32(buf[2])<<16 +
		uint32(buf[1])<<8 +
		uint32(buf[0])
}

func ParseInt32LittleEndian(buf []byte) int32 {
	return int32(ParseUint32LittleEndian(buf))
}

func ParseFloat32LittleEndian(buf []byte) float32 {
	return math.Float32frombits(ParseUint32LittleEndian(buf))
}

// WriteUint32LittleEndian DCBA
func WriteUint32LittleEndian(buf []byte, value uint32) {
	buf[3] = byte(value >> 24)
	buf[2] = byte(value >> 16)
	buf[1] = byte(value >> 8)
	buf[0] = byte(value)
}

func WriteInt32LittleEndian(buf []byte, value int32) {
	WriteUint32LittleEndian(buf, uint32(value))
}

func WriteFloat32LittleEndian(buf []byte, value float32) {
	WriteUint32LittleEndian(buf, math.Float32bits(value))
}

// IsPrintable reports whether b is a visible ASCII character or a space.
func IsPrintable(b byte) bool {
	return b >= 0x20 && b <= 0x7e
}

// Dup copy
func Dup(buf []byte) []byte {
	b := make([]byte, len(buf))
	copy(b, buf)
	return b
}
