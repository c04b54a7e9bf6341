package mobi

import (
	"bytes"
	"encoding/binary"
)

// EOFMarker is the 4-byte sentinel that terminates every MOBI file.
var EOFMarker = []byte{0xE9, 0x8E, 0x0D, 0x0A}

// BuildFLIS returns the fixed 36-byte FLIS record.
func BuildFLIS() []byte {
	var buf bytes.Buffer
	buf.WriteString("FLIS")
	binary.Write(&buf, binary.BigEndian, uint32(0x00000008))
	binary.Write(&buf, binary.BigEndian, uint16(0x0041))
	binary.Write(&buf, binary.BigEndian, uint16(0x0000))
	binary.Write(&buf, binary.BigEndian, uint32(0x00000000))
	binary.Write(&buf, binary.BigEndian, uint32(0xFFFFFFFF))
	binary.Write(&buf, binary.BigEndian, uint16(0x0001))
	binary.Write(&buf, binary.BigEndian, uint16(0x0003))
	binary.Write(&buf, binary.BigEndian, uint32(0x00000003))
	binary.Write(&buf, binary.BigEndian, uint32(0x00000001))
	binary.Write(&buf, binary.BigEndian, uint32(0xFFFFFFFF))
	return buf.Bytes()
}

// BuildFCIS returns the fixed 44-byte FCIS record for a text stream of the
// given total length.
func BuildFCIS(textLength uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("FCIS")
	binary.Write(&buf, binary.BigEndian, uint32(0x14))
	binary.Write(&buf, binary.BigEndian, uint32(0x10))
	binary.Write(&buf, binary.BigEndian, uint32(0x01))
	binary.Write(&buf, binary.BigEndian, uint32(0x00))
	binary.Write(&buf, binary.BigEndian, textLength)
	binary.Write(&buf, binary.BigEndian, uint32(0x00))
	binary.Write(&buf, binary.BigEndian, uint32(0x20))
	binary.Write(&buf, binary.BigEndian, uint32(0x08))
	binary.Write(&buf, binary.BigEndian, uint16(0x0001))
	binary.Write(&buf, binary.BigEndian, uint16(0x0001))
	binary.Write(&buf, binary.BigEndian, uint32(0x00000000))
	return buf.Bytes()
}
