package mobi

import (
	"bytes"
	"encoding/binary"
)

const (
	recordSize    = 4096
	nullUint32    = 0xFFFFFFFF
	mobiHeaderLen = 264

	// EXTH flags: bit 0x40 only. The teacher corpus's htol-fb2c defaults to
	// 0x50 (bit 0x40 | bit 0x10); 0x10 breaks popup footnotes on older
	// Kindles, so this writer never sets it.
	exthFlags = 0x40
)

// Record0Params carries every field needed to assemble Record 0.
type Record0Params struct {
	TextLength      uint32
	TextRecordCount uint16
	FirstImageRec   uint32 // nullUint32 when there are no images
	NCXIndexRec     uint32 // nullUint32 when there is no NCX
	FCISRecordIndex uint32
	FLISRecordIndex uint32
	UniqueID        uint32
	FullName        string
	EXTH            []byte
}

// BuildRecord0 assembles the complete Record 0 payload: the 16-byte
// PalmDOC header, the MOBI header (whose length field reads 264 and which
// ends at Record 0 offset 264, where the EXTH block begins), the EXTH block,
// the full book title, alignment padding and 4 trailing zero bytes.
func BuildRecord0(p Record0Params) []byte {
	var buf bytes.Buffer

	// PalmDOC header (offsets 0-15).
	binary.Write(&buf, binary.BigEndian, uint16(1)) // compression: none
	binary.Write(&buf, binary.BigEndian, uint16(0)) // unused
	binary.Write(&buf, binary.BigEndian, p.TextLength)
	binary.Write(&buf, binary.BigEndian, p.TextRecordCount)
	binary.Write(&buf, binary.BigEndian, uint16(recordSize))
	binary.Write(&buf, binary.BigEndian, uint16(0)) // current position / encryption type
	binary.Write(&buf, binary.BigEndian, uint16(0)) // unused2

	firstNonBook := uint32(1) + uint32(p.TextRecordCount)
	fullNameBytes := []byte(p.FullName)

	buf.WriteString("MOBI")
	binary.Write(&buf, binary.BigEndian, uint32(mobiHeaderLen))
	binary.Write(&buf, binary.BigEndian, uint32(2))     // type: book
	binary.Write(&buf, binary.BigEndian, uint32(65001)) // encoding: UTF-8
	binary.Write(&buf, binary.BigEndian, p.UniqueID)
	binary.Write(&buf, binary.BigEndian, uint32(6)) // file version

	for i := 0; i < 10; i++ { // 40-79: ten NULL index fields
		binary.Write(&buf, binary.BigEndian, uint32(nullUint32))
	}

	binary.Write(&buf, binary.BigEndian, firstNonBook) // 80-83
	fullNameOffsetPos := buf.Len()
	binary.Write(&buf, binary.BigEndian, uint32(0)) // 84-87: full name offset, patched below
	binary.Write(&buf, binary.BigEndian, uint32(len(fullNameBytes))) // 88-91

	binary.Write(&buf, binary.BigEndian, uint32(9)) // 92-95: locale
	binary.Write(&buf, binary.BigEndian, uint32(0)) // 96-99: input lang
	binary.Write(&buf, binary.BigEndian, uint32(0)) // 100-103: output lang
	binary.Write(&buf, binary.BigEndian, uint32(6)) // 104-107: min version
	binary.Write(&buf, binary.BigEndian, p.FirstImageRec) // 108-111

	for i := 0; i < 4; i++ { // 112-127: Huffman/HUFF/CDIC fields
		binary.Write(&buf, binary.BigEndian, uint32(0))
	}

	binary.Write(&buf, binary.BigEndian, uint32(exthFlags)) // 128-131

	buf.Write(make([]byte, 32)) // 132-163

	binary.Write(&buf, binary.BigEndian, uint32(nullUint32)) // 164-167: DRM offset
	binary.Write(&buf, binary.BigEndian, uint32(nullUint32)) // 168-171: DRM count
	binary.Write(&buf, binary.BigEndian, uint32(0))          // 172-175: DRM size
	binary.Write(&buf, binary.BigEndian, uint32(0))          // 176-179: DRM flags

	buf.Write(make([]byte, 12)) // 180-191: unknown zeros

	binary.Write(&buf, binary.BigEndian, uint16(1)) // 192-193: FDST flow count
	binary.Write(&buf, binary.BigEndian, p.TextRecordCount) // 194-195
	binary.Write(&buf, binary.BigEndian, uint32(0))         // 196-199

	binary.Write(&buf, binary.BigEndian, p.FCISRecordIndex) // 200-203
	binary.Write(&buf, binary.BigEndian, uint32(1))         // 204-207
	binary.Write(&buf, binary.BigEndian, p.FLISRecordIndex) // 208-211
	binary.Write(&buf, binary.BigEndian, uint32(1))         // 212-215

	buf.Write(make([]byte, 8))                               // 216-223
	binary.Write(&buf, binary.BigEndian, uint32(nullUint32)) // 224-227
	buf.Write(make([]byte, 8))                               // 228-235
	binary.Write(&buf, binary.BigEndian, uint32(nullUint32)) // 236-239

	binary.Write(&buf, binary.BigEndian, uint32(0)) // 240-243: extra record data flags
	binary.Write(&buf, binary.BigEndian, p.NCXIndexRec) // 244-247

	for i := 0; i < 4; i++ { // 248-263: fragment, skeleton, DATP, guide
		binary.Write(&buf, binary.BigEndian, uint32(nullUint32))
	}

	if got := buf.Len(); got != mobiHeaderLen {
		panic("mobi: internal error, MOBI header length mismatch")
	}

	buf.Write(p.EXTH)

	fullNameOffset := uint32(buf.Len())
	out := buf.Bytes()
	binary.BigEndian.PutUint32(out[fullNameOffsetPos:fullNameOffsetPos+4], fullNameOffset)

	buf.Write(fullNameBytes)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(make([]byte, 4)) // trailing zero bytes

	return buf.Bytes()
}
