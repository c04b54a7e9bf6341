package mobi

import (
	"bytes"
	"encoding/binary"
)

const (
	exthAuthor        = 100
	exthUpdatedTitle  = 503
	exthDocType       = 501
	exthCreatorQuart1 = 204
	exthCreatorQuart2 = 205
	exthCreatorQuart3 = 206
	exthCreatorQuart4 = 207
	exthCoverOffset   = 201
	exthHasFakeCover  = 203
)

// EXTHParams are the fields §4.3.2 requires in every MOBI file.
type EXTHParams struct {
	Author      string
	Title       string
	CoverOffset *uint32 // nil when the book has no cover
}

// BuildEXTH encodes the EXTH metadata block: "EXTH" header, the fixed
// record set (author, updated title, doctype EBOK, the four-record
// creator-software quartet, and the cover offset pair when present), then
// pads the whole block to a 4-byte multiple.
func BuildEXTH(p EXTHParams) []byte {
	var records bytes.Buffer
	count := 0

	writeRecord := func(recType uint32, data []byte) {
		binary.Write(&records, binary.BigEndian, recType)
		binary.Write(&records, binary.BigEndian, uint32(8+len(data)))
		records.Write(data)
		count++
	}
	writeUint32Record := func(recType uint32, v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		writeRecord(recType, b[:])
	}

	if p.Author != "" {
		writeRecord(exthAuthor, []byte(p.Author))
	}
	writeRecord(exthUpdatedTitle, []byte(p.Title))
	writeRecord(exthDocType, []byte("EBOK"))
	writeUint32Record(exthCreatorQuart1, 201)
	writeUint32Record(exthCreatorQuart2, 2)
	writeUint32Record(exthCreatorQuart3, 9)
	writeUint32Record(exthCreatorQuart4, 0)

	if p.CoverOffset != nil {
		writeUint32Record(exthCoverOffset, *p.CoverOffset)
		writeUint32Record(exthHasFakeCover, 0)
	}

	var out bytes.Buffer
	out.WriteString("EXTH")
	headerSize := 12 + records.Len()
	binary.Write(&out, binary.BigEndian, uint32(headerSize))
	binary.Write(&out, binary.BigEndian, uint32(count))
	out.Write(records.Bytes())

	for out.Len()%4 != 0 {
		out.WriteByte(0)
	}
	return out.Bytes()
}
