// Package mobi emits MOBI 6 files: a PalmDB container whose first record
// holds the PalmDOC+MOBI+EXTH headers, followed by text, image and NCX
// index records, FLIS, FCIS and a terminating EOF marker.
package mobi

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"time"
)

const palmEpochOffset = 2082844800 // seconds between 1904-01-01 and 1970-01-01

// palmTime converts t to the Palm OS epoch (seconds since 1904-01-01).
func palmTime(t time.Time) uint32 {
	return uint32(t.Unix() + palmEpochOffset)
}

// RecordEntry is one entry of the PalmDB record-info table: a record's
// byte offset plus its 3-byte unique id (stored in the low 24 bits).
type RecordEntry struct {
	Offset   uint32
	UniqueID uint32
}

// WritePalmDBHeader writes the fixed 78-byte PalmDB header. name is
// truncated here to 31 bytes; the caller passes an ASCII-safe name (see
// textutil.Transliterate for producing one from a Cyrillic title).
func WritePalmDBHeader(buf *bytes.Buffer, name string, numRecords uint16) {
	var nameBytes [32]byte
	copy(nameBytes[:31], name)

	now := palmTime(time.Now())

	buf.Write(nameBytes[:])
	binary.Write(buf, binary.BigEndian, uint16(0))    // attributes
	binary.Write(buf, binary.BigEndian, uint16(0))    // version
	binary.Write(buf, binary.BigEndian, now)          // creation date
	binary.Write(buf, binary.BigEndian, now)          // modification date
	binary.Write(buf, binary.BigEndian, uint32(0))    // last backup date
	binary.Write(buf, binary.BigEndian, uint32(0))    // modification number
	binary.Write(buf, binary.BigEndian, uint32(0))    // app info offset
	binary.Write(buf, binary.BigEndian, uint32(0))    // sort info offset
	buf.WriteString("BOOK")                           // type
	buf.WriteString("MOBI")                           // creator
	binary.Write(buf, binary.BigEndian, randomUint32()) // unique id seed
	binary.Write(buf, binary.BigEndian, uint32(0))    // next record list id
	binary.Write(buf, binary.BigEndian, numRecords)
}

// WriteRecordInfoList writes one 8-byte entry per record (offset + 1 byte
// attributes + 3-byte unique id), followed by the 2 gap bytes before
// Record 0.
func WriteRecordInfoList(buf *bytes.Buffer, entries []RecordEntry) {
	for _, e := range entries {
		binary.Write(buf, binary.BigEndian, e.Offset)
		buf.WriteByte(0) // attributes
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], e.UniqueID)
		buf.Write(id[1:4])
	}
	buf.Write([]byte{0, 0}) // gap
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}
