// Package ncx builds the hierarchical MOBI 6 navigation structure: length
// recomputation, parent/child linking, breadth-first reordering, and the
// CNCX/INDX/TAGX binary encodings Kindle's "Go To" menu requires.
package ncx

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/banux/tinyopds/internal/varint"
)

// Entry is one table-of-contents node in document order, before any of the
// builder's passes run.
type Entry struct {
	Title  string
	Offset uint32
	Depth  int
}

// Resolved is one entry after CalculateLengths/CalculateHierarchy/
// ReorderBreadthFirst have all run: Index is the new, breadth-first
// position; Parent/FirstChild/LastChild are -1 when absent.
type Resolved struct {
	Title      string
	Offset     uint32
	Length     uint32
	Depth      int
	Index      int
	Parent     int
	FirstChild int
	LastChild  int
}

const noIndex = -1

// Build runs all four passes (CalculateLengths, CalculateHierarchy,
// ReorderBreadthFirst are folded into Reorder; this layers CNCX/INDX on
// top) and returns the three MOBI records it produces, in emission order:
// INDX master, INDX data, CNCX.
func Build(entries []Entry, totalTextLength uint32) (master, data, cncx []byte, err error) {
	resolved := Reorder(entries, totalTextLength)

	cncx, offsets := EncodeCNCX(resolved)
	data, err = EncodeINDXData(resolved, offsets)
	if err != nil {
		return nil, nil, nil, err
	}
	master = EncodeINDXMaster(len(resolved))
	return master, data, cncx, nil
}

// Reorder performs CalculateLengths, CalculateHierarchy and
// ReorderBreadthFirst in sequence and returns the final entry order.
func Reorder(entries []Entry, totalTextLength uint32) []Resolved {
	n := len(entries)
	lengths := calculateLengths(entries, totalTextLength)
	parent, firstChild, lastChild := calculateHierarchy(entries)

	type indexed struct {
		origIndex int
	}
	order := make([]indexed, n)
	for i := range order {
		order[i] = indexed{origIndex: i}
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].origIndex, order[j].origIndex
		if entries[a].Depth != entries[b].Depth {
			return entries[a].Depth < entries[b].Depth
		}
		return a < b
	})

	newIndexOf := make([]int, n)
	for newIdx, o := range order {
		newIndexOf[o.origIndex] = newIdx
	}

	remap := func(i int) int {
		if i == noIndex {
			return noIndex
		}
		return newIndexOf[i]
	}

	out := make([]Resolved, n)
	for newIdx, o := range order {
		i := o.origIndex
		out[newIdx] = Resolved{
			Title:      entries[i].Title,
			Offset:     entries[i].Offset,
			Length:     lengths[i],
			Depth:      entries[i].Depth,
			Index:      newIdx,
			Parent:     remap(parent[i]),
			FirstChild: remap(firstChild[i]),
			LastChild:  remap(lastChild[i]),
		}
	}
	return out
}

func calculateLengths(entries []Entry, totalTextLength uint32) []uint32 {
	n := len(entries)
	lengths := make([]uint32, n)
	for i := 0; i < n; i++ {
		next := totalTextLength
		for j := i + 1; j < n; j++ {
			if entries[j].Depth <= entries[i].Depth {
				next = entries[j].Offset
				break
			}
		}
		length := int64(next) - int64(entries[i].Offset)
		if length < 1 {
			length = 1
		}
		lengths[i] = uint32(length)
	}
	return lengths
}

func calculateHierarchy(entries []Entry) (parent, firstChild, lastChild []int) {
	n := len(entries)
	parent = make([]int, n)
	firstChild = make([]int, n)
	lastChild = make([]int, n)

	for i := 0; i < n; i++ {
		parent[i] = noIndex
		for j := i - 1; j >= 0; j-- {
			if entries[j].Depth < entries[i].Depth {
				parent[i] = j
				break
			}
		}

		firstChild[i] = noIndex
		lastChild[i] = noIndex
		for j := i + 1; j < n && entries[j].Depth > entries[i].Depth; j++ {
			if entries[j].Depth == entries[i].Depth+1 {
				if firstChild[i] == noIndex {
					firstChild[i] = j
				}
				lastChild[i] = j
			}
		}
	}
	return parent, firstChild, lastChild
}

// EncodeCNCX builds the contiguous label blob and returns, per entry (in
// resolved order), the byte offset of its label within that blob.
func EncodeCNCX(entries []Resolved) (blob []byte, offsets []uint32) {
	var buf bytes.Buffer
	offsets = make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(buf.Len())
		title := e.Title
		buf.Write(varint.Encode(uint32(len(title))))
		buf.WriteString(title)
	}
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes(), offsets
}

const (
	tagOffset     = 1
	tagLength     = 2
	tagLabel      = 3
	tagDepth      = 4
	tagParent     = 21
	tagFirstChild = 22
	tagLastChild  = 23

	bitOffset     = 0x01
	bitLength     = 0x02
	bitLabel      = 0x04
	bitDepth      = 0x08
	bitParent     = 0x10
	bitFirstChild = 0x20
	bitLastChild  = 0x40
)

// EncodeTAGX builds the fixed 44-byte TAGX block declaring the seven tags
// plus the EOF sentinel.
func EncodeTAGX() []byte {
	var buf bytes.Buffer
	buf.WriteString("TAGX")
	binary.Write(&buf, binary.BigEndian, uint32(44)) // block length
	binary.Write(&buf, binary.BigEndian, uint32(1))  // control byte count

	tags := []struct {
		id, values, bitmask byte
	}{
		{tagOffset, 1, bitOffset},
		{tagLength, 1, bitLength},
		{tagLabel, 1, bitLabel},
		{tagDepth, 1, bitDepth},
		{tagParent, 1, bitParent},
		{tagFirstChild, 1, bitFirstChild},
		{tagLastChild, 1, bitLastChild},
	}
	for _, t := range tags {
		buf.WriteByte(t.id)
		buf.WriteByte(t.values)
		buf.WriteByte(t.bitmask)
		buf.WriteByte(0) // end flag
	}
	buf.Write([]byte{0, 0, 0, 1}) // EOF sentinel

	return buf.Bytes()
}

const indxHeaderSize = 192

// EncodeINDXMaster builds the 192-byte INDX master header and the TAGX
// block, followed by the master's own IDXT. It writes no index entry: the
// IDXT's single offset points at the IDXT itself.
func EncodeINDXMaster(entryCount int) []byte {
	var buf bytes.Buffer
	writeINDXHeader(&buf, 1, entryCount, 1)
	tagx := EncodeTAGX()
	buf.Write(tagx)

	idxtOffset := uint32(indxHeaderSize + len(tagx))
	var idxt bytes.Buffer
	idxt.WriteString("IDXT")
	binary.Write(&idxt, binary.BigEndian, uint16(idxtOffset))
	for idxt.Len()%4 != 0 {
		idxt.WriteByte(0)
	}
	buf.Write(idxt.Bytes())
	return buf.Bytes()
}

// EncodeINDXData builds the 192-byte INDX data header followed by one
// entry per NCX node and a trailing IDXT offset table.
func EncodeINDXData(entries []Resolved, cncxOffsets []uint32) ([]byte, error) {
	var buf bytes.Buffer
	writeINDXHeader(&buf, 0, len(entries), 1)

	entryOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		entryOffsets[i] = uint32(buf.Len())
		if err := encodeIndexEntry(&buf, e, cncxOffsets[i]); err != nil {
			return nil, err
		}
	}

	buf.WriteString("IDXT")
	for _, off := range entryOffsets {
		binary.Write(&buf, binary.BigEndian, uint16(off))
	}
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

func encodeIndexEntry(buf *bytes.Buffer, e Resolved, cncxOffset uint32) error {
	label := []byte(e.Title)
	if len(label) > 255 {
		label = label[:255]
	}

	control := byte(bitOffset | bitLength | bitLabel | bitDepth)
	if e.Parent != noIndex {
		control |= bitParent
	}
	if e.FirstChild != noIndex {
		control |= bitFirstChild
	}
	if e.LastChild != noIndex {
		control |= bitLastChild
	}

	buf.WriteByte(byte(len(label)))
	buf.Write(label)
	buf.WriteByte(control)
	buf.Write(varint.Encode(e.Offset))
	buf.Write(varint.Encode(e.Length))
	buf.Write(varint.Encode(cncxOffset))
	buf.Write(varint.Encode(uint32(e.Depth)))
	if e.Parent != noIndex {
		buf.Write(varint.Encode(uint32(e.Parent)))
	}
	if e.FirstChild != noIndex {
		buf.Write(varint.Encode(uint32(e.FirstChild)))
	}
	if e.LastChild != noIndex {
		buf.Write(varint.Encode(uint32(e.LastChild)))
	}
	return nil
}

func writeINDXHeader(buf *bytes.Buffer, indexType, entryCount, cncxRecordCount int) {
	start := buf.Len()
	buf.WriteString("INDX")
	binary.Write(buf, binary.BigEndian, uint32(indxHeaderSize))
	binary.Write(buf, binary.BigEndian, uint32(indexType))
	binary.Write(buf, binary.BigEndian, uint32(0)) // IDXT offset, filled by caller context if needed
	binary.Write(buf, binary.BigEndian, uint32(entryCount))
	binary.Write(buf, binary.BigEndian, uint32(65001)) // encoding UTF-8
	binary.Write(buf, binary.BigEndian, uint32(0xFFFFFFFF)) // language
	binary.Write(buf, binary.BigEndian, uint32(entryCount))
	binary.Write(buf, binary.BigEndian, uint32(cncxRecordCount))
	for buf.Len()-start < indxHeaderSize {
		buf.WriteByte(0)
	}
}
