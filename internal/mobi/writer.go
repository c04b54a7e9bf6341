package mobi

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/banux/tinyopds/internal/fb2"
	"github.com/banux/tinyopds/internal/ncx"
	"github.com/banux/tinyopds/internal/textutil"
)

// Writer emits a complete MOBI 6 file from a parsed FB2 book.
type Writer struct {
	book *fb2.Book
}

// NewWriter creates a Writer for book.
func NewWriter(book *fb2.Book) *Writer {
	return &Writer{book: book}
}

// Write assembles and writes the full MOBI file to out.
func (w *Writer) Write(out io.Writer) error {
	html, entries := buildMobiHTML(w.book)
	textBytes := []byte(html)
	textRecords := splitRecords(textBytes, recordSize)

	imageRecords, coverOffset := w.orderedImageRecords()

	var ncxMaster, ncxData, cncx []byte
	haveNCX := len(entries) > 0
	if haveNCX {
		var err error
		ncxMaster, ncxData, cncx, err = ncx.Build(entries, uint32(len(textBytes)))
		if err != nil {
			return fmt.Errorf("mobi: building ncx: %w", err)
		}
	}

	firstNonBook := 1 + len(textRecords)
	firstImageRec := uint32(nullUint32)
	if len(imageRecords) > 0 {
		firstImageRec = uint32(firstNonBook)
	}

	ncxStart := firstNonBook + len(imageRecords)
	ncxIndexRec := uint32(nullUint32)
	extraNCXRecords := 0
	if haveNCX {
		ncxIndexRec = uint32(ncxStart)
		extraNCXRecords = 3
	}

	flisIndex := uint32(ncxStart + extraNCXRecords)
	fcisIndex := flisIndex + 1

	var author string
	if len(w.book.Authors) > 0 {
		author = w.book.Authors[0]
	}

	exth := BuildEXTH(EXTHParams{
		Author:      author,
		Title:       w.book.Title,
		CoverOffset: coverOffset,
	})

	record0 := BuildRecord0(Record0Params{
		TextLength:      uint32(len(textBytes)),
		TextRecordCount: uint16(len(textRecords)),
		FirstImageRec:   firstImageRec,
		NCXIndexRec:     ncxIndexRec,
		FCISRecordIndex: fcisIndex,
		FLISRecordIndex: flisIndex,
		UniqueID:        randomUint32(),
		FullName:        w.book.Title,
		EXTH:            exth,
	})

	records := make([][]byte, 0, 1+len(textRecords)+len(imageRecords)+extraNCXRecords+3)
	records = append(records, record0)
	records = append(records, textRecords...)
	records = append(records, imageRecords...)
	if haveNCX {
		records = append(records, ncxMaster, ncxData, cncx)
	}
	records = append(records, BuildFLIS(), BuildFCIS(uint32(len(textBytes))), EOFMarker)

	return w.assemble(out, records)
}

func (w *Writer) assemble(out io.Writer, records [][]byte) error {
	var buf bytes.Buffer

	name := textutil.Transliterate(w.book.Title)
	WritePalmDBHeader(&buf, name, uint16(len(records)))

	headerAndIndexSize := 78 + len(records)*8 + 2
	pos := headerAndIndexSize
	entries := make([]RecordEntry, len(records))
	for i, r := range records {
		entries[i] = RecordEntry{Offset: uint32(pos), UniqueID: uint32(i)}
		pos += len(r)
	}
	WriteRecordInfoList(&buf, entries)

	for _, r := range records {
		buf.Write(r)
	}

	_, err := out.Write(buf.Bytes())
	return err
}

// orderedImageRecords returns the image records in cover-first, then
// image-id-sorted order, plus the cover's 0-based offset among images
// (for the EXTH cover-offset record), or nil if there is no cover.
func (w *Writer) orderedImageRecords() ([][]byte, *uint32) {
	var records [][]byte
	var coverOffset *uint32

	if w.book.Cover != nil {
		for _, img := range w.book.Images {
			if img.FileName == w.book.Cover.FileName {
				zero := uint32(0)
				coverOffset = &zero
				records = append(records, img.Data)
				break
			}
		}
	}

	var restIDs []string
	for id, img := range w.book.Images {
		if w.book.Cover != nil && img.FileName == w.book.Cover.FileName {
			continue
		}
		restIDs = append(restIDs, id)
	}
	sort.Strings(restIDs)
	for _, id := range restIDs {
		records = append(records, w.book.Images[id].Data)
	}
	return records, coverOffset
}

func splitRecords(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var out [][]byte
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end])
	}
	return out
}

// buildMobiHTML walks the full section hierarchy (unlike EpubBuilder, MOBI
// keeps every section as its own NCX entry rather than flattening), ending
// each with <mbp:pagebreak/>, and appends footnote bodies at the end.
func buildMobiHTML(book *fb2.Book) (string, []ncx.Entry) {
	var buf strings.Builder
	var entries []ncx.Entry

	var walk func(secs []*fb2.Section, depth int)
	walk = func(secs []*fb2.Section, depth int) {
		for _, s := range secs {
			offset := uint32(buf.Len())
			title := strings.TrimSpace(s.Title)
			if title == "" {
				title = fmt.Sprintf("Chapter %d", len(entries)+1)
			}
			entries = append(entries, ncx.Entry{Title: title, Offset: offset, Depth: depth})

			for _, c := range s.Body.Children {
				if c.Tag == "title" || c.Tag == "section" {
					continue
				}
				buf.WriteString(fb2.RenderInline(c, book.Images, fb2.RenderOptions{FootnoteClass: "footnote-ref"}))
			}
			buf.WriteString("<mbp:pagebreak/>")

			walk(s.Children, depth+1)
		}
	}
	walk(book.Sections, 0)

	if len(book.Notes) > 0 {
		buf.WriteString(`<div id="footnotes">`)
		for _, n := range book.Notes {
			for _, c := range n.Body.Children {
				buf.WriteString(fb2.RenderInline(c, book.Images, fb2.RenderOptions{}))
			}
		}
		buf.WriteString(`</div>`)
	}

	return buf.String(), entries
}
