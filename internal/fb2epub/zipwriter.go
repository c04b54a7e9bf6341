// Package fb2epub assembles EPUB 3.0 publications from a parsed FB2 book.
package fb2epub

import (
	"archive/zip"
	"hash/crc32"
	"io"
)

// mimetypeContents is the exact, fixed payload of the EPUB OCF mimetype
// entry — never gzip/deflate compressed, never padded.
const mimetypeContents = "application/epub+zip"

// ZipWriter wraps archive/zip.Writer to guarantee the invariant EPUB
// readers rely on: the first entry is named "mimetype", stored (method 0,
// no compression, no extra field) and contains exactly
// "application/epub+zip" — so a byte scanner can confirm the file is an
// EPUB without inflating anything.
//
// archive/zip.Writer.CreateHeader always sets the 0x8 "data descriptor"
// flag bit for non-directory entries and defers the CRC-32/size fields to a
// trailing descriptor, which produces a streamed local file header rather
// than the bit-exact one strict EPUB validators expect. CreateRaw is used
// instead: the CRC-32 and sizes are computed up front and placed directly
// in the FileHeader, so writeHeader's raw-and-no-data-descriptor path
// emits them inline in the local header and omits the descriptor entirely,
// while the central directory record is still produced by the Writer
// itself, so no separate from-scratch ZIP encoder is needed.
type ZipWriter struct {
	zw *zip.Writer
}

// NewZipWriter starts a new archive and immediately writes the mimetype
// entry, before any caller has a chance to add another file first.
func NewZipWriter(w io.Writer) (*ZipWriter, error) {
	zw := zip.NewWriter(w)
	contents := []byte(mimetypeContents)
	header := &zip.FileHeader{
		Name:               "mimetype",
		CreatorVersion:     20,
		ReaderVersion:      20,
		Method:             zip.Store,
		Flags:              0, // no UTF-8 bit, no data-descriptor bit
		CRC32:              crc32.ChecksumIEEE(contents),
		CompressedSize64:   uint64(len(contents)),
		UncompressedSize64: uint64(len(contents)),
	}
	fw, err := zw.CreateRaw(header)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(contents); err != nil {
		return nil, err
	}
	return &ZipWriter{zw: zw}, nil
}

// Create adds a DEFLATE-compressed entry with the given name.
func (z *ZipWriter) Create(name string) (io.Writer, error) {
	return z.zw.Create(name)
}

// Close finalizes the central directory.
func (z *ZipWriter) Close() error {
	return z.zw.Close()
}
