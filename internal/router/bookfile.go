package router

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/banux/tinyopds/internal/catalog"
)

// openBookSource opens a book's source file from disk. FilePath uses plain
// filesystem notation, or "<container>@<entry>" to address one entry
// inside a ZIP container holding many books (a common library layout).
func openBookSource(b catalog.Book) (io.ReadCloser, error) {
	container, entry, packed := strings.Cut(b.FilePath, "@")
	if !packed {
		return os.Open(b.FilePath)
	}

	zr, err := zip.OpenReader(container)
	if err != nil {
		return nil, fmt.Errorf("router: open container %q: %w", container, err)
	}
	for _, f := range zr.File {
		if f.Name == entry {
			rc, err := f.Open()
			if err != nil {
				zr.Close()
				return nil, err
			}
			return &zipEntryReader{rc: rc, zr: zr}, nil
		}
	}
	zr.Close()
	return nil, fmt.Errorf("router: entry %q not found in %q", entry, container)
}

// zipEntryReader closes both the entry reader and the parent archive.
type zipEntryReader struct {
	rc io.ReadCloser
	zr *zip.ReadCloser
}

func (z *zipEntryReader) Read(p []byte) (int, error) { return z.rc.Read(p) }

func (z *zipEntryReader) Close() error {
	err := z.rc.Close()
	if cerr := z.zr.Close(); err == nil {
		err = cerr
	}
	return err
}
