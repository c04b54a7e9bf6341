package fb2epub

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banux/tinyopds/internal/fb2"
)

func sampleBook(t *testing.T) *fb2.Book {
	t.Helper()
	b, err := fb2.Parse(strings.NewReader(`<?xml version="1.0" encoding="UTF-8"?>
<FictionBook xmlns:l="http://www.w3.org/1999/xlink">
  <description><title-info>
    <book-title>Test Book</book-title>
    <author><first-name>A</first-name><last-name>B</last-name></author>
    <lang>en</lang>
  </title-info></description>
  <body>
    <section><title><p>One</p></title><p>Hello <strong>world</strong>.</p></section>
  </body>
</FictionBook>`))
	require.NoError(t, err)
	return b
}

func TestEPUBMimetypeIsFirstEntryStoredAndExact(t *testing.T) {
	book := sampleBook(t)
	var buf bytes.Buffer
	require.NoError(t, NewBuilder(book, "").Write(&buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.NotEmpty(t, zr.File)

	first := zr.File[0]
	require.Equal(t, "mimetype", first.Name)
	require.Equal(t, zip.Store, first.Method)

	rc, err := first.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "application/epub+zip", string(data))
}

func TestEPUBContainsOneNavItem(t *testing.T) {
	book := sampleBook(t)
	var buf bytes.Buffer
	require.NoError(t, NewBuilder(book, "").Write(&buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var navCount int
	for _, f := range zr.File {
		if f.Name == "EPUB/nav.xhtml" {
			navCount++
			rc, err := f.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			rc.Close()
			require.Equal(t, 1, strings.Count(string(data), `epub:type="toc"`))
		}
	}
	require.Equal(t, 1, navCount)
}

func TestEPUBNoCoverWhenBookHasNone(t *testing.T) {
	book := sampleBook(t)
	require.Nil(t, book.Cover)

	var buf bytes.Buffer
	require.NoError(t, NewBuilder(book, "").Write(&buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	for _, f := range zr.File {
		require.NotEqual(t, "EPUB/cover.xhtml", f.Name)
	}
}
