package fb2epub

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banux/tinyopds/internal/fb2"
)

// Builder assembles an EPUB 3.0 archive from a parsed FB2 book.
type Builder struct {
	book     *fb2.Book
	id       string
	chapters []fb2.Chapter
	now      time.Time
}

// NewBuilder creates a Builder for book, using bookID as the EPUB
// dc:identifier (spec.md: "urn:uuid:{ID}") or minting a fresh UUID when
// bookID is empty.
func NewBuilder(book *fb2.Book, bookID string) *Builder {
	if bookID == "" {
		bookID = uuid.NewString()
	}
	return &Builder{
		book:     book,
		id:       bookID,
		chapters: fb2.Flatten(book.Sections, book.Images, fb2.RenderOptions{}),
		now:      time.Now().UTC(),
	}
}

// Write emits the complete EPUB archive to w.
func (b *Builder) Write(w io.Writer) error {
	zw, err := NewZipWriter(w)
	if err != nil {
		return err
	}

	if err := b.writeContainer(zw); err != nil {
		return err
	}
	if err := b.writeOPF(zw); err != nil {
		return err
	}
	if err := b.writeNav(zw); err != nil {
		return err
	}
	if err := b.writeNCX(zw); err != nil {
		return err
	}
	if b.book.Cover != nil {
		if err := b.writeCoverPage(zw); err != nil {
			return err
		}
		if err := b.writeImage(zw, "EPUB/"+b.book.Cover.FileName, b.coverImage()); err != nil {
			return err
		}
	}
	for i, ch := range b.chapters {
		if err := b.writeChapter(zw, i, ch); err != nil {
			return err
		}
	}
	for id, img := range b.book.Images {
		if b.book.Cover != nil && id == coverImageID(b.book) {
			continue
		}
		if err := b.writeImage(zw, "EPUB/"+img.FileName, img.Data); err != nil {
			return err
		}
	}

	return zw.Close()
}

func coverImageID(book *fb2.Book) string {
	for id, img := range book.Images {
		if img.FileName == book.Cover.FileName {
			return id
		}
	}
	return ""
}

func (b *Builder) coverImage() []byte {
	if b.book.Cover == nil {
		return nil
	}
	for _, img := range b.book.Images {
		if img.FileName == b.book.Cover.FileName {
			return img.Data
		}
	}
	return nil
}

func (b *Builder) writeContainer(zw *ZipWriter) error {
	w, err := zw.Create("META-INF/container.xml")
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="EPUB/package.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>
`)
	return err
}

func (b *Builder) chapterHref(i int) string { return fmt.Sprintf("chapter%d.xhtml", i+1) }
func (b *Builder) imageID(name string) string {
	return "img-" + strings.Map(func(r rune) rune {
		if r == '.' || r == '/' {
			return '-'
		}
		return r
	}, name)
}

func (b *Builder) writeOPF(zw *ZipWriter) error {
	var buf bytes.Buffer
	lang := b.book.Language
	if lang == "" {
		lang = "en"
	}

	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="book-id" xml:lang="%s">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:identifier id="book-id">urn:uuid:%s</dc:identifier>
    <dc:title>%s</dc:title>
    <dc:language>%s</dc:language>
    <meta property="dcterms:modified">%s</meta>
`, fb2.EscapeXML(lang), fb2.EscapeXML(b.id), fb2.EscapeXML(b.book.Title), fb2.EscapeXML(lang),
		b.now.Format("2006-01-02T15:04:05Z"))

	for _, a := range b.book.Authors {
		fmt.Fprintf(&buf, "    <dc:creator>%s</dc:creator>\n", fb2.EscapeXML(a))
	}
	if !b.book.Date.IsZero() {
		fmt.Fprintf(&buf, "    <dc:date>%d</dc:date>\n", b.book.Date.Year())
	}
	if b.book.Cover != nil {
		buf.WriteString(`    <meta name="cover" content="cover-image"/>` + "\n")
	}
	buf.WriteString("  </metadata>\n  <manifest>\n")
	buf.WriteString(`    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>` + "\n")
	buf.WriteString(`    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")

	if b.book.Cover != nil {
		buf.WriteString(`    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>` + "\n")
		fmt.Fprintf(&buf, `    <item id="cover-image" href="%s" media-type="%s" properties="cover-image"/>`+"\n",
			b.book.Cover.FileName, b.book.Cover.Mime)
	}
	for i := range b.chapters {
		fmt.Fprintf(&buf, `    <item id="chapter%d" href="%s" media-type="application/xhtml+xml"/>`+"\n",
			i+1, b.chapterHref(i))
	}
	for id, img := range b.book.Images {
		if b.book.Cover != nil && id == coverImageID(b.book) {
			continue
		}
		fmt.Fprintf(&buf, `    <item id="%s" href="%s" media-type="%s"/>`+"\n",
			b.imageID(img.FileName), img.FileName, img.Mime)
	}
	buf.WriteString("  </manifest>\n  <spine toc=\"ncx\">\n")
	if b.book.Cover != nil {
		buf.WriteString(`    <itemref idref="cover" linear="no"/>` + "\n")
	}
	for i := range b.chapters {
		fmt.Fprintf(&buf, `    <itemref idref="chapter%d"/>`+"\n", i+1)
	}
	buf.WriteString("  </spine>\n  <guide>\n")
	if b.book.Cover != nil {
		buf.WriteString(`    <reference type="cover" title="Cover" href="cover.xhtml"/>` + "\n")
	}
	if len(b.chapters) > 0 {
		fmt.Fprintf(&buf, `    <reference type="text" title="Text" href="%s"/>`+"\n", b.chapterHref(0))
	}
	buf.WriteString("  </guide>\n</package>\n")

	w, err := zw.Create("EPUB/package.opf")
	if err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

func (b *Builder) writeNav(zw *ZipWriter) error {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>` + fb2.EscapeXML(b.book.Title) + `</title></head>
<body>
  <nav epub:type="toc">
    <ol>
`)
	if b.book.Cover != nil {
		buf.WriteString(`      <li><a href="cover.xhtml">Cover</a></li>` + "\n")
	}
	for i, ch := range b.chapters {
		fmt.Fprintf(&buf, `      <li><a href="%s">%s</a></li>`+"\n", b.chapterHref(i), fb2.EscapeXML(ch.Title))
	}
	buf.WriteString("    </ol>\n  </nav>\n</body>\n</html>\n")

	w, err := zw.Create("EPUB/nav.xhtml")
	if err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

func (b *Builder) writeNCX(zw *ZipWriter) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="%s"/>
    <meta name="dtb:depth" content="1"/>
  </head>
  <docTitle><text>%s</text></docTitle>
  <navMap>
`, fb2.EscapeXML(b.id), fb2.EscapeXML(b.book.Title))

	order := 1
	for i, ch := range b.chapters {
		fmt.Fprintf(&buf, `    <navPoint id="navpoint-%d" playOrder="%d">
      <navLabel><text>%s</text></navLabel>
      <content src="%s"/>
    </navPoint>
`, order, order, fb2.EscapeXML(ch.Title), b.chapterHref(i))
		order++
	}
	buf.WriteString("  </navMap>\n</ncx>\n")

	w, err := zw.Create("EPUB/toc.ncx")
	if err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

func (b *Builder) writeCoverPage(zw *ZipWriter) error {
	w, err := zw.Create("EPUB/cover.xhtml")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Cover</title></head>
<body>
  <div id="cover-image"><img src="%s" alt="Cover"/></div>
</body>
</html>
`, fb2.EscapeXML(b.book.Cover.FileName))
	return err
}

const chapterStylesheet = `
body { font-family: serif; margin: 1em; }
.poem { margin-left: 2em; font-style: italic; }
.epigraph { margin-left: 2em; font-style: italic; }
`

func (b *Builder) writeChapter(zw *ZipWriter, i int, ch fb2.Chapter) error {
	w, err := zw.Create("EPUB/" + b.chapterHref(i))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>%s</title>
  <style type="text/css">%s</style>
</head>
<body>
  <h1>%s</h1>
  %s
</body>
</html>
`, fb2.EscapeXML(ch.Title), chapterStylesheet, fb2.EscapeXML(ch.Title), ch.HTML)
	return err
}

func (b *Builder) writeImage(zw *ZipWriter, path string, data []byte) error {
	w, err := zw.Create(path)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
