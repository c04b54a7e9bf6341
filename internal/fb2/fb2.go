// Package fb2 parses FictionBook (FB2) XML documents into a typed tree:
// metadata, a body section tree, inline image references and the coverpage
// binary, ready for EpubBuilder/MobiWriter to walk.
package fb2

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Node is a generic, order-preserving XML element or text leaf. Tag == ""
// marks a text leaf (its content lives in Text); FB2's mixed content
// (inline markup interleaved with plain text) cannot be represented by a
// struct-tag unmarshal, so the parser builds this tree directly from the
// token stream.
type Node struct {
	Tag      string
	Attrs    map[string]string
	Text     string
	Children []*Node
}

// Attr returns the first attribute value whose local name (ignoring any
// namespace prefix) matches name, e.g. Attr("href") matches "href",
// "xlink:href" and "l:href" alike — FB2 documents vary in which they use.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	for k, v := range n.Attrs {
		if k == name || strings.HasSuffix(k, ":"+name) {
			return v
		}
	}
	return ""
}

// Find returns the first direct child with the given tag, or nil.
func (n *Node) Find(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// FindAll returns all direct children with the given tag.
func (n *Node) FindAll(tag string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// TextContent concatenates the text of all descendants, space-joined.
func (n *Node) TextContent() string {
	if n == nil {
		return ""
	}
	var parts []string
	n.collectText(&parts)
	return strings.Join(parts, " ")
}

func (n *Node) collectText(parts *[]string) {
	if n.Tag == "" {
		t := strings.TrimSpace(n.Text)
		if t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for _, c := range n.Children {
		c.collectText(parts)
	}
}

// Image is an inline image reference (id used both as <binary id=> and as
// <image l:href="#id"/>).
type Image struct {
	ID       string
	FileName string
	Mime     string
	Data     []byte
}

// CoverRef points at the image that is the book's front cover.
type CoverRef struct {
	FileName string
	Mime     string
	Ext      string
}

// Section is one <section> (or the whole <body>, at depth 0).
type Section struct {
	Title    string
	Body     *Node // the section's own element, used by the leaf-rendering pass
	Children []*Section
}

// IsLeaf reports whether the section has no sub-sections and therefore
// becomes one chapter on its own, per the extraction rule in §4.3.1.
func (s *Section) IsLeaf() bool { return len(s.Children) == 0 }

// Book is the parsed FB2 document.
type Book struct {
	Title      string
	Language   string
	Authors    []string
	Date       time.Time
	Annotation string
	Genres     []string

	Sections []*Section // top-level sections of the main body
	Notes    []*Section  // footnote/comment bodies, rendered at document end

	Images map[string]*Image
	Cover  *CoverRef
}

// extToMime maps recognized file extensions to MIME types, and the reverse
// mapping below recovers an extension from a content-type string. Both
// follow the rule in §4.3.1: "contains png"→png, "contains gif"→gif,
// otherwise jpg.
var extToMime = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
	".gif": "image/gif", ".svg": "image/svg+xml", ".webp": "image/webp",
}

func mimeToExt(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}

func hasKnownExt(name string) bool {
	for ext := range extToMime {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return true
		}
	}
	return false
}

// Parse reads an FB2 document, transcoding from a declared non-UTF-8
// charset (commonly windows-1251 for Russian texts) before handing the
// byte stream to encoding/xml, which only understands UTF-8 natively.
func Parse(r io.Reader) (*Book, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fb2: read: %w", err)
	}

	raw, err = transcodeToUTF8(raw)
	if err != nil {
		return nil, fmt.Errorf("fb2: transcode: %w", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false
	// The bytes are already UTF-8; accept whatever charset the prolog declares.
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var root *Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fb2: xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			root, err = parseNode(dec, start)
			if err != nil {
				return nil, fmt.Errorf("fb2: xml: %w", err)
			}
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("fb2: empty document")
	}

	return fromNode(root), nil
}

func parseNode(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	n := &Node{Tag: start.Name.Local, Attrs: make(map[string]string, len(start.Attr))}
	for _, a := range start.Attr {
		key := a.Name.Local
		if a.Name.Space != "" {
			key = a.Name.Space + ":" + a.Name.Local
		}
		n.Attrs[key] = a.Value
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseNode(dec, t)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case xml.CharData:
			n.Children = append(n.Children, &Node{Text: string(t)})
		case xml.EndElement:
			return n, nil
		}
	}
}

func fromNode(root *Node) *Book {
	b := &Book{Images: make(map[string]*Image)}

	desc := root.Find("description")
	titleInfo := desc.Find("title-info")

	b.Title = titleInfo.Find("book-title").TextContent()
	b.Language = titleInfo.Find("lang").TextContent()
	if b.Language == "" {
		b.Language = "en"
	}
	b.Annotation = titleInfo.Find("annotation").TextContent()

	for _, a := range titleInfo.FindAll("author") {
		b.Authors = append(b.Authors, authorName(a))
	}
	for _, g := range titleInfo.FindAll("genre") {
		b.Genres = append(b.Genres, g.TextContent())
	}

	if dateNode := titleInfo.Find("date"); dateNode != nil {
		v := dateNode.Attr("value")
		if v == "" {
			v = dateNode.TextContent()
		}
		b.Date = parseDate(v)
	}

	for _, bin := range root.FindAll("binary") {
		id := bin.Attr("id")
		if id == "" {
			continue
		}
		mime := bin.Attr("content-type")
		data, err := base64.StdEncoding.DecodeString(strings.Map(stripWhitespace, bin.TextContent()))
		if err != nil {
			continue
		}
		name := id
		if !hasKnownExt(name) {
			name += mimeToExt(mime)
		}
		b.Images[id] = &Image{ID: id, FileName: name, Mime: mime, Data: data}
	}

	if cover := titleInfo.Find("coverpage"); cover != nil {
		if img := cover.Find("image"); img != nil {
			href := strings.TrimPrefix(img.Attr("href"), "#")
			if ref, ok := b.Images[href]; ok {
				ext := mimeToExt(ref.Mime)
				b.Cover = &CoverRef{FileName: ref.FileName, Mime: ref.Mime, Ext: ext}
			}
		}
	}

	bodies := root.FindAll("body")
	mainIdx := selectMainBody(bodies)
	for i, body := range bodies {
		sections := buildSections(body)
		if i == mainIdx {
			b.Sections = sections
		} else {
			b.Notes = append(b.Notes, sections...)
		}
	}

	return b
}

func stripWhitespace(r rune) rune {
	switch r {
	case ' ', '\t', '\n', '\r':
		return -1
	}
	return r
}

func selectMainBody(bodies []*Node) int {
	for i, b := range bodies {
		if b.Attr("name") == "" {
			return i
		}
	}
	for i, b := range bodies {
		if b.Attr("name") == "main" {
			return i
		}
	}
	return 0
}

func authorName(a *Node) string {
	first := a.Find("first-name").TextContent()
	middle := a.Find("middle-name").TextContent()
	last := a.Find("last-name").TextContent()
	nick := a.Find("nickname").TextContent()

	parts := []string{}
	for _, p := range []string{first, middle, last} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nick
	}
	return strings.Join(parts, " ")
}

func parseDate(v string) time.Time {
	formats := []string{"2006-01-02", "2006-01", "2006"}
	for _, f := range formats {
		if t, err := time.Parse(f, strings.TrimSpace(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func buildSections(body *Node) []*Section {
	var out []*Section
	for _, c := range body.FindAll("section") {
		out = append(out, buildSection(c))
	}
	return out
}

func buildSection(n *Node) *Section {
	s := &Section{Body: n}
	if t := n.Find("title"); t != nil {
		s.Title = t.TextContent()
	}
	for _, c := range n.FindAll("section") {
		s.Children = append(s.Children, buildSection(c))
	}
	return s
}

// transcodeToUTF8 inspects the XML prolog's encoding declaration and
// transcodes windows-1251/koi8-r/UTF-16 input to UTF-8 before parsing.
// Most FB2 files declare UTF-8 already, in which case this is a no-op.
func transcodeToUTF8(raw []byte) ([]byte, error) {
	enc := declaredEncoding(raw)
	if enc == nil {
		return raw, nil
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func declaredEncoding(raw []byte) encoding.Encoding {
	head := raw
	if len(head) > 200 {
		head = head[:200]
	}
	lower := strings.ToLower(string(head))

	switch {
	case strings.Contains(lower, "windows-1251"):
		return charmap.Windows1251
	case strings.Contains(lower, "koi8-r"):
		return charmap.KOI8R
	case strings.Contains(lower, "utf-16"):
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	default:
		return nil
	}
}
