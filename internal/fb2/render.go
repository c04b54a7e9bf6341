package fb2

import (
	"fmt"
	"strings"
)

// tagMap is the inline-element conversion table from §4.3.1: FB2 tag name
// to (HTML tag, class). A blank class means none.
var tagMap = map[string][2]string{
	"title":          {"h2", ""},
	"subtitle":       {"h3", ""},
	"p":              {"p", ""},
	"cite":           {"blockquote", ""},
	"epigraph":       {"div", "epigraph"},
	"text-author":    {"cite", ""},
	"strong":         {"strong", ""},
	"emphasis":       {"em", ""},
	"style":          {"span", ""},
	"strikethrough":  {"s", ""},
	"sub":            {"sub", ""},
	"sup":            {"sup", ""},
	"code":           {"code", ""},
}

// EscapeXML escapes the five predefined XML entities. Call once per leaf
// text run; never call on already-built markup or entities double-escape.
func EscapeXML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RenderOptions controls small differences between the EPUB and MOBI
// inline renderers.
type RenderOptions struct {
	// FootnoteClass, when set, is added as the class attribute of
	// <a type="note" href="#id"> links (MOBI uses "footnote-ref"; EPUB
	// leaves it empty, so they stay plain links).
	FootnoteClass string
}

// RenderInline renders one content node (p, poem, cite, epigraph, image,
// empty-line, or any nested inline run) to an HTML fragment.
func RenderInline(n *Node, images map[string]*Image, opt RenderOptions) string {
	if n == nil {
		return ""
	}
	if n.Tag == "" {
		return EscapeXML(n.Text)
	}

	switch n.Tag {
	case "empty-line":
		return "<br/>"
	case "image":
		href := strings.TrimPrefix(n.Attr("href"), "#")
		name := href
		if img, ok := images[href]; ok {
			name = img.FileName
		}
		return fmt.Sprintf(`<img src="%s" alt=""/>`, EscapeXML(name))
	case "poem":
		var b strings.Builder
		b.WriteString(`<div class="poem">`)
		for _, stanza := range n.FindAll("stanza") {
			b.WriteString(`<div class="stanza">`)
			for _, v := range stanza.FindAll("v") {
				b.WriteString(`<p class="verse">`)
				b.WriteString(renderChildren(v, images, opt))
				b.WriteString(`</p>`)
			}
			b.WriteString(`</div>`)
		}
		b.WriteString(`</div>`)
		return b.String()
	case "a":
		href := n.Attr("href")
		class := ""
		if opt.FootnoteClass != "" && n.Attr("type") == "note" {
			class = fmt.Sprintf(` class="%s"`, opt.FootnoteClass)
		}
		return fmt.Sprintf(`<a href="%s"%s>%s</a>`, EscapeXML(href), class, renderChildren(n, images, opt))
	}

	entry, ok := tagMap[n.Tag]
	if !ok {
		// Unknown tag: pass through children only.
		return renderChildren(n, images, opt)
	}
	tag, class := entry[0], entry[1]
	classAttr := ""
	if class != "" {
		classAttr = fmt.Sprintf(` class="%s"`, class)
	}
	return fmt.Sprintf("<%s%s>%s</%s>", tag, classAttr, renderChildren(n, images, opt), tag)
}

func renderChildren(n *Node, images map[string]*Image, opt RenderOptions) string {
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(RenderInline(c, images, opt))
	}
	return b.String()
}

// Chapter is one flattened, renderable unit of a book: either a leaf
// section or a section whose children were flattened out from under it.
type Chapter struct {
	Title string
	HTML  string
}

// Flatten walks the section tree depth-first. Leaves become chapters;
// sections with children are flattened (their own title is discarded, each
// child recurses independently), per §4.3.1.
func Flatten(sections []*Section, images map[string]*Image, opt RenderOptions) []Chapter {
	var chapters []Chapter
	var walk func([]*Section)
	walk = func(secs []*Section) {
		for _, s := range secs {
			if s.IsLeaf() {
				chapters = append(chapters, Chapter{
					Title: chapterTitle(s.Title, len(chapters)+1),
					HTML:  renderSectionBody(s, images, opt),
				})
			} else {
				walk(s.Children)
			}
		}
	}
	walk(sections)

	if len(chapters) == 0 {
		chapters = append(chapters, Chapter{Title: "Content", HTML: ""})
	}
	return chapters
}

func chapterTitle(title string, n int) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Sprintf("Chapter %d", n)
	}
	return title
}

// renderSectionBody renders every direct child of a leaf section's own
// element except its own <title> (which becomes the chapter's Title, not
// part of the body).
func renderSectionBody(s *Section, images map[string]*Image, opt RenderOptions) string {
	var b strings.Builder
	for _, c := range s.Body.Children {
		if c.Tag == "title" {
			continue
		}
		b.WriteString(RenderInline(c, images, opt))
	}
	return b.String()
}
