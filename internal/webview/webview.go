// Package webview renders an OPDS Atom feed as an HTML page for browser
// clients. spec.md's "single compiled XSLT stylesheet" has no equivalent in
// the corpus (no example repo vendors an XSLT engine), so it is modeled the
// idiomatic Go way: an html/template.Template compiled once at startup and
// executed per request, taking the same transform-time parameters the
// XSLT stylesheet would have received (server version, library name and
// book count, and the full localized UI string set).
package webview

import (
	"html/template"
	"io"
	"strconv"
	"sync"

	"github.com/banux/tinyopds/internal/localize"
	"github.com/banux/tinyopds/internal/opds"
	"github.com/banux/tinyopds/internal/textutil"
)

// Params carries the transform-time values the stylesheet is parameterized
// on, per §4.2.
type Params struct {
	ServerVersion string
	LibraryName   string
	BookCount     int
	Strings       localize.Localizer
}

// viewData is what the template actually ranges over; it exists so the
// template never has to call methods on opds.Feed directly.
type viewData struct {
	Params
	BookCountText string
	Title         string
	Entries       []viewEntry
}

type viewEntry struct {
	Title     string
	Authors   string
	Summary   string
	Links     []opds.Link
	CoverHref string
}

// bookForms are the three Slavic plural forms of the English word "book",
// used only when no localized override is present for the current count.
var bookForms = [3]string{"book", "books", "books"}

// Renderer holds a compiled template guarded by a RWMutex so concurrent
// requests can render while a debug-mode reload swaps the template out.
type Renderer struct {
	mu   sync.RWMutex
	tmpl *template.Template
	path string
}

// New compiles the built-in default template.
func New() *Renderer {
	r := &Renderer{}
	r.tmpl = template.Must(template.New("feed").Parse(defaultTemplate))
	return r
}

// LoadFile compiles the template from disk, remembering path for Reload.
func (r *Renderer) LoadFile(path string) error {
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tmpl = tmpl
	r.path = path
	return nil
}

// Reload recompiles the template from the path passed to LoadFile. It is a
// no-op if LoadFile was never called (the built-in template doesn't change).
// Callers in debug mode invoke this once per request so the stylesheet can
// be edited without restarting the server, matching spec.md §4.2.
func (r *Renderer) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return nil
	}
	return r.LoadFile(path)
}

// Render transforms feed into an HTML page, writing it to w.
func (r *Renderer) Render(w io.Writer, feed *opds.Feed, params Params) error {
	data := viewData{
		Params:        params,
		BookCountText: bookCountText(params),
		Title:         feed.Title.Value,
	}
	for _, e := range feed.Entries {
		ve := viewEntry{
			Title:   e.Title.Value,
			Summary: "",
			Links:   e.Links,
		}
		if e.Summary != nil {
			ve.Summary = e.Summary.Value
		}
		names := make([]string, 0, len(e.Authors))
		for _, a := range e.Authors {
			names = append(names, a.Name)
		}
		ve.Authors = joinNames(names)
		for _, l := range e.Links {
			if l.Rel == opds.RelCover {
				ve.CoverHref = l.Href
			}
		}
		data.Entries = append(data.Entries, ve)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tmpl.Execute(w, data)
}

// bookCountText formats params.BookCount with the correctly pluralized noun,
// using textutil.SelectPlural's Slavic cardinal rule when the localizer
// supplies per-form overrides (keys "book-form-0"/"book-form-1"/"book-form-2"),
// falling back to the English forms otherwise.
func bookCountText(p Params) string {
	form := textutil.SelectPlural(p.BookCount)
	noun := bookForms[form]
	if p.Strings != nil {
		key := "book-form-" + [3]string{"0", "1", "2"}[form]
		if v := p.Strings.Text(key); v != key {
			noun = v
		}
	}
	return strconv.Itoa(p.BookCount) + " " + noun
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<header>
<h1>{{.LibraryName}}</h1>
<p>{{.BookCountText}} &middot; {{.ServerVersion}}</p>
<form action="/search" method="get">
<input type="text" name="searchTerm" placeholder="{{.Strings.Text "search"}}">
</form>
</header>
<main>
{{range .Entries}}
<article>
{{if .CoverHref}}<img src="{{.CoverHref}}" alt="">{{end}}
<h2>{{.Title}}</h2>
{{if .Authors}}<p>{{$.Strings.Text "by"}} {{.Authors}}</p>{{end}}
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
<ul>
{{range .Links}}<li><a href="{{.Href}}">{{if eq .Rel "http://opds-spec.org/acquisition"}}{{$.Strings.Text "download"}}{{else}}{{.Rel}}{{end}}</a></li>{{end}}
</ul>
</article>
{{end}}
</main>
</body>
</html>
`
