package router

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/banux/tinyopds/internal/catalog"
	"github.com/banux/tinyopds/internal/config"
	"github.com/banux/tinyopds/internal/covercache"
	"github.com/banux/tinyopds/internal/fb2"
	"github.com/banux/tinyopds/internal/fb2epub"
	"github.com/banux/tinyopds/internal/httperr"
	"github.com/banux/tinyopds/internal/localize"
	"github.com/banux/tinyopds/internal/opds"
	"github.com/banux/tinyopds/internal/textutil"
	"github.com/banux/tinyopds/internal/webview"
)

// OpdsRouter wires the OPDS/web URL grammar of §4.2 onto a Catalog backend
// using gorilla/mux for path-variable extraction, generalized from the
// teacher's flat /opds/... route table.
type OpdsRouter struct {
	cfg    *config.Config
	cat    catalog.Catalog
	mux    *mux.Router
	gate   Gate
	covers *covercache.Cache
	web    *webview.Renderer
}

// New builds an OpdsRouter and registers every route from the URL grammar.
func New(cfg *config.Config, cat catalog.Catalog) *OpdsRouter {
	r := &OpdsRouter{
		cfg:    cfg,
		cat:    cat,
		mux:    mux.NewRouter(),
		gate:   Gate(cfg.ParsedOPDSStructure()),
		covers: covercache.New(cfg.CoverCacheCapacity),
		web:    webview.New(),
	}
	r.register()
	return r
}

// ServeHTTP delegates to the underlying gorilla/mux router. The connection
// processor (internal/httpserver) calls this only for GET; POST is rejected
// with 405 before reaching here, per §4.1/§4.2.
//
// Before routing it applies the §4.2 normalization pass: RootPrefix/
// HttpPrefix stripped, "//" collapsed, "%7B"/"%7D" decoded, and only the
// recognized query keys kept. The pre-normalization path decides client
// mode (OPDS vs. web) and is preserved on the request as a header so
// handlers can still tell which surface asked.
func (r *OpdsRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if len(req.URL.Path) > MaxPathLength {
		writeError(w, httperr.ErrMalformedRequest)
		return
	}
	web := IsWebRequest(req.URL.Path, r.cfg.RootPrefix, r.cfg.HttpPrefix)
	req.URL.Path = Normalize(req.URL.Path, r.cfg.RootPrefix, r.cfg.HttpPrefix)
	req.URL.RawQuery = FilterQuery(req.URL.RawQuery).Encode()
	if web {
		req.Header.Set("X-TinyOPDS-Web-Request", "1")
	}
	r.mux.ServeHTTP(w, req)
}

func (r *OpdsRouter) register() {
	r.mux.HandleFunc("/", r.handleRoot)
	r.mux.HandleFunc("/newdate/{page:[0-9]+}", r.gated("newdate", r.handleNewDate))
	r.mux.HandleFunc("/newtitle/{page:[0-9]+}", r.gated("newtitle", r.handleNewTitle))
	r.mux.HandleFunc("/authorsindex", r.gated("authorsindex", r.handleAuthorsIndex))
	r.mux.HandleFunc("/authorsindex/{prefix}", r.gated("authorsindex", r.handleAuthorsIndex))
	r.mux.HandleFunc("/author-details/{name}", r.gated("author-details", r.handleAuthorDetails))
	r.mux.HandleFunc("/author-series/{name}", r.gated("author-series", r.handleAuthorSeries))
	r.mux.HandleFunc("/author-no-series/{name}", r.gated("author-no-series", r.handleAuthorNoSeries))
	r.mux.HandleFunc("/author-alphabetic/{name}", r.gated("author-alphabetic", r.handleAuthorAlphabetic))
	r.mux.HandleFunc("/author-by-date/{name}", r.gated("author-by-date", r.handleAuthorByDate))
	r.mux.HandleFunc("/sequencesindex", r.gated("sequencesindex", r.handleSequencesIndex))
	r.mux.HandleFunc("/sequencesindex/{prefix}", r.gated("sequencesindex", r.handleSequencesIndex))
	r.mux.HandleFunc("/sequence/{name}", r.handleSequence)
	r.mux.HandleFunc("/genres", r.gated("genres", r.handleGenres))
	r.mux.HandleFunc("/genres/{path:.*}", r.gated("genres", r.handleGenres))
	r.mux.HandleFunc("/genre/{id}", r.handleGenre)
	r.mux.HandleFunc("/search", r.handleSearch)
	r.mux.HandleFunc("/opds-opensearch.xml", r.handleOpenSearch)
	r.mux.HandleFunc("/cover/{bookid}.jpeg", r.handleCover)
	r.mux.HandleFunc("/thumbnail/{bookid}.jpeg", r.handleThumbnail)
	r.mux.HandleFunc("/{bookid}/{name}.fb2.zip", r.handleDownloadFB2)
	r.mux.HandleFunc("/{bookid}/{name}.epub", r.handleDownloadEPUB)
	r.mux.NotFoundHandler = http.HandlerFunc(r.handleNotFound)
}

// gated wraps a handler so it returns 404 when the config's OPDSStructure
// gate string disables the given endpoint key.
func (r *OpdsRouter) gated(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.gate.Enabled(endpoint) {
			writeError(w, httperr.ErrNotFound)
			return
		}
		h(w, req)
	}
}

func (r *OpdsRouter) handleRoot(w http.ResponseWriter, req *http.Request) {
	feed := opds.NewNavigationFeed("urn:tinyopds:root", r.cfg.ServerName)
	feed.AddLink(opds.RelSelf, "/", opds.MIMENavigationFeed)
	feed.AddLink(opds.RelSearch, "/opds-opensearch.xml", opds.MIMEOpenSearchDesc)

	add := func(key, href, title string) {
		if r.gate.Enabled(key) {
			feed.AddEntry(opds.Entry{
				ID:    "urn:tinyopds:" + key,
				Title: opds.Text{Value: title},
				Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: href, Type: opds.MIMENavigationFeed}},
			})
		}
	}
	add("newdate", "/newdate/0", "By new date")
	add("newtitle", "/newtitle/0", "By new title")
	authorsHref := "/authorsindex"
	if !r.gate.Enabled("author-details") {
		authorsHref = "/author-alphabetic/"
	}
	add("authorsindex", authorsHref, "By author")
	add("sequencesindex", "/sequencesindex", "By series")
	add("genres", "/genres", "By genre")

	r.writeFeed(w, req, feed)
}

func (r *OpdsRouter) handleNewDate(w http.ResponseWriter, req *http.Request) {
	page := pageVar(req)
	books, total, err := r.cat.AllBooks(0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	sort.Slice(books, func(i, j int) bool { return books[i].PublishedAt.After(books[j].PublishedAt) })
	r.writeBookPage(w, "urn:tinyopds:newdate", "New books by date", "/newdate/"+strconv.Itoa(page), page, books, total)
}

func (r *OpdsRouter) handleNewTitle(w http.ResponseWriter, req *http.Request) {
	page := pageVar(req)
	books, total, err := r.cat.AllBooks(0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	sort.Slice(books, func(i, j int) bool {
		_, ki := textutil.SortKey(books[i].Title, false)
		_, kj := textutil.SortKey(books[j].Title, false)
		return ki < kj
	})
	r.writeBookPage(w, "urn:tinyopds:newtitle", "New books by title", "/newtitle/"+strconv.Itoa(page), page, books, total)
}

func (r *OpdsRouter) handleAuthorsIndex(w http.ResponseWriter, req *http.Request) {
	prefix := mux.Vars(req)["prefix"]
	authors, _, err := r.cat.Authors(0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	feed := opds.NewNavigationFeed("urn:tinyopds:authorsindex:"+prefix, "Authors")
	for key, names := range bucketByPrefix(authors, prefix) {
		if len(names) == 1 && key == names[0] {
			feed.AddEntry(opds.Entry{
				ID:    "urn:tinyopds:author:" + names[0],
				Title: opds.Text{Value: names[0]},
				Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/author-details/" + names[0], Type: opds.MIMENavigationFeed}},
			})
			continue
		}
		feed.AddEntry(opds.Entry{
			ID:    "urn:tinyopds:authorsindex:" + prefix + key,
			Title: opds.Text{Value: key},
			Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/authorsindex/" + prefix + key, Type: opds.MIMENavigationFeed}},
		})
	}
	r.writeFeed(w, req, feed)
}

func (r *OpdsRouter) handleAuthorDetails(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	feed := opds.NewNavigationFeed("urn:tinyopds:author:"+name, name)
	feed.AddEntry(opds.Entry{ID: "urn:tinyopds:author-series:" + name, Title: opds.Text{Value: "By series"},
		Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/author-series/" + name, Type: opds.MIMENavigationFeed}}})
	feed.AddEntry(opds.Entry{ID: "urn:tinyopds:author-no-series:" + name, Title: opds.Text{Value: "Standalone books"},
		Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/author-no-series/" + name, Type: opds.MIMENavigationFeed}}})
	feed.AddEntry(opds.Entry{ID: "urn:tinyopds:author-alphabetic:" + name, Title: opds.Text{Value: "By title"},
		Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/author-alphabetic/" + name, Type: opds.MIMENavigationFeed}}})
	feed.AddEntry(opds.Entry{ID: "urn:tinyopds:author-by-date:" + name, Title: opds.Text{Value: "By date"},
		Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/author-by-date/" + name, Type: opds.MIMENavigationFeed}}})
	r.writeFeed(w, req, feed)
}

func (r *OpdsRouter) handleAuthorSeries(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	books, _, err := r.cat.BooksByAuthor(name, 0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	var inSeries []catalog.Book
	for _, b := range books {
		if b.Series != "" {
			inSeries = append(inSeries, b)
		}
	}
	r.writeBookPage(w, "urn:tinyopds:author-series:"+name, name+" - series", "/author-series/"+name, 0, inSeries, len(inSeries))
}

func (r *OpdsRouter) handleAuthorNoSeries(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	books, _, err := r.cat.BooksByAuthor(name, 0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	var standalone []catalog.Book
	for _, b := range books {
		if b.Series == "" {
			standalone = append(standalone, b)
		}
	}
	r.writeBookPage(w, "urn:tinyopds:author-no-series:"+name, name+" - standalone", "/author-no-series/"+name, 0, standalone, len(standalone))
}

func (r *OpdsRouter) handleAuthorAlphabetic(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	books, total, err := r.cat.BooksByAuthor(name, 0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	sort.Slice(books, func(i, j int) bool {
		_, ki := textutil.SortKey(books[i].Title, false)
		_, kj := textutil.SortKey(books[j].Title, false)
		return ki < kj
	})
	r.writeBookPage(w, "urn:tinyopds:author-alphabetic:"+name, name+" - by title", "/author-alphabetic/"+name, 0, books, total)
}

func (r *OpdsRouter) handleAuthorByDate(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	books, total, err := r.cat.BooksByAuthor(name, 0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	sort.Slice(books, func(i, j int) bool { return books[i].PublishedAt.After(books[j].PublishedAt) })
	r.writeBookPage(w, "urn:tinyopds:author-by-date:"+name, name+" - by date", "/author-by-date/"+name, 0, books, total)
}

func (r *OpdsRouter) handleSequencesIndex(w http.ResponseWriter, req *http.Request) {
	lister, ok := r.cat.(catalog.SeriesLister)
	if !ok {
		writeError(w, httperr.ErrNotFound)
		return
	}
	series, err := lister.Series()
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	feed := opds.NewNavigationFeed("urn:tinyopds:sequencesindex", "Series")
	for _, s := range series {
		feed.AddEntry(opds.Entry{
			ID:    "urn:tinyopds:sequence:" + s.Name,
			Title: opds.Text{Value: fmt.Sprintf("%s (%d)", s.Name, s.Count)},
			Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/sequence/" + s.Name, Type: opds.MIMEAcquisitionFeed}},
		})
	}
	r.writeFeed(w, req, feed)
}

func (r *OpdsRouter) handleSequence(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	books, total, err := r.cat.Search(catalog.SearchQuery{Series: name})
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	r.writeBookPage(w, "urn:tinyopds:sequence:"+name, name, "/sequence/"+name, 0, books, total)
}

func (r *OpdsRouter) handleGenres(w http.ResponseWriter, req *http.Request) {
	tags, _, err := r.cat.Tags(0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	feed := opds.NewNavigationFeed("urn:tinyopds:genres", "Genres")
	for _, t := range tags {
		feed.AddEntry(opds.Entry{
			ID:    "urn:tinyopds:genre:" + t,
			Title: opds.Text{Value: t},
			Links: []opds.Link{{Rel: opds.RelCatalogNavigation, Href: "/genre/" + t, Type: opds.MIMEAcquisitionFeed}},
		})
	}
	r.writeFeed(w, req, feed)
}

func (r *OpdsRouter) handleGenre(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	books, total, err := r.cat.BooksByTag(id, 0, 0)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	r.writeBookPage(w, "urn:tinyopds:genre:"+id, id, "/genre/"+id, 0, books, total)
}

func (r *OpdsRouter) handleSearch(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	query := catalog.SearchQuery{Query: q.Get("searchTerm")}
	switch q.Get("searchType") {
	case "author":
		query.Author = q.Get("searchTerm")
	case "series":
		query.Series = q.Get("searchTerm")
	}
	page, _ := strconv.Atoi(q.Get("pageNumber"))

	books, total, err := r.cat.Search(query)
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	if total == 0 && query.Query != "" {
		books, total = r.soundexSearch(query.Query)
	}
	r.writeBookPage(w, "urn:tinyopds:search", "Search results", "/search?searchTerm="+query.Query, page, books, total)
}

// soundexSearch is the phonetic fallback for handleSearch: when an exact
// substring search comes back empty, books whose title or any author name
// shares a Soundex code with query are returned instead, so a misspelled or
// transliterated search term still finds its book.
func (r *OpdsRouter) soundexSearch(query string) ([]catalog.Book, int) {
	code := textutil.Soundex(query)
	// AllBooks' limit is not "0 = unbounded" like SearchQuery.Limit; pass a
	// ceiling comfortably above any real library size instead.
	all, _, err := r.cat.AllBooks(0, 1_000_000)
	if err != nil {
		return nil, 0
	}
	var out []catalog.Book
	for _, b := range all {
		if textutil.Soundex(b.Title) == code {
			out = append(out, b)
			continue
		}
		for _, a := range b.Authors {
			if textutil.Soundex(a.Name) == code {
				out = append(out, b)
				break
			}
		}
	}
	return out, len(out)
}

func (r *OpdsRouter) handleOpenSearch(w http.ResponseWriter, req *http.Request) {
	desc := opds.NewOpenSearchDescription(r.cfg.ServerName, r.cfg.RootPrefix)
	data, err := desc.MarshalToXML()
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	w.Header().Set("Content-Type", opds.MIMEOpenSearchDesc)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (r *OpdsRouter) handleCover(w http.ResponseWriter, req *http.Request) {
	r.serveImage(w, req, false)
}

func (r *OpdsRouter) handleThumbnail(w http.ResponseWriter, req *http.Request) {
	r.serveImage(w, req, true)
}

// serveImage serves a cover or thumbnail JPEG for a book, consulting the
// CoverCache (component J) before touching disk. A cache miss reads the
// file once via the backend's CoverProvider and populates the cache for
// subsequent requests.
func (r *OpdsRouter) serveImage(w http.ResponseWriter, req *http.Request, thumbnail bool) {
	id := mux.Vars(req)["bookid"]

	if data, ok := r.covers.Get(id, thumbnail); ok {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	provider, ok := r.cat.(catalog.CoverProvider)
	if !ok {
		writeError(w, httperr.ErrNotFound)
		return
	}
	path, err := provider.CoverPath(id)
	if err != nil {
		writeError(w, httperr.ErrNotFound)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, httperr.ErrNotFound)
		return
	}
	r.covers.Put(id, thumbnail, data)

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (r *OpdsRouter) handleDownloadFB2(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	book, err := r.cat.BookByID(vars["bookid"])
	if err != nil || book == nil {
		writeError(w, httperr.ErrNotFound)
		return
	}
	if book.BookType != catalog.BookTypeFB2 {
		writeError(w, httperr.ErrNotFound)
		return
	}
	src, err := openBookSource(*book)
	if err != nil {
		writeError(w, httperr.ErrNotFound)
		return
	}
	defer src.Close()

	name := textutil.Transliterate(firstAuthorName(book)) + "_" + textutil.Transliterate(book.Title) + ".fb2"
	w.Header().Set("Content-Type", "application/fb2+zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.zip"`)
	zw := zip.NewWriter(w)
	defer zw.Close()
	f, err := zw.Create(name)
	if err != nil {
		return
	}
	_, _ = io.Copy(f, src)
}

func (r *OpdsRouter) handleDownloadEPUB(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	book, err := r.cat.BookByID(vars["bookid"])
	if err != nil || book == nil {
		writeError(w, httperr.ErrNotFound)
		return
	}
	src, err := openBookSource(*book)
	if err != nil {
		writeError(w, httperr.ErrConverterFailure)
		return
	}
	defer src.Close()

	w.Header().Set("Content-Type", "application/epub+zip")

	if book.BookType == catalog.BookTypeEPUB {
		// Already in EPUB form: stream the source container unmodified.
		_, _ = io.Copy(w, src)
		return
	}

	parsed, err := fb2.Parse(src)
	if err != nil {
		writeError(w, httperr.ErrConverterFailure)
		return
	}
	_ = fb2epub.NewBuilder(parsed, book.ID).Write(w)
}

func (r *OpdsRouter) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, httperr.ErrNotFound)
}

func (r *OpdsRouter) writeBookPage(w http.ResponseWriter, id, title, basePath string, page int, books []catalog.Book, total int) {
	feed := opds.NewAcquisitionFeed(id, title)
	perPage := r.cfg.ItemsPerOPDSPage
	if perPage <= 0 {
		perPage = 50
	}
	start := page * perPage
	end := start + perPage
	if start > len(books) {
		start = len(books)
	}
	if end > len(books) {
		end = len(books)
	}
	for _, b := range books[start:end] {
		feed.AddEntry(bookToEntry(b))
	}
	feed.AddPagination(basePath, page, perPage, total)
	r.writeFeed(w, req, feed)
}

func bookToEntry(b catalog.Book) opds.Entry {
	entry := opds.Entry{
		ID:      "urn:tinyopds:book:" + b.ID,
		Title:   opds.Text{Value: b.Title},
		Updated: opds.AtomDate{Time: b.UpdatedAt},
	}
	if b.Summary != "" {
		entry.Summary = &opds.Text{Value: b.Summary}
	}
	for _, a := range b.Authors {
		entry.Authors = append(entry.Authors, opds.Author{Name: a.Name, URI: a.URI})
	}
	if b.Series != "" {
		entry.CalSeries = b.Series
		entry.CalSeriesIndex = b.SeriesIndex
	}
	mime := "application/fb2+zip"
	if b.BookType == catalog.BookTypeEPUB {
		mime = opds.MIMEEPub
	}
	entry.Links = append(entry.Links, opds.Link{
		Rel: opds.RelAcquisition, Href: "/" + b.ID + "/" + safeSlug(b.Title) + ".fb2.zip", Type: mime,
	})
	entry.Links = append(entry.Links, opds.Link{
		Rel: opds.RelAcquisition, Href: "/" + b.ID + "/" + safeSlug(b.Title) + ".epub", Type: opds.MIMEEPub,
	})
	if b.CoverURL != "" {
		entry.Links = append(entry.Links, opds.Link{Rel: opds.RelCover, Href: "/cover/" + b.ID + ".jpeg", Type: "image/jpeg"})
		entry.Links = append(entry.Links, opds.Link{Rel: opds.RelThumbnail, Href: "/thumbnail/" + b.ID + ".jpeg", Type: "image/jpeg"})
	}
	return entry
}

// writeFeed marshals feed and runs the post-build URI rewriting pass of
// §4.2 over it: every relative href is prefixed with RootPrefix, either
// as a bare path or, when UseAbsoluteUri is set, as a full
// "http://{Host}{prefix}" URL. Requests flagged as web requests (see
// IsWebRequest) get the feed rendered to HTML by the webview Renderer
// instead of serialized as Atom XML.
func (r *OpdsRouter) writeFeed(w http.ResponseWriter, req *http.Request, feed *opds.Feed) {
	if req.Header.Get("X-TinyOPDS-Web-Request") != "" {
		r.writeWebFeed(w, feed)
		return
	}

	data, err := feed.MarshalToXML()
	if err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	data = RewriteLinks(data, r.cfg.UseAbsoluteUri, req.Host, r.cfg.RootPrefix)
	w.Header().Set("Content-Type", opds.MIMEAcquisitionFeed+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// webServerVersion is reported to the webview template as the transform-time
// ServerVersion parameter, matching the Server response header emitted by
// internal/httpserver.
const webServerVersion = "TinyOPDS/2.0"

// writeWebFeed renders feed through the webview Renderer for browser clients.
// In debug mode the template is reloaded from disk on every request so it
// can be edited without restarting the server, per §4.2.
func (r *OpdsRouter) writeWebFeed(w http.ResponseWriter, feed *opds.Feed) {
	if r.cfg.Debug {
		_ = r.web.Reload()
	}
	params := webview.Params{
		ServerVersion: webServerVersion,
		LibraryName:   r.cfg.ServerName,
		BookCount:     len(feed.Entries),
		Strings:       localize.Default,
	}
	var buf bytes.Buffer
	if err := r.web.Render(&buf, feed, params); err != nil {
		writeError(w, httperr.ErrInternal)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(httperr.StatusCode(err))
}

func pageVar(req *http.Request) int {
	n, _ := strconv.Atoi(mux.Vars(req)["page"])
	return n
}

func safeSlug(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func firstAuthorName(b *catalog.Book) string {
	if len(b.Authors) == 0 {
		return "unknown"
	}
	return b.Authors[0].Name
}

// bucketByPrefix groups names under prefix by their next sort-key
// character, collapsing single-member buckets down to the bare name so the
// authors index recurses only where it has to (§9: script-aware sort keys
// group Cyrillic, Latin and Other names into separate buckets).
func bucketByPrefix(names []string, prefix string) map[string][]string {
	buckets := map[string][]string{}
	for _, n := range names {
		_, key := textutil.SortKey(n, false)
		if !strings.HasPrefix(key, strings.ToLower(prefix)) {
			continue
		}
		rest := key[len(prefix):]
		if rest == "" {
			buckets[n] = append(buckets[n], n)
			continue
		}
		bucketKey := string([]rune(rest)[0])
		buckets[bucketKey] = append(buckets[bucketKey], n)
	}
	for k, v := range buckets {
		if len(v) == 1 && k != v[0] {
			if _, taken := buckets[v[0]]; !taken {
				delete(buckets, k)
				buckets[v[0]] = v
			}
		}
	}
	return buckets
}
