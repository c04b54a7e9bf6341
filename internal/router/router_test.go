package router_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banux/tinyopds/internal/catalog"
	"github.com/banux/tinyopds/internal/config"
	"github.com/banux/tinyopds/internal/router"
)

type fakeCatalog struct {
	books []catalog.Book
}

func (f *fakeCatalog) Root() ([]catalog.NavEntry, error) { return nil, nil }

func (f *fakeCatalog) AllBooks(offset, limit int) ([]catalog.Book, int, error) {
	return f.books, len(f.books), nil
}

func (f *fakeCatalog) BookByID(id string) (*catalog.Book, error) {
	for i := range f.books {
		if f.books[i].ID == id {
			return &f.books[i], nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) Search(q catalog.SearchQuery) ([]catalog.Book, int, error) {
	return f.books, len(f.books), nil
}

func (f *fakeCatalog) BooksByAuthor(author string, offset, limit int) ([]catalog.Book, int, error) {
	var out []catalog.Book
	for _, b := range f.books {
		for _, a := range b.Authors {
			if a.Name == author {
				out = append(out, b)
			}
		}
	}
	return out, len(out), nil
}

func (f *fakeCatalog) BooksByTag(tag string, offset, limit int) ([]catalog.Book, int, error) {
	var out []catalog.Book
	for _, b := range f.books {
		for _, t := range b.Tags {
			if t == tag {
				out = append(out, b)
			}
		}
	}
	return out, len(out), nil
}

func (f *fakeCatalog) Authors(offset, limit int) ([]string, int, error) {
	return []string{"Jane Doe", "Пушкин"}, 2, nil
}

func (f *fakeCatalog) Tags(offset, limit int) ([]string, int, error) {
	return []string{"Fiction"}, 1, nil
}

func newTestRouter() (*router.OpdsRouter, *fakeCatalog) {
	cfg := config.Default()
	cat := &fakeCatalog{books: []catalog.Book{
		{ID: "b1", Title: "Alpha", PublishedAt: time.Now(), Authors: []catalog.Author{{Name: "Jane Doe"}}},
		{ID: "b2", Title: "Beta", PublishedAt: time.Now().Add(-time.Hour), Tags: []string{"Fiction"}},
	}}
	return router.New(&cfg, cat), cat
}

func TestRoot_ListsGatedEndpoints(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/newdate/0") {
		t.Errorf("expected root feed to link /newdate/0, got %s", rec.Body.String())
	}
}

func TestRoot_WebRequestRendersHTML(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/web/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "<html>") {
		t.Errorf("expected HTML body, got %s", rec.Body.String())
	}
}

func TestGenres_DisabledReturns404(t *testing.T) {
	cfg := config.Default()
	cfg.OPDSStructure = "genres:0"
	cat := &fakeCatalog{}
	r := router.New(&cfg, cat)

	req := httptest.NewRequest(http.MethodGet, "/genres", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for gated-off endpoint", rec.Code)
	}
}

func TestRoot_HidesDisabledEndpointLink(t *testing.T) {
	cfg := config.Default()
	cfg.OPDSStructure = "genres:0"
	cat := &fakeCatalog{}
	r := router.New(&cfg, cat)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "/genres") {
		t.Errorf("root feed should not link /genres when disabled, got %s", rec.Body.String())
	}
}

func TestNewDate_ReturnsBooks(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/newdate/0", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Alpha") || !strings.Contains(rec.Body.String(), "Beta") {
		t.Errorf("expected both books in feed, got %s", rec.Body.String())
	}
}

func TestOpenSearch_ServedAtFixedPath(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/opds-opensearch.xml", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OpenSearchDescription") {
		t.Errorf("expected OpenSearchDescription root element, got %s", rec.Body.String())
	}
}

func TestDownloadFB2_UnknownBookIs404(t *testing.T) {
	r, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/missing/book.fb2.zip", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
