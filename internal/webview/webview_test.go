package webview_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/banux/tinyopds/internal/localize"
	"github.com/banux/tinyopds/internal/opds"
	"github.com/banux/tinyopds/internal/webview"
)

func testFeed() *opds.Feed {
	feed := opds.NewAcquisitionFeed("urn:test", "Test Feed")
	feed.AddEntry(opds.Entry{
		ID:      "urn:tinyopds:book:1",
		Title:   opds.Text{Value: "Moby-Dick"},
		Summary: &opds.Text{Value: "A whale story."},
		Authors: []opds.Author{{Name: "Herman Melville"}},
		Links: []opds.Link{
			{Rel: opds.RelAcquisition, Href: "/1/moby-dick.epub", Type: opds.MIMEEPub},
			{Rel: opds.RelCover, Href: "/cover/1.jpeg", Type: "image/jpeg"},
		},
	})
	return feed
}

func TestRenderer_Render(t *testing.T) {
	r := webview.New()
	var buf bytes.Buffer
	params := webview.Params{
		ServerVersion: "TinyOPDS/2.0",
		LibraryName:   "My Library",
		BookCount:     1,
		Strings:       localize.Default,
	}
	if err := r.Render(&buf, testFeed(), params); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"My Library", "Moby-Dick", "Herman Melville", "A whale story.", "/cover/1.jpeg", "/1/moby-dick.epub"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderer_Render_EmptyFeed(t *testing.T) {
	r := webview.New()
	var buf bytes.Buffer
	feed := opds.NewAcquisitionFeed("urn:test", "Empty")
	params := webview.Params{LibraryName: "Lib", Strings: localize.Default}
	if err := r.Render(&buf, feed, params); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "0 books") {
		t.Errorf("expected zero-count plural form, got:\n%s", buf.String())
	}
}

func TestRenderer_Reload_NoopWithoutLoadFile(t *testing.T) {
	r := webview.New()
	if err := r.Reload(); err != nil {
		t.Errorf("Reload without LoadFile should be a no-op, got %v", err)
	}
}
