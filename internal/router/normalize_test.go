package router_test

import (
	"testing"

	"github.com/banux/tinyopds/internal/router"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		path, root, http, want string
	}{
		{"/opds/newdate/0", "/opds", "/web", "/newdate/0"},
		{"/web/newdate/0", "/opds", "/web", "/newdate/0"},
		{"/opds//newdate//0", "/opds", "/web", "/newdate/0"},
		{"newdate/0", "/opds", "/web", "/newdate/0"},
		{"/opds/", "/opds", "/web", "/"},
		{"/opds/search%7Bfoo%7D", "/opds", "/web", "/search{foo}"},
	}
	for _, c := range cases {
		got := router.Normalize(c.path, c.root, c.http)
		if got != c.want {
			t.Errorf("Normalize(%q, %q, %q) = %q, want %q", c.path, c.root, c.http, got, c.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"/opds/newdate/0", "/opds//genres///x", "genre/5"}
	for _, in := range inputs {
		once := router.Normalize(in, "/opds", "/web")
		twice := router.Normalize(once, "/opds", "/web")
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestIsWebRequest(t *testing.T) {
	if router.IsWebRequest("/opds/newdate/0", "/opds", "/web") {
		t.Errorf("path under RootPrefix should not be a web request")
	}
	if !router.IsWebRequest("/web/newdate/0", "/opds", "/web") {
		t.Errorf("path under HttpPrefix (not RootPrefix) should be a web request")
	}
	if router.IsWebRequest("/other", "/opds", "/web") {
		t.Errorf("path matching neither prefix should not be a web request")
	}
}

func TestFilterQuery_DropsUnknownKeys(t *testing.T) {
	got := router.FilterQuery("searchTerm=tolkien&debug=1&pageNumber=2")
	if got.Get("searchTerm") != "tolkien" {
		t.Errorf("searchTerm not preserved")
	}
	if got.Get("pageNumber") != "2" {
		t.Errorf("pageNumber not preserved")
	}
	if got.Has("debug") {
		t.Errorf("unknown key 'debug' should be dropped")
	}
}
