// Package router implements the OPDS request router: URL normalization,
// client-mode detection, menu-structure gating, pagination bucketing, and
// the gorilla/mux-based handler wiring for spec.md §4.2's URL grammar.
package router

import (
	"net/url"
	"strings"
)

// MaxPathLength is the longest path the router accepts before rejecting the
// request outright (§4.1, §8 boundary behaviour).
const MaxPathLength = 2048

// Normalize strips rootPrefix/httpPrefix from path, collapses repeated
// slashes, ensures a leading slash, and percent-decodes the two escapes
// FB2 readers are known to send raw ("%7B"/"%7D"). It is idempotent:
// Normalize(Normalize(p, ...), ...) == Normalize(p, ...).
func Normalize(path, rootPrefix, httpPrefix string) string {
	p := path
	if rootPrefix != "" && strings.HasPrefix(p, rootPrefix) {
		p = strings.TrimPrefix(p, rootPrefix)
	} else if httpPrefix != "" && strings.HasPrefix(p, httpPrefix) {
		p = strings.TrimPrefix(p, httpPrefix)
	}

	p = strings.ReplaceAll(p, "%7B", "{")
	p = strings.ReplaceAll(p, "%7D", "}")

	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

// IsWebRequest reports whether the original (pre-normalization) path
// belongs to the HTML/web surface rather than the OPDS/Atom surface: it
// begins with httpPrefix but not rootPrefix.
func IsWebRequest(originalPath, rootPrefix, httpPrefix string) bool {
	if rootPrefix != "" && strings.HasPrefix(originalPath, rootPrefix) {
		return false
	}
	return httpPrefix != "" && strings.HasPrefix(originalPath, httpPrefix)
}

// AllowedQueryParams is the set of query-string keys the router preserves;
// everything else is dropped during normalization per §4.2.
var AllowedQueryParams = map[string]bool{
	"pageNumber": true,
	"searchTerm": true,
	"searchType": true,
}

// FilterQuery returns only the recognized query parameters from raw,
// re-encoded in a stable order.
func FilterQuery(raw string) url.Values {
	values, _ := url.ParseQuery(raw)
	out := url.Values{}
	for k := range AllowedQueryParams {
		if v := values.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}
