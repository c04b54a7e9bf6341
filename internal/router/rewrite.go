package router

import (
	"regexp"
)

var hrefAttr = regexp.MustCompile(`href="([^"]*)"`)

// RewriteLinks runs the post-build URI rewriting pass over a marshaled
// Atom/OpenSearch document: every href="..." that does not already carry a
// scheme is prefixed with either an absolute "http://{host}{prefix}" or a
// relative "{prefix}", per §4.2. href="/opds-opensearch.xml" is left as it
// is, so the OpenSearch description always stays at root.
func RewriteLinks(doc []byte, absolute bool, host, prefix string) []byte {
	base := prefix
	if absolute {
		base = "http://" + host + prefix
	}
	return hrefAttr.ReplaceAllFunc(doc, func(m []byte) []byte {
		sub := hrefAttr.FindSubmatch(m)
		href := string(sub[1])
		if hasScheme(href) || href == "/opds-opensearch.xml" {
			return m
		}
		return []byte(`href="` + base + href + `"`)
	})
}

func hasScheme(href string) bool {
	for i, r := range href {
		switch {
		case r == ':':
			return i > 0
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.':
			continue
		default:
			return false
		}
	}
	return false
}
