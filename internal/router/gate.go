package router

// Gate reports whether an endpoint key (as used in the OPDSStructure
// config string, e.g. "genres", "author-details") is currently enabled.
type Gate map[string]bool

// Enabled reports whether endpoint is enabled; an endpoint absent from the
// gate defaults to enabled.
func (g Gate) Enabled(endpoint string) bool {
	v, ok := g[endpoint]
	return !ok || v
}
