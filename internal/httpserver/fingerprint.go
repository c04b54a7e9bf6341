package httpserver

import "github.com/google/uuid"

// fingerprintNamespace is a fixed namespace UUID used to derive stable
// client fingerprints; any constant UUID works as long as it never changes
// between runs, since the fingerprint must be reproducible across restarts.
var fingerprintNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Fingerprint returns a deterministic UUID5-style hash over a peer IP
// address, used as a stable client key for the persistent remember-me list.
// Earlier revisions mixed in User-Agent; that was dropped because mobile
// readers rotate UA strings across requests.
func Fingerprint(ip string) string {
	return uuid.NewSHA1(fingerprintNamespace, []byte(ip)).String()
}
