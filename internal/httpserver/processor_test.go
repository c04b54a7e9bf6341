package httpserver

import (
	"bufio"
	"net"
	"net/http"
	"testing"

	"github.com/banux/tinyopds/internal/config"
	"github.com/banux/tinyopds/internal/logging"
)

type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/atom+xml;charset=utf-8")
	w.Write([]byte("hello " + r.URL.Path))
}

// runRequest writes rawRequest over a net.Pipe into the processor and
// returns the parsed HTTP response read back from the other end.
func runRequest(t *testing.T, p *processor, rawRequest string) *http.Response {
	t.Helper()
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		p.handle(server)
		close(done)
	}()

	if _, err := client.Write([]byte(rawRequest)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	<-done
	return resp
}

func testProcessor(t *testing.T) *processor {
	t.Helper()
	cfg := config.Default()
	cfg.Timeout = 0
	auth := newAuthState("")
	return newProcessor(&cfg, auth, echoHandler{}, logging.New(false))
}

func TestProcessor_PlainGETIsServed(t *testing.T) {
	p := testProcessor(t)
	resp := runRequest(t, p, "GET /newdate/0 HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Server"); got != "TinyOPDS/2.0" {
		t.Errorf("Server header = %q", got)
	}
}

func TestProcessor_MalformedRequestLineIs400(t *testing.T) {
	p := testProcessor(t)
	resp := runRequest(t, p, "NOT A REQUEST\r\n\r\n")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProcessor_POSTToOPDSRejected(t *testing.T) {
	p := testProcessor(t)
	resp := runRequest(t, p, "POST /search HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

// TestProcessor_PostBodyAtLimitIsAccepted exercises the §8 boundary: exactly
// maxPostBody (65536) bytes of Content-Length is read successfully, so the
// request reaches the method check and is rejected with 405, not 400/500.
func TestProcessor_PostBodyAtLimitIsAccepted(t *testing.T) {
	p := testProcessor(t)
	body := make([]byte, maxPostBody)
	raw := "POST /search HTTP/1.1\r\nHost: example.com\r\nContent-Length: 65536\r\n\r\n" + string(body)
	resp := runRequest(t, p, raw)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405 (body within limit should be read, not rejected)", resp.StatusCode)
	}
}

// TestProcessor_PostBodyOverLimitIs500 exercises the other side of the §8
// boundary: one byte over maxPostBody is rejected before the method check,
// distinctly from a malformed Content-Length (400).
func TestProcessor_PostBodyOverLimitIs500(t *testing.T) {
	p := testProcessor(t)
	raw := "POST /search HTTP/1.1\r\nHost: example.com\r\nContent-Length: 65537\r\n\r\n"
	resp := runRequest(t, p, raw)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

// TestProcessor_PostMissingContentLengthIs400 confirms a malformed (here,
// absent) Content-Length is still a plain 400, distinct from the oversize case.
func TestProcessor_PostMissingContentLengthIs400(t *testing.T) {
	p := testProcessor(t)
	raw := "POST /search HTTP/1.1\r\nHost: example.com\r\n\r\n"
	resp := runRequest(t, p, raw)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProcessor_ImageRequestBypassesAuth(t *testing.T) {
	cfg := config.Default()
	cfg.UseHTTPAuth = true
	cfg.Password = "secret"
	auth := newAuthState("")
	p := newProcessor(&cfg, auth, echoHandler{}, logging.New(false))

	resp := runRequest(t, p, "GET /cover/b1.jpeg HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (image requests bypass auth)", resp.StatusCode)
	}
}

func TestProcessor_UnauthenticatedIs401WithChallenge(t *testing.T) {
	cfg := config.Default()
	cfg.UseHTTPAuth = true
	cfg.Password = "secret"
	auth := newAuthState("")
	p := newProcessor(&cfg, auth, echoHandler{}, logging.New(false))

	resp := runRequest(t, p, "GET /opds-opensearch.xml HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate challenge header")
	}
}

func TestProcessor_BanAfterThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.UseHTTPAuth = true
	cfg.Password = "secret"
	cfg.BanClients = true
	cfg.WrongAttemptsCount = 1
	auth := newAuthState("")
	p := newProcessor(&cfg, auth, echoHandler{}, logging.New(false))

	first := runRequest(t, p, "GET /search HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if first.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request status = %d, want 401", first.StatusCode)
	}

	second := runRequest(t, p, "GET /search HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if second.StatusCode != http.StatusForbidden {
		t.Errorf("second request status = %d, want 403 once banned", second.StatusCode)
	}
}

func TestAcceptsEncodingGzip(t *testing.T) {
	if !acceptsEncodingGzip("gzip, deflate") {
		t.Error("expected gzip to be detected")
	}
	if acceptsEncodingGzip("deflate") {
		t.Error("did not expect gzip to be detected")
	}
}
