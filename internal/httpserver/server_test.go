package httpserver

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/banux/tinyopds/internal/config"
	"github.com/banux/tinyopds/internal/logging"
)

func TestServer_ServesAcceptedConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := config.Default()
	srv := New(&cfg, echoHandler{}, logging.New(false), "")

	go srv.Serve(ln)
	defer srv.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /newdate/0 HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_NotIdleRightAfterConstruction(t *testing.T) {
	cfg := config.Default()
	srv := New(&cfg, echoHandler{}, logging.New(false), "")
	if srv.Idle() {
		t.Error("freshly constructed server should not be idle")
	}
}

func TestServer_StopClosesListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := config.Default()
	srv := New(&cfg, echoHandler{}, logging.New(false), "")

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	time.Sleep(10 * time.Millisecond)
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error after Stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}
