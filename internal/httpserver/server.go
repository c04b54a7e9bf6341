// Package httpserver implements the embedded connection server: an accept
// loop that owns its net.Listener directly (the teacher delegates this to
// net/http.ListenAndServe; this generalizes it to raw listener control so
// TCP options, the worker cap and the idle flag are all explicit), a
// bounded worker pool, and the per-connection HTTP/1.1 processor in
// processor.go.
package httpserver

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banux/tinyopds/internal/config"
	"github.com/banux/tinyopds/internal/logging"
)

const (
	maxConnections  = 100
	idleAfter       = 10 * time.Minute
	acceptBackoff   = 100 * time.Millisecond
	sendBufferSize  = 128 * 1024
	recvBufferSize  = 64 * 1024
)

// Server is the embedded connection server: it binds a listener, tunes each
// accepted socket, and dispatches it to a bounded pool of workers running
// the HTTP processor.
type Server struct {
	cfg     *config.Config
	log     logging.Log
	auth    *authState
	handler *processor

	mu       sync.Mutex
	listener net.Listener
	active   bool

	sem         chan struct{}
	wg          sync.WaitGroup
	lastAccept  atomic.Int64 // unix nanos
}

// New builds a Server bound to handler (typically an internal/router
// OpdsRouter) and a state file used to persist sessions/fingerprints
// across restarts; pass "" to disable persistence.
func New(cfg *config.Config, handler http.Handler, log logging.Log, statePath string) *Server {
	auth := newAuthState(statePath)
	s := &Server{
		cfg:     cfg,
		log:     log,
		auth:    auth,
		handler: newProcessor(cfg, auth, handler, log),
		sem:     make(chan struct{}, maxConnections),
	}
	s.lastAccept.Store(time.Now().UnixNano())
	return s
}

// ListenAndServe binds the listener and runs the accept loop until Stop is
// called. It blocks until the loop exits.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop over an already-bound listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.active = true
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := !s.active
			s.mu.Unlock()
			if stopped {
				return nil
			}
			s.log.WriteLine(logging.Warning, "accept: %v", err)
			time.Sleep(acceptBackoff)
			continue
		}

		s.lastAccept.Store(time.Now().UnixNano())
		tuneTCP(conn, s.cfg.Timeout)

		s.sem <- struct{}{} // blocks the accept loop once maxConnections are in flight
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handler.handle(conn)
		}()
	}
}

// Idle reports whether 10 minutes have passed since the last accepted
// connection.
func (s *Server) Idle() bool {
	last := time.Unix(0, s.lastAccept.Load())
	return time.Since(last) >= idleAfter
}

// Stop cooperatively shuts the server down: it flips active to false,
// closes the listener so Accept unblocks with an error, and waits for
// in-flight processors to drain (they are each bounded by their own
// whole-request deadline, so this cannot hang indefinitely).
func (s *Server) Stop() error {
	s.mu.Lock()
	s.active = false
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

// tuneTCP applies the send/receive timeout, buffer sizes and NoDelay
// required of every accepted connection. Non-TCP listeners (used in
// tests) silently skip tuning.
func tuneTCP(conn net.Conn, timeout time.Duration) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetReadBuffer(recvBufferSize)
	_ = tc.SetWriteBuffer(sendBufferSize)
	if timeout > 0 {
		_ = tc.SetDeadline(time.Now().Add(timeout))
	}
}
