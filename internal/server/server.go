// Package server serves the text protocol over TCP. Each connection reads one
// command line at a time and writes its reply before reading the next.
// Connections are handled by a bounded worker pool; a connection arriving
// while every worker is busy is told so and closed.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/MikhailWahib/walkv"
	"github.com/MikhailWahib/walkv/internal/protocol"
	"github.com/panjf2000/ants/v2"
)

const (
	// Greeting is the first line sent on every connection.
	Greeting = "Welcome to walkv. Type 'help' for commands."
	// Busy is sent to a connection refused because the pool is full.
	Busy = "server busy"

	maxLineLen = 1 << 20
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

// Server accepts connections and runs their commands against one DB.
type Server struct {
	db   *walkv.DB
	pool *ants.Pool

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates a server that handles at most maxConns connections at once.
func New(db *walkv.DB, maxConns int) (*Server, error) {
	pool, err := ants.NewPool(maxConns, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("server pool: %w", err)
	}
	return &Server{
		db:    db,
		pool:  pool,
		conns: make(map[net.Conn]struct{}),
	}, nil
}

// ListenAndServe listens on addr and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called, and
// then returns ErrServerClosed. Serve takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	log.Printf("server: listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("server accept: %w", err)
		}
		s.dispatch(conn)
	}
}

// Addr returns the listener's address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting, closes every open connection and waits for their
// handlers to return. The DB is left open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
	return err
}

// Running returns the number of connections being served.
func (s *Server) Running() int {
	return s.pool.Running()
}

func (s *Server) dispatch(conn net.Conn) {
	if !s.track(conn) {
		_ = conn.Close()
		return
	}

	err := s.pool.Submit(func() { s.handle(conn) })
	if err == nil {
		return
	}
	s.wg.Done()

	if errors.Is(err, ants.ErrPoolOverload) {
		_, _ = io.WriteString(conn, Busy+"\n")
	} else {
		log.Printf("server: %s: submit: %v", conn.RemoteAddr(), err)
	}
	s.untrack(conn)
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("server: %s: panic: %v", conn.RemoteAddr(), r)
		}
	}()

	w := bufio.NewWriter(conn)
	if err := writeLine(w, Greeting); err != nil {
		return
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineLen)
	for sc.Scan() {
		reply, quit := protocol.Handle(s.db, sc.Text())
		if quit {
			_ = writeLine(w, "bye")
			return
		}
		if reply == "" {
			continue
		}
		if err := writeLine(w, reply); err != nil {
			if !s.isClosed() {
				log.Printf("server: %s: write: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
	if err := sc.Err(); err != nil && !s.isClosed() {
		log.Printf("server: %s: read: %v", conn.RemoteAddr(), err)
	}
}

func writeLine(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

// track registers conn with the handler wait group. It fails once Close has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
