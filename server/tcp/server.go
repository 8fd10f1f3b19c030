// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the raw TCP frontend. It binds the configured
// address, applies the socket-level options at accept time, and delegates
// each connection to the broker's handler.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pires/go-proxyproto"

	"github.com/absmach/mqtt/options"
	mqtttls "github.com/absmach/mqtt/pkg/tls"
	"github.com/absmach/mqtt/server"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the
// configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Config holds the frontend settings that are not part of the server
// options: operational knobs owned by the process, not by the protocol.
type Config struct {
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
	TCPKeepAlive    time.Duration
	MaxConnections  int
	DisableNoDelay  bool
}

// Server accepts TCP (optionally TLS) connections for a broker.
type Server struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	config   Config
	opts     *options.ServerOptions
	handler  server.Handler
	listener net.Listener
	connSem  chan struct{}
}

// New creates a TCP frontend from the server options. The options are
// snapshotted with Clone, so later mutation by the caller does not affect
// a running server.
func New(opts *options.ServerOptions, cfg Config, h server.Handler) *Server {
	if opts == nil {
		opts = options.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.TCPKeepAlive == 0 {
		cfg.TCPKeepAlive = 15 * time.Second
	}

	var connSem chan struct{}
	if cfg.MaxConnections > 0 {
		connSem = make(chan struct{}, cfg.MaxConnections)
	}

	return &Server{
		config:  cfg,
		opts:    opts.Clone(),
		handler: h,
		connSem: connSem,
	}
}

// Listen starts the frontend and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := s.createListener()
	if err != nil {
		return err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := s.runAcceptLoop(ctx, connCtx, listener)

	<-ctx.Done()
	return s.gracefulShutdown(listener, acceptDone, connCancel)
}

// createListener binds the configured address and layers the PROXY
// protocol and TLS wrappers on top as configured.
func (s *Server) createListener() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.opts.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.opts.Address(), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	if s.opts.UseProxyProtocol() {
		listener = &proxyproto.Listener{
			Listener:          listener,
			ReadHeaderTimeout: s.opts.ProxyProtocolTimeout(),
		}
		s.config.Logger.Info("PROXY protocol enabled",
			slog.Duration("header_timeout", s.opts.ProxyProtocolTimeout()))
	}

	if s.opts.SSL() {
		trans := s.opts.Transport()
		tlsConfig, err := mqtttls.Load(&trans)
		if err != nil {
			listener.Close()
			return nil, err
		}
		if tlsConfig != nil {
			listener = tls.NewListener(listener, tlsConfig)
			s.config.Logger.Info("TLS enabled", slog.String("address", s.opts.Address()))
		}
	}

	s.config.Logger.Info("TCP server started", slog.String("address", s.opts.Address()))
	return listener, nil
}

// runAcceptLoop runs the connection accept loop in a separate goroutine.
func (s *Server) runAcceptLoop(ctx, connCtx context.Context, listener net.Listener) <-chan struct{} {
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			if !s.tryAcquireConnectionSlot(ctx, conn) {
				continue
			}

			if err := s.configureConn(conn); err != nil {
				s.config.Logger.Error("failed to configure connection",
					slog.String("error", err.Error()))
				s.releaseConnectionSlot()
				conn.Close()
				continue
			}

			s.wg.Add(1)
			go s.handleConnection(connCtx, conn)
		}
	}()
	return acceptDone
}

// tryAcquireConnectionSlot attempts to acquire a connection slot within
// the configured limit.
func (s *Server) tryAcquireConnectionSlot(ctx context.Context, conn net.Conn) bool {
	if s.connSem == nil {
		return true
	}

	select {
	case s.connSem <- struct{}{}:
		return true
	case <-ctx.Done():
		conn.Close()
		return false
	default:
		s.config.Logger.Warn("connection limit reached, rejecting connection",
			slog.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return false
	}
}

// releaseConnectionSlot releases a connection slot.
func (s *Server) releaseConnectionSlot() {
	if s.connSem != nil {
		<-s.connSem
	}
}

// configureConn applies the socket-level options to an accepted
// connection: keepalive, no-delay, and the configured receive buffer.
// The PROXY protocol and TLS listeners hand out wrapped conns, so the
// raw TCP connection is unwrapped first.
func (s *Server) configureConn(conn net.Conn) error {
	tcpConn := rawTCPConn(conn)
	if tcpConn == nil {
		return nil
	}

	if s.config.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return fmt.Errorf("failed to enable keepalive: %w", err)
		}
		if err := tcpConn.SetKeepAlivePeriod(s.config.TCPKeepAlive); err != nil {
			return fmt.Errorf("failed to set keepalive period: %w", err)
		}
	}

	if !s.config.DisableNoDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return fmt.Errorf("failed to set TCP_NODELAY: %w", err)
		}
	}

	if size := s.opts.ReceiveBufferSize(); size > 0 {
		if err := tcpConn.SetReadBuffer(size); err != nil {
			return fmt.Errorf("failed to set receive buffer: %w", err)
		}
	}

	return nil
}

// rawTCPConn peels the TLS and PROXY protocol layers off an accepted
// connection. It returns nil when no TCP connection is underneath.
func rawTCPConn(conn net.Conn) *net.TCPConn {
	for {
		switch c := conn.(type) {
		case *net.TCPConn:
			return c
		case *tls.Conn:
			conn = c.NetConn()
		case *proxyproto.Conn:
			tcpConn, ok := c.TCPConn()
			if !ok {
				return nil
			}
			return tcpConn
		default:
			return nil
		}
	}
}

// handleConnection handles a single connection in a goroutine.
func (s *Server) handleConnection(connCtx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.releaseConnectionSlot()

	connID := uuid.NewString()
	s.config.Logger.Debug("connection established",
		slog.String("conn_id", connID),
		slog.String("remote", conn.RemoteAddr().String()))

	// Force the handshake now so client certificates are validated before
	// the broker sees the connection.
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			s.config.Logger.Error("TLS handshake failed",
				slog.String("conn_id", connID),
				slog.String("error", err.Error()))
			conn.Close()
			return
		}
	}

	// The client must send CONNECT within the configured window; the
	// handler clears the deadline once the packet arrives.
	if timeout := s.opts.ConnectTimeout(); timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			s.config.Logger.Error("failed to set connect deadline",
				slog.String("conn_id", connID),
				slog.String("error", err.Error()))
			conn.Close()
			return
		}
	}

	s.handler.HandleConnection(conn)

	s.config.Logger.Debug("connection closed",
		slog.String("conn_id", connID),
		slog.String("remote", conn.RemoteAddr().String()))
}

// gracefulShutdown performs graceful shutdown with connection draining.
func (s *Server) gracefulShutdown(listener net.Listener, acceptDone <-chan struct{}, connCancel context.CancelFunc) error {
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()

		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// Addr returns the listener's network address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
