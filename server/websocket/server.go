// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket implements the websocket frontend: the MQTT byte
// stream is carried inside binary websocket frames instead of raw TCP.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/absmach/mqtt/options"
	mqtttls "github.com/absmach/mqtt/pkg/tls"
	"github.com/absmach/mqtt/server"
)

// DefaultPath is the HTTP path serving the websocket endpoint.
const DefaultPath = "/mqtt"

// Config holds the frontend settings that are not part of the server
// options.
type Config struct {
	Path            string
	Logger          *slog.Logger
	ShutdownTimeout time.Duration
}

// Server upgrades HTTP requests to websocket connections and hands them
// to a broker.
type Server struct {
	config   Config
	opts     *options.ServerOptions
	handler  server.Handler
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates a websocket frontend from the server options. The upgrader
// is configured from the websocket option fields: frame size bounds the
// read/write buffers, and per-message compression support enables the
// permessage-deflate extension. The per-frame and context-takeover flags
// are carried for transports that can negotiate them; gorilla/websocket
// only offers per-message deflate without context takeover.
func New(opts *options.ServerOptions, cfg Config, h server.Handler) *Server {
	if opts == nil {
		opts = options.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		config:  cfg,
		opts:    opts.Clone(),
		handler: h,
		logger:  cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    opts.WebSocketMaxFrameSize(),
			WriteBufferSize:   opts.WebSocketMaxFrameSize(),
			Subprotocols:      options.WebSocketSubprotocols,
			EnableCompression: opts.PerMessageWebSocketCompression(),
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    opts.Address(),
		Handler: mux,
	}

	return s
}

// Listen starts the frontend and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("websocket_server_starting",
		slog.String("addr", s.server.Addr),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.opts.SSL() {
			trans := s.opts.Transport()
			tlsConfig, tlsErr := mqtttls.Load(&trans)
			if tlsErr != nil {
				errCh <- tlsErr
				return
			}
			s.server.TLSConfig = tlsConfig
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("websocket_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("websocket_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("websocket_server_stopped")
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	connID := uuid.NewString()
	s.logger.Debug("websocket_connection_accepted",
		slog.String("conn_id", connID),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("subprotocol", ws.Subprotocol()))

	if size := s.opts.MaxMessageSize(); size > 0 {
		ws.SetReadLimit(int64(size))
	}
	// Effective only when the client negotiated permessage-deflate.
	if err := ws.SetCompressionLevel(s.opts.WebSocketCompressionLevel()); err != nil {
		s.logger.Warn("websocket_compression_level_rejected", slog.String("error", err.Error()))
	}

	s.handler.HandleConnection(newConn(ws))
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
