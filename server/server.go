// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server hosts the transport frontends that accept MQTT
// connections and hand them to a broker.
package server

import (
	"errors"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/absmach/mqtt/options"
)

// ErrAutoClientIDDisabled is returned by Generate when client id
// auto-assignment is turned off.
var ErrAutoClientIDDisabled = errors.New("client id auto-assignment is disabled")

// Handler is the connection sink shared by every frontend. The handler
// takes ownership of the connection, including closing it.
type Handler interface {
	HandleConnection(conn net.Conn)
}

// ClientIDGenerator produces client identifiers for connections that
// arrive with a zero-byte client id.
type ClientIDGenerator struct {
	enabled bool
	maxLen  int
}

// NewClientIDGenerator builds a generator honoring the configured
// auto-client-id flag and maximum client id length.
func NewClientIDGenerator(opts *options.ServerOptions) *ClientIDGenerator {
	return &ClientIDGenerator{
		enabled: opts.AutoClientID(),
		maxLen:  opts.MaxClientIDLength(),
	}
}

// Generate returns a fresh client id, truncated to the maximum accepted
// length, or ErrAutoClientIDDisabled when auto-assignment is off.
func (g *ClientIDGenerator) Generate() (string, error) {
	if !g.enabled {
		return "", ErrAutoClientIDDisabled
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if g.maxLen > 0 && len(id) > g.maxLen {
		id = id[:g.maxLen]
	}
	return id, nil
}
