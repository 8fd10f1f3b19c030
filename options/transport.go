// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package options

import "time"

// ClientAuth controls whether the server requests or requires TLS client
// certificates.
type ClientAuth string

// Client auth modes.
const (
	ClientAuthNone    ClientAuth = "none"
	ClientAuthRequest ClientAuth = "request"
	ClientAuthRequire ClientAuth = "require"
)

// Transport defaults.
const (
	DefaultHost                 = "0.0.0.0"
	DefaultProxyProtocolTimeout = 10 * time.Second
)

// DefaultSecureTransportProtocols lists the TLS versions enabled when none
// are configured explicitly.
var DefaultSecureTransportProtocols = []string{"TLSv1.2", "TLSv1.3"}

// TransportOptions holds the generic TCP/TLS settings shared by every
// server transport: bind address, TLS material, socket buffers, and proxy
// protocol support. It is a plain value; validation that couples transport
// settings to protocol settings lives in ServerOptions.
type TransportOptions struct {
	// Host and Port form the bind address.
	Host string
	Port int

	// SSL enables TLS on the listener using the key/cert material below.
	SSL        bool
	CertFile   string
	KeyFile    string
	TrustFile  string
	ClientAuth ClientAuth

	// CipherSuites restricts the TLS cipher suites by standard name.
	// Empty means the runtime default set.
	CipherSuites []string

	// SecureTransportProtocols lists the enabled TLS versions
	// ("TLSv1" .. "TLSv1.3").
	SecureTransportProtocols []string

	// Certificate revocation lists, as file paths or raw PEM/DER blocks.
	CRLPaths  []string
	CRLValues [][]byte

	// ReceiveBufferSize is the socket receive buffer in bytes.
	// 0 leaves the OS default in place.
	ReceiveBufferSize int

	// SNI enables certificate selection by server name indication.
	SNI bool

	// UseProxyProtocol expects a PROXY protocol header on every accepted
	// connection; ProxyProtocolTimeout bounds the wait for it.
	UseProxyProtocol     bool
	ProxyProtocolTimeout time.Duration
}

// NewTransportOptions returns transport options with defaults.
func NewTransportOptions() TransportOptions {
	return TransportOptions{
		Host:                     DefaultHost,
		ClientAuth:               ClientAuthNone,
		SecureTransportProtocols: append([]string(nil), DefaultSecureTransportProtocols...),
		ProxyProtocolTimeout:     DefaultProxyProtocolTimeout,
	}
}

// Clone returns a deep copy.
func (t TransportOptions) Clone() TransportOptions {
	c := t
	c.CipherSuites = append([]string(nil), t.CipherSuites...)
	c.SecureTransportProtocols = append([]string(nil), t.SecureTransportProtocols...)
	c.CRLPaths = append([]string(nil), t.CRLPaths...)
	if t.CRLValues != nil {
		c.CRLValues = make([][]byte, len(t.CRLValues))
		for i, v := range t.CRLValues {
			c.CRLValues[i] = append([]byte(nil), v...)
		}
	}
	return c
}
