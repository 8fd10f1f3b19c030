// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package options holds the validated configuration for an MQTT server
// speaking over TCP or websocket. A ServerOptions value is built and
// mutated by a single owner during wiring; hand a Clone to anything that
// reads it concurrently afterwards.
package options

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/klauspost/compress/flate"
)

// Server defaults.
const (
	// DefaultPort is the plain MQTT port.
	DefaultPort = 1883
	// DefaultTLSPort is the conventional port for MQTT over TLS. It is not
	// applied automatically; callers select it when enabling SSL.
	DefaultTLSPort = 8883

	DefaultMaxMessageSize            = 8092
	DefaultMaxClientIDLength         = 23
	DefaultConnectTimeout            = 90 * time.Second
	DefaultWebSocketMaxFrameSize     = 65536
	DefaultWebSocketCompressionLevel = 6
)

// WebSocketSubprotocols lists the MQTT subprotocol names offered during
// the websocket handshake.
var WebSocketSubprotocols = []string{"mqtt", "mqttv3.1", "mqttv3.1.1"}

// ServerOptions is the full configuration of an MQTT server: the generic
// transport settings plus the MQTT-protocol and websocket tunables.
//
// The receive buffer size and the maximum message size are coupled: when
// both are positive the buffer must be able to hold a maximal message.
// Every mutation path re-checks that rule, so it holds regardless of the
// order fields are assigned in.
type ServerOptions struct {
	transport TransportOptions

	maxMessageSize    int
	autoClientID      bool
	maxClientIDLength int
	connectTimeout    time.Duration

	useWebSocket            bool
	wsMaxFrameSize          int
	wsPerFrameCompression   bool
	wsPerMessageCompression bool
	wsCompressionLevel      int
	wsAllowServerNoContext  bool
	wsPreferClientNoContext bool
}

// New returns server options with defaults. The defaults are mutually
// consistent, so no validation runs here.
func New() *ServerOptions {
	t := NewTransportOptions()
	t.Port = DefaultPort

	return &ServerOptions{
		transport:               t,
		maxMessageSize:          DefaultMaxMessageSize,
		autoClientID:            true,
		maxClientIDLength:       DefaultMaxClientIDLength,
		connectTimeout:          DefaultConnectTimeout,
		wsMaxFrameSize:          DefaultWebSocketMaxFrameSize,
		wsPerFrameCompression:   true,
		wsPerMessageCompression: true,
		wsCompressionLevel:      DefaultWebSocketCompressionLevel,
	}
}

// Clone returns a deep, field-wise copy. Cloning a valid instance yields a
// valid instance, and the copy is the snapshot to share with readers once
// configuration is finished.
func (o *ServerOptions) Clone() *ServerOptions {
	c := *o
	c.transport = o.transport.Clone()
	return &c
}

// Validate re-checks the coupling between the maximum message size and the
// receive buffer size. It returns a *ConfigError naming both fields when
// they conflict.
func (o *ServerOptions) Validate() error {
	if o.maxMessageSize > 0 && o.transport.ReceiveBufferSize > 0 &&
		o.transport.ReceiveBufferSize < o.maxMessageSize {
		return &ConfigError{
			Field:            "receiveBufferSize",
			Value:            o.transport.ReceiveBufferSize,
			Conflicting:      "maxMessageSize",
			ConflictingValue: o.maxMessageSize,
		}
	}
	return nil
}

// Transport returns a copy of the underlying transport settings.
func (o *ServerOptions) Transport() TransportOptions {
	return o.transport.Clone()
}

// Address returns the host:port bind address.
func (o *ServerOptions) Address() string {
	return net.JoinHostPort(o.transport.Host, strconv.Itoa(o.transport.Port))
}

// Transport accessors.

func (o *ServerOptions) Host() string           { return o.transport.Host }
func (o *ServerOptions) Port() int              { return o.transport.Port }
func (o *ServerOptions) SSL() bool              { return o.transport.SSL }
func (o *ServerOptions) CertFile() string       { return o.transport.CertFile }
func (o *ServerOptions) KeyFile() string        { return o.transport.KeyFile }
func (o *ServerOptions) TrustFile() string      { return o.transport.TrustFile }
func (o *ServerOptions) ClientAuth() ClientAuth { return o.transport.ClientAuth }
func (o *ServerOptions) ReceiveBufferSize() int { return o.transport.ReceiveBufferSize }
func (o *ServerOptions) SNI() bool              { return o.transport.SNI }
func (o *ServerOptions) UseProxyProtocol() bool { return o.transport.UseProxyProtocol }
func (o *ServerOptions) ProxyProtocolTimeout() time.Duration {
	return o.transport.ProxyProtocolTimeout
}

// Slice accessors return copies, so a caller cannot mutate a validated
// instance behind the setters' backs.

func (o *ServerOptions) CipherSuites() []string {
	return append([]string(nil), o.transport.CipherSuites...)
}

func (o *ServerOptions) SecureTransportProtocols() []string {
	return append([]string(nil), o.transport.SecureTransportProtocols...)
}

func (o *ServerOptions) CRLPaths() []string {
	return append([]string(nil), o.transport.CRLPaths...)
}

func (o *ServerOptions) CRLValues() [][]byte {
	if o.transport.CRLValues == nil {
		return nil
	}
	vals := make([][]byte, len(o.transport.CRLValues))
	for i, v := range o.transport.CRLValues {
		vals[i] = append([]byte(nil), v...)
	}
	return vals
}

// Protocol accessors.

func (o *ServerOptions) MaxMessageSize() int           { return o.maxMessageSize }
func (o *ServerOptions) AutoClientID() bool            { return o.autoClientID }
func (o *ServerOptions) MaxClientIDLength() int        { return o.maxClientIDLength }
func (o *ServerOptions) ConnectTimeout() time.Duration { return o.connectTimeout }

// WebSocket accessors.

func (o *ServerOptions) UseWebSocket() bool                      { return o.useWebSocket }
func (o *ServerOptions) WebSocketMaxFrameSize() int              { return o.wsMaxFrameSize }
func (o *ServerOptions) PerFrameWebSocketCompression() bool      { return o.wsPerFrameCompression }
func (o *ServerOptions) PerMessageWebSocketCompression() bool    { return o.wsPerMessageCompression }
func (o *ServerOptions) WebSocketCompressionLevel() int          { return o.wsCompressionLevel }
func (o *ServerOptions) WebSocketAllowServerNoContext() bool     { return o.wsAllowServerNoContext }
func (o *ServerOptions) WebSocketPreferredClientNoContext() bool { return o.wsPreferClientNoContext }

// SetHost sets the bind host.
func (o *ServerOptions) SetHost(host string) *ServerOptions {
	o.transport.Host = host
	return o
}

// SetPort sets the bind port. The port must be in (0, 65535].
func (o *ServerOptions) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: port must be in (0, 65535], got %d", ErrInvalidArgument, port)
	}
	o.transport.Port = port
	return nil
}

// SetSSL enables or disables TLS on the listener.
func (o *ServerOptions) SetSSL(ssl bool) *ServerOptions {
	o.transport.SSL = ssl
	return o
}

// SetKeyCert sets the server certificate and private key files.
func (o *ServerOptions) SetKeyCert(certFile, keyFile string) *ServerOptions {
	o.transport.CertFile = certFile
	o.transport.KeyFile = keyFile
	return o
}

// SetTrustFile sets the CA bundle used to verify client certificates.
func (o *ServerOptions) SetTrustFile(trustFile string) *ServerOptions {
	o.transport.TrustFile = trustFile
	return o
}

// SetClientAuth sets the TLS client certificate mode.
func (o *ServerOptions) SetClientAuth(mode ClientAuth) *ServerOptions {
	o.transport.ClientAuth = mode
	return o
}

// AddCipherSuite adds an enabled TLS cipher suite by standard name.
func (o *ServerOptions) AddCipherSuite(suite string) *ServerOptions {
	o.transport.CipherSuites = append(o.transport.CipherSuites, suite)
	return o
}

// AddSecureTransportProtocol adds an enabled TLS protocol version.
func (o *ServerOptions) AddSecureTransportProtocol(protocol string) *ServerOptions {
	o.transport.SecureTransportProtocols = append(o.transport.SecureTransportProtocols, protocol)
	return o
}

// SetSecureTransportProtocols replaces the enabled TLS protocol versions.
func (o *ServerOptions) SetSecureTransportProtocols(protocols []string) *ServerOptions {
	o.transport.SecureTransportProtocols = append([]string(nil), protocols...)
	return o
}

// AddCRLPath adds a certificate revocation list file.
func (o *ServerOptions) AddCRLPath(path string) *ServerOptions {
	o.transport.CRLPaths = append(o.transport.CRLPaths, path)
	return o
}

// AddCRLValue adds an in-memory certificate revocation list (PEM or DER).
func (o *ServerOptions) AddCRLValue(crl []byte) *ServerOptions {
	o.transport.CRLValues = append(o.transport.CRLValues, append([]byte(nil), crl...))
	return o
}

// SetReceiveBufferSize sets the socket receive buffer size in bytes, 0 for
// the OS default. When a maximum message size is configured, a positive
// buffer must be able to hold a maximal message; otherwise the previous
// value stays in effect.
func (o *ServerOptions) SetReceiveBufferSize(size int) error {
	if o.maxMessageSize > 0 && size > 0 && size < o.maxMessageSize {
		return fmt.Errorf("%w: receive buffer size (%d) can't be lower than max message size (%d)",
			ErrInvalidArgument, size, o.maxMessageSize)
	}
	o.transport.ReceiveBufferSize = size
	return nil
}

// SetSNI enables certificate selection by server name indication.
func (o *ServerOptions) SetSNI(sni bool) *ServerOptions {
	o.transport.SNI = sni
	return o
}

// SetUseProxyProtocol expects a PROXY protocol header on accepted
// connections.
func (o *ServerOptions) SetUseProxyProtocol(use bool) *ServerOptions {
	o.transport.UseProxyProtocol = use
	return o
}

// SetProxyProtocolTimeout bounds the wait for the PROXY protocol header.
func (o *ServerOptions) SetProxyProtocolTimeout(d time.Duration) *ServerOptions {
	o.transport.ProxyProtocolTimeout = d
	return o
}

// SetMaxMessageSize sets the maximum MQTT message size (variable header
// plus payload) in bytes. The size must be positive and, when a positive
// receive buffer size is configured, must fit in it; otherwise the
// previous value stays in effect.
func (o *ServerOptions) SetMaxMessageSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: maxMessageSize must be > 0, got %d", ErrInvalidArgument, size)
	}
	if rb := o.transport.ReceiveBufferSize; rb > 0 && rb < size {
		return fmt.Errorf("%w: receive buffer size (%d) can't be lower than max message size (%d)",
			ErrInvalidArgument, rb, size)
	}
	o.maxMessageSize = size
	return nil
}

// SetAutoClientID sets whether a client id is generated for clients that
// connect with a zero-byte one.
func (o *ServerOptions) SetAutoClientID(auto bool) *ServerOptions {
	o.autoClientID = auto
	return o
}

// SetMaxClientIDLength sets the maximum accepted client id length.
func (o *ServerOptions) SetMaxClientIDLength(length int) error {
	if length <= 0 {
		return fmt.Errorf("%w: maxClientIdLength must be > 0, got %d", ErrInvalidArgument, length)
	}
	o.maxClientIDLength = length
	return nil
}

// SetConnectTimeout sets how long the server waits for the CONNECT packet
// after a connection is accepted. Zero or negative disables the timeout.
func (o *ServerOptions) SetConnectTimeout(d time.Duration) *ServerOptions {
	o.connectTimeout = d
	return o
}

// SetUseWebSocket carries the MQTT byte stream inside websocket frames
// instead of raw TCP.
func (o *ServerOptions) SetUseWebSocket(use bool) *ServerOptions {
	o.useWebSocket = use
	return o
}

// SetWebSocketMaxFrameSize sets the maximum websocket frame size.
func (o *ServerOptions) SetWebSocketMaxFrameSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: webSocketMaxFrameSize must be > 0, got %d", ErrInvalidArgument, size)
	}
	o.wsMaxFrameSize = size
	return nil
}

// SetPerFrameWebSocketCompression accepts the per-frame deflate
// compression extension.
func (o *ServerOptions) SetPerFrameWebSocketCompression(supported bool) *ServerOptions {
	o.wsPerFrameCompression = supported
	return o
}

// SetPerMessageWebSocketCompression accepts the per-message deflate
// compression extension.
func (o *ServerOptions) SetPerMessageWebSocketCompression(supported bool) *ServerOptions {
	o.wsPerMessageCompression = supported
	return o
}

// SetWebSocketCompressionLevel sets the deflate compression level, from
// flate.NoCompression to flate.BestCompression.
func (o *ServerOptions) SetWebSocketCompressionLevel(level int) error {
	if level < flate.NoCompression || level > flate.BestCompression {
		return fmt.Errorf("%w: webSocketCompressionLevel must be in [%d, %d], got %d",
			ErrInvalidArgument, flate.NoCompression, flate.BestCompression, level)
	}
	o.wsCompressionLevel = level
	return nil
}

// SetWebSocketAllowServerNoContext accepts the server_no_context_takeover
// parameter of the per-message deflate extension.
func (o *ServerOptions) SetWebSocketAllowServerNoContext(accept bool) *ServerOptions {
	o.wsAllowServerNoContext = accept
	return o
}

// SetWebSocketPreferredClientNoContext accepts the
// client_no_context_takeover parameter of the per-message deflate
// extension.
func (o *ServerOptions) SetWebSocketPreferredClientNoContext(accept bool) *ServerOptions {
	o.wsPreferClientNoContext = accept
	return o
}
