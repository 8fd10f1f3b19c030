// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package options

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/flate"
)

// Record is the serialized key/value form of ServerOptions, suitable for
// JSON persistence or transmission. Keys are stable lower-camel names;
// byte slices encode as base64 and durations as Go duration strings.
type Record map[string]any

// recordFields mirrors ServerOptions with the record key names. Decoding
// through it gives the overlay semantics for free: unknown keys are
// ignored and absent keys keep whatever the struct already holds.
type recordFields struct {
	Host                     string     `json:"host"`
	Port                     int        `json:"port"`
	SSL                      bool       `json:"ssl"`
	CertFile                 string     `json:"certFile"`
	KeyFile                  string     `json:"keyFile"`
	TrustFile                string     `json:"trustFile"`
	ClientAuth               ClientAuth `json:"clientAuth"`
	CipherSuites             []string   `json:"cipherSuites,omitempty"`
	SecureTransportProtocols []string   `json:"secureTransportProtocols,omitempty"`
	CRLPaths                 []string   `json:"crlPaths,omitempty"`
	CRLValues                [][]byte   `json:"crlValues,omitempty"`
	ReceiveBufferSize        int        `json:"receiveBufferSize"`
	SNI                      bool       `json:"sni"`
	UseProxyProtocol         bool       `json:"useProxyProtocol"`
	ProxyProtocolTimeout     duration   `json:"proxyProtocolTimeout"`

	MaxMessageSize    int      `json:"maxMessageSize"`
	AutoClientID      bool     `json:"autoClientId"`
	MaxClientIDLength int      `json:"maxClientIdLength"`
	TimeoutOnConnect  duration `json:"timeoutOnConnect"`

	UseWebSocket                            bool `json:"useWebSocket"`
	WebSocketMaxFrameSize                   int  `json:"webSocketMaxFrameSize"`
	PerFrameWebSocketCompressionSupported   bool `json:"perFrameWebSocketCompressionSupported"`
	PerMessageWebSocketCompressionSupported bool `json:"perMessageWebSocketCompressionSupported"`
	WebSocketCompressionLevel               int  `json:"webSocketCompressionLevel"`
	WebSocketAllowServerNoContext           bool `json:"webSocketAllowServerNoContext"`
	WebSocketPreferredClientNoContext       bool `json:"webSocketPreferredClientNoContext"`
}

// duration marshals as a duration string ("1m30s") so timeouts survive the
// record round trip without unit ambiguity.
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

func (o *ServerOptions) fields() recordFields {
	return recordFields{
		Host:                     o.transport.Host,
		Port:                     o.transport.Port,
		SSL:                      o.transport.SSL,
		CertFile:                 o.transport.CertFile,
		KeyFile:                  o.transport.KeyFile,
		TrustFile:                o.transport.TrustFile,
		ClientAuth:               o.transport.ClientAuth,
		CipherSuites:             o.transport.CipherSuites,
		SecureTransportProtocols: o.transport.SecureTransportProtocols,
		CRLPaths:                 o.transport.CRLPaths,
		CRLValues:                o.transport.CRLValues,
		ReceiveBufferSize:        o.transport.ReceiveBufferSize,
		SNI:                      o.transport.SNI,
		UseProxyProtocol:         o.transport.UseProxyProtocol,
		ProxyProtocolTimeout:     duration(o.transport.ProxyProtocolTimeout),

		MaxMessageSize:    o.maxMessageSize,
		AutoClientID:      o.autoClientID,
		MaxClientIDLength: o.maxClientIDLength,
		TimeoutOnConnect:  duration(o.connectTimeout),

		UseWebSocket:                            o.useWebSocket,
		WebSocketMaxFrameSize:                   o.wsMaxFrameSize,
		PerFrameWebSocketCompressionSupported:   o.wsPerFrameCompression,
		PerMessageWebSocketCompressionSupported: o.wsPerMessageCompression,
		WebSocketCompressionLevel:               o.wsCompressionLevel,
		WebSocketAllowServerNoContext:           o.wsAllowServerNoContext,
		WebSocketPreferredClientNoContext:       o.wsPreferClientNoContext,
	}
}

func (o *ServerOptions) applyFields(f recordFields) {
	o.transport.Host = f.Host
	o.transport.Port = f.Port
	o.transport.SSL = f.SSL
	o.transport.CertFile = f.CertFile
	o.transport.KeyFile = f.KeyFile
	o.transport.TrustFile = f.TrustFile
	o.transport.ClientAuth = f.ClientAuth
	o.transport.CipherSuites = f.CipherSuites
	o.transport.SecureTransportProtocols = f.SecureTransportProtocols
	o.transport.CRLPaths = f.CRLPaths
	o.transport.CRLValues = f.CRLValues
	o.transport.ReceiveBufferSize = f.ReceiveBufferSize
	o.transport.SNI = f.SNI
	o.transport.UseProxyProtocol = f.UseProxyProtocol
	o.transport.ProxyProtocolTimeout = time.Duration(f.ProxyProtocolTimeout)

	o.maxMessageSize = f.MaxMessageSize
	o.autoClientID = f.AutoClientID
	o.maxClientIDLength = f.MaxClientIDLength
	o.connectTimeout = time.Duration(f.TimeoutOnConnect)

	o.useWebSocket = f.UseWebSocket
	o.wsMaxFrameSize = f.WebSocketMaxFrameSize
	o.wsPerFrameCompression = f.PerFrameWebSocketCompressionSupported
	o.wsPerMessageCompression = f.PerMessageWebSocketCompressionSupported
	o.wsCompressionLevel = f.WebSocketCompressionLevel
	o.wsAllowServerNoContext = f.WebSocketAllowServerNoContext
	o.wsPreferClientNoContext = f.WebSocketPreferredClientNoContext
}

// ToRecord serializes every field, transport fields included.
func (o *ServerOptions) ToRecord() (Record, error) {
	data, err := json.Marshal(o.fields())
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	return rec, nil
}

// FromRecord builds server options by overlaying the record on top of the
// defaults. Unknown keys are ignored and absent keys keep their defaults.
// Overlaid values go through the same per-field checks as the setters, and
// the message-size/buffer-size coupling is checked once after the overlay,
// so a record may list the two fields in any order.
func FromRecord(rec Record) (*ServerOptions, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	o := New()
	f := o.fields()
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	o.applyFields(f)

	if err := o.checkBounds(); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// checkBounds re-runs the setters' local preconditions over the whole
// field set. The cross-field coupling stays with Validate so that its
// failure keeps reporting as a *ConfigError.
func (o *ServerOptions) checkBounds() error {
	if p := o.transport.Port; p <= 0 || p > 65535 {
		return fmt.Errorf("%w: port must be in (0, 65535], got %d", ErrInvalidArgument, p)
	}
	if o.maxMessageSize <= 0 {
		return fmt.Errorf("%w: maxMessageSize must be > 0, got %d", ErrInvalidArgument, o.maxMessageSize)
	}
	if o.maxClientIDLength <= 0 {
		return fmt.Errorf("%w: maxClientIdLength must be > 0, got %d", ErrInvalidArgument, o.maxClientIDLength)
	}
	if o.wsMaxFrameSize <= 0 {
		return fmt.Errorf("%w: webSocketMaxFrameSize must be > 0, got %d", ErrInvalidArgument, o.wsMaxFrameSize)
	}
	if lvl := o.wsCompressionLevel; lvl < flate.NoCompression || lvl > flate.BestCompression {
		return fmt.Errorf("%w: webSocketCompressionLevel must be in [%d, %d], got %d",
			ErrInvalidArgument, flate.NoCompression, flate.BestCompression, lvl)
	}
	return nil
}
