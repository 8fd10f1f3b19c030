// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads the server configuration from a YAML file and
// bridges it into validated server options.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/absmach/mqtt/options"
)

// Config holds all configuration for the MQTT server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the transport and protocol settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	TLSEnabled    bool     `yaml:"tls_enabled"`
	TLSCertFile   string   `yaml:"tls_cert_file"`
	TLSKeyFile    string   `yaml:"tls_key_file"`
	TLSCAFile     string   `yaml:"tls_ca_file"`     // CA certificate for client verification
	TLSClientAuth string   `yaml:"tls_client_auth"` // "none", "request", or "require"
	CipherSuites  []string `yaml:"cipher_suites,omitempty"`
	TLSProtocols  []string `yaml:"tls_protocols,omitempty"`
	CRLFiles      []string `yaml:"crl_files,omitempty"`
	SNIEnabled    bool     `yaml:"sni_enabled"`

	ProxyProtocol        bool          `yaml:"proxy_protocol"`
	ProxyProtocolTimeout time.Duration `yaml:"proxy_protocol_timeout"`

	ReceiveBufferSize int           `yaml:"receive_buffer_size"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	AutoClientID      bool          `yaml:"auto_client_id"`
	MaxClientIDLen    int           `yaml:"max_client_id_len"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

// WebSocketConfig holds the websocket transport settings.
type WebSocketConfig struct {
	Enabled                  bool   `yaml:"enabled"`
	Path                     string `yaml:"path"`
	MaxFrameSize             int    `yaml:"max_frame_size"`
	PerFrameCompression      bool   `yaml:"per_frame_compression"`
	PerMessageCompression    bool   `yaml:"per_message_compression"`
	CompressionLevel         int    `yaml:"compression_level"`
	AllowServerNoContext     bool   `yaml:"allow_server_no_context"`
	PreferredClientNoContext bool   `yaml:"preferred_client_no_context"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration mirroring the option defaults.
func Default() *Config {
	opts := options.New()

	return &Config{
		Server: ServerConfig{
			Host:                 opts.Host(),
			Port:                 opts.Port(),
			TLSClientAuth:        string(options.ClientAuthNone),
			TLSProtocols:         opts.SecureTransportProtocols(),
			ProxyProtocolTimeout: opts.ProxyProtocolTimeout(),
			MaxMessageSize:       opts.MaxMessageSize(),
			AutoClientID:         opts.AutoClientID(),
			MaxClientIDLen:       opts.MaxClientIDLength(),
			ConnectTimeout:       opts.ConnectTimeout(),
		},
		WebSocket: WebSocketConfig{
			Enabled:               opts.UseWebSocket(),
			Path:                  "/mqtt",
			MaxFrameSize:          opts.WebSocketMaxFrameSize(),
			PerFrameCompression:   opts.PerFrameWebSocketCompression(),
			PerMessageCompression: opts.PerMessageWebSocketCompression(),
			CompressionLevel:      opts.WebSocketCompressionLevel(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist,
// it returns the default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid, including the coupled
// protocol limits enforced by the options layer.
func (c *Config) Validate() error {
	if c.Server.TLSEnabled {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("server.tls_cert_file required when TLS is enabled")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("server.tls_key_file required when TLS is enabled")
		}
	}

	switch options.ClientAuth(c.Server.TLSClientAuth) {
	case options.ClientAuthNone, options.ClientAuthRequest, options.ClientAuthRequire:
	default:
		return fmt.Errorf("server.tls_client_auth must be one of: none, request, require")
	}
	if c.Server.TLSClientAuth != string(options.ClientAuthNone) && c.Server.TLSCAFile == "" {
		return fmt.Errorf("server.tls_ca_file required when tls_client_auth is %q", c.Server.TLSClientAuth)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	_, err := c.Options()
	return err
}

// Options builds validated server options from the configuration. Every
// protocol limit goes through the validated setters, so a config file
// cannot bypass the message-size/buffer-size coupling.
func (c *Config) Options() (*options.ServerOptions, error) {
	opts := options.New().
		SetHost(c.Server.Host).
		SetSSL(c.Server.TLSEnabled).
		SetKeyCert(c.Server.TLSCertFile, c.Server.TLSKeyFile).
		SetTrustFile(c.Server.TLSCAFile).
		SetClientAuth(options.ClientAuth(c.Server.TLSClientAuth)).
		SetSNI(c.Server.SNIEnabled).
		SetUseProxyProtocol(c.Server.ProxyProtocol).
		SetProxyProtocolTimeout(c.Server.ProxyProtocolTimeout).
		SetAutoClientID(c.Server.AutoClientID).
		SetConnectTimeout(c.Server.ConnectTimeout).
		SetUseWebSocket(c.WebSocket.Enabled).
		SetPerFrameWebSocketCompression(c.WebSocket.PerFrameCompression).
		SetPerMessageWebSocketCompression(c.WebSocket.PerMessageCompression).
		SetWebSocketAllowServerNoContext(c.WebSocket.AllowServerNoContext).
		SetWebSocketPreferredClientNoContext(c.WebSocket.PreferredClientNoContext)

	for _, suite := range c.Server.CipherSuites {
		opts.AddCipherSuite(suite)
	}
	if len(c.Server.TLSProtocols) > 0 {
		opts.SetSecureTransportProtocols(c.Server.TLSProtocols)
	}
	for _, crl := range c.Server.CRLFiles {
		opts.AddCRLPath(crl)
	}

	if err := opts.SetPort(c.Server.Port); err != nil {
		return nil, fmt.Errorf("server.port: %w", err)
	}
	if err := opts.SetMaxClientIDLength(c.Server.MaxClientIDLen); err != nil {
		return nil, fmt.Errorf("server.max_client_id_len: %w", err)
	}
	if err := opts.SetWebSocketMaxFrameSize(c.WebSocket.MaxFrameSize); err != nil {
		return nil, fmt.Errorf("websocket.max_frame_size: %w", err)
	}
	if err := opts.SetWebSocketCompressionLevel(c.WebSocket.CompressionLevel); err != nil {
		return nil, fmt.Errorf("websocket.compression_level: %w", err)
	}
	if err := opts.SetMaxMessageSize(c.Server.MaxMessageSize); err != nil {
		return nil, fmt.Errorf("server.max_message_size: %w", err)
	}
	if err := opts.SetReceiveBufferSize(c.Server.ReceiveBufferSize); err != nil {
		return nil, fmt.Errorf("server.receive_buffer_size: %w", err)
	}

	return opts, nil
}
