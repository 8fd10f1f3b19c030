// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mqtt/options"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 1883 {
		t.Errorf("expected default port 1883, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxMessageSize != 8092 {
		t.Errorf("expected default max message size 8092, got %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.ConnectTimeout != 90*time.Second {
		t.Errorf("expected default connect timeout 90s, got %v", cfg.Server.ConnectTimeout)
	}
	if cfg.WebSocket.Enabled {
		t.Error("expected websocket to be disabled by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "TLS without cert",
			modify: func(c *Config) {
				c.Server.TLSEnabled = true
			},
			wantErr: true,
		},
		{
			name: "client auth without CA",
			modify: func(c *Config) {
				c.Server.TLSClientAuth = "require"
			},
			wantErr: true,
		},
		{
			name: "invalid client auth mode",
			modify: func(c *Config) {
				c.Server.TLSClientAuth = "maybe"
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "verbose"
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Log.Format = "xml"
			},
			wantErr: true,
		},
		{
			name: "buffer smaller than max message size",
			modify: func(c *Config) {
				c.Server.MaxMessageSize = 20000
				c.Server.ReceiveBufferSize = 10000
			},
			wantErr: true,
		},
		{
			name: "buffer larger than max message size",
			modify: func(c *Config) {
				c.Server.MaxMessageSize = 8092
				c.Server.ReceiveBufferSize = 10000
			},
			wantErr: false,
		},
		{
			name: "non-positive max message size",
			modify: func(c *Config) {
				c.Server.MaxMessageSize = 0
			},
			wantErr: true,
		},
		{
			name: "compression level out of range",
			modify: func(c *Config) {
				c.WebSocket.CompressionLevel = 42
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mqtt.yaml")
	data := []byte(`
server:
  port: 8883
  tls_enabled: true
  tls_cert_file: server.crt
  tls_key_file: server.key
  max_message_size: 16384
  receive_buffer_size: 32768
websocket:
  enabled: true
  compression_level: 9
`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, 8883, cfg.Server.Port)
	assert.True(t, cfg.Server.TLSEnabled)
	assert.Equal(t, 16384, cfg.Server.MaxMessageSize)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 23, cfg.Server.MaxClientIDLen)
	assert.Equal(t, "info", cfg.Log.Level)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, 8883, opts.Port())
	assert.True(t, opts.SSL())
	assert.Equal(t, 16384, opts.MaxMessageSize())
	assert.Equal(t, 32768, opts.ReceiveBufferSize())
	assert.True(t, opts.UseWebSocket())
	assert.Equal(t, 9, opts.WebSocketCompressionLevel())
}

func TestLoadConflict(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mqtt.yaml")
	data := []byte(`
server:
  max_message_size: 20000
  receive_buffer_size: 10000
`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	_, err := Load(file)
	require.Error(t, err)
	assert.ErrorIs(t, err, options.ErrInvalidArgument)
}

func TestSaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mqtt.yaml")

	cfg := Default()
	cfg.Server.Port = 8883
	cfg.WebSocket.Enabled = true
	cfg.Log.Level = "debug"
	require.NoError(t, cfg.Save(file))

	loaded, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
