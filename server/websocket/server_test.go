// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mqtt/options"
)

type echoHandler struct{}

func (echoHandler) HandleConnection(conn net.Conn) {
	go func() {
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()
}

func TestNewUpgraderFromOptions(t *testing.T) {
	opts := options.New().
		SetUseWebSocket(true).
		SetPerMessageWebSocketCompression(false)
	require.NoError(t, opts.SetWebSocketMaxFrameSize(32768))

	s := New(opts, Config{}, echoHandler{})

	assert.Equal(t, 32768, s.upgrader.ReadBufferSize)
	assert.Equal(t, 32768, s.upgrader.WriteBufferSize)
	assert.False(t, s.upgrader.EnableCompression)
	assert.Equal(t, options.WebSocketSubprotocols, s.upgrader.Subprotocols)
	assert.Equal(t, DefaultPath, s.config.Path)
	assert.Equal(t, opts.Address(), s.Addr())
}

func TestHandshakeAndEcho(t *testing.T) {
	opts := options.New().SetUseWebSocket(true)

	s := New(opts, Config{}, echoHandler{})
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	dialer := websocket.Dialer{Subprotocols: []string{"mqtt"}}

	ws, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	assert.Equal(t, "mqtt", resp.Header.Get("Sec-WebSocket-Protocol"))

	payload := []byte{0x10, 0x0c, 0x00, 0x04, 'M', 'Q', 'T', 'T'}
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, payload))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, echoed, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, payload, echoed)
}

func TestTextFramesCarryNoData(t *testing.T) {
	opts := options.New().SetUseWebSocket(true)

	s := New(opts, Config{}, echoHandler{})
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	// A text frame is skipped; the following binary frame is echoed.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ignored")))
	payload := []byte{0xc0, 0x00}
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, payload))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, echoed, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)
}
