package protomq

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the MQTT WebSocket subprotocol name.
const WebSocketSubprotocol = "mqtt"

// WSConn adapts a WebSocket connection to the Conn interface. MQTT
// over WebSocket frames each write as one binary message; reads
// re-assemble the byte stream across message boundaries.
type WSConn struct {
	conn    *websocket.Conn
	buf     []byte
	readPos int
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read reads data from the connection, draining buffered message
// bytes before fetching the next WebSocket message.
func (c *WSConn) Read(p []byte) (int, error) {
	if c.readPos < len(c.buf) {
		n := copy(p, c.buf[c.readPos:])
		c.readPos += n
		return n, nil
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	if messageType != websocket.BinaryMessage {
		return 0, violationf("non-binary websocket message")
	}

	c.buf = data
	c.readPos = copy(p, c.buf)
	return c.readPos, nil
}

// Write sends data as a single binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the connection.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *WSConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WSDialer establishes client connections over WebSocket.
type WSDialer struct {
	// Dialer is the underlying WebSocket dialer.
	Dialer *websocket.Dialer

	// Header is the HTTP header sent with the handshake.
	Header http.Header
}

// NewWSDialer creates a WebSocket dialer announcing the MQTT
// subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:    []string{WebSocketSubprotocol},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Dial connects to the WebSocket URL (ws:// or wss://).
func (d *WSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return newWSConn(conn), nil
}

// WSHandler is an http.Handler that upgrades requests to WebSocket
// and hands the resulting Conn to OnConnect. Mount it on an HTTP mux
// to accept MQTT-over-WebSocket clients.
type WSHandler struct {
	// Upgrader performs the WebSocket handshake.
	Upgrader websocket.Upgrader

	// OnConnect receives each established connection. It is expected
	// to run the packet pump for the connection.
	OnConnect func(conn Conn)

	// AllowedOrigins lists acceptable Origin values. Empty means the
	// Origin must match the Host header; "*" accepts any origin.
	AllowedOrigins []string
}

// NewWSHandler creates a WebSocket handler with strict origin
// checking.
func NewWSHandler(onConnect func(conn Conn)) *WSHandler {
	h := &WSHandler{OnConnect: onConnect}
	h.Upgrader = websocket.Upgrader{
		Subprotocols:    []string{WebSocketSubprotocol},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Non-browser clients send no Origin.
	if origin == "" {
		return true
	}

	if len(h.AllowedOrigins) > 0 {
		for _, allowed := range h.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if h.OnConnect != nil {
		h.OnConnect(newWSConn(conn))
	}
}
