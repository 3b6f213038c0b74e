package protomq

import (
	"context"
	"net"
)

// UnixDialer connects sessions over Unix domain sockets.
type UnixDialer struct{}

// NewUnixDialer creates a new Unix socket dialer.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the Unix socket at the given path
// (e.g., "/var/run/mqtt.sock").
func (d *UnixDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UnixListener accepts connections on a Unix domain socket.
type UnixListener struct {
	listener net.Listener
	path     string
}

// NewUnixListener creates a listener on the given socket file path.
func NewUnixListener(path string) (*UnixListener, error) {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &UnixListener{
		listener: listener,
		path:     path,
	}, nil
}

// Accept waits for and returns the next connection.
func (l *UnixListener) Accept() (Conn, error) {
	return l.listener.Accept()
}

// Close closes the listener and removes the socket file.
func (l *UnixListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *UnixListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Path returns the socket file path.
func (l *UnixListener) Path() string {
	return l.path
}
