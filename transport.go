package protomq

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Conn represents a network connection carrying MQTT traffic.
type Conn interface {
	net.Conn
}

// Listener accepts incoming MQTT connections.
type Listener interface {
	// Accept waits for and returns the next connection.
	Accept() (Conn, error)

	// Close closes the listener.
	Close() error

	// Addr returns the listener's network address.
	Addr() net.Addr
}

// Dialer establishes MQTT connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// TCPListener wraps net.Listener for TCP connections.
type TCPListener struct {
	listener net.Listener
}

// NewTCPListener creates a new TCP listener on the given address.
func NewTCPListener(address string) (*TCPListener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: l}, nil
}

// Accept waits for and returns the next connection.
func (l *TCPListener) Accept() (Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the listener.
func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// TCPDialer connects over plain TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	if d.Timeout > 0 {
		dialer.Timeout = d.Timeout
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSListener wraps net.Listener for TLS connections.
type TLSListener struct {
	listener net.Listener
}

// NewTLSListener creates a new TLS listener on the given address.
func NewTLSListener(address string, config *tls.Config) (*TLSListener, error) {
	l, err := tls.Listen("tcp", address, config)
	if err != nil {
		return nil, err
	}
	return &TLSListener{listener: l}, nil
}

// Accept waits for and returns the next connection.
func (l *TLSListener) Accept() (Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the listener.
func (l *TLSListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *TLSListener) Addr() net.Addr {
	return l.listener.Addr()
}

// TLSDialer connects over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// Pump binds a Session to a Conn: it feeds inbound bytes into the
// session, writes queued frames out, and drives the session's timers.
// Run blocks until the session closes or the context is canceled; the
// session itself stays transport-agnostic.
type Pump struct {
	Session *Session
	Conn    Conn

	// TickInterval is how often Run drives the session's timers.
	// Zero means one second.
	TickInterval time.Duration

	// ReadBufferSize is the inbound read chunk size. Zero means 4096.
	ReadBufferSize int
}

// Run moves bytes between the connection and the session until the
// session closes, the connection fails, or the context is canceled. It
// always closes the connection before returning.
func (p *Pump) Run(ctx context.Context) error {
	defer p.Conn.Close()

	tickInterval := p.TickInterval
	if tickInterval == 0 {
		tickInterval = time.Second
	}
	bufSize := p.ReadBufferSize
	if bufSize == 0 {
		bufSize = 4096
	}

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, bufSize)
		for {
			n, err := p.Conn.Read(buf)
			if n > 0 {
				if ferr := p.Session.Feed(buf[:n]); ferr != nil {
					p.flush()
					readErr <- ferr
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		if err := p.flush(); err != nil {
			p.Session.Close()
			return err
		}
		if p.Session.State() == StateClosed {
			p.flush()
			return p.Session.Err()
		}

		select {
		case <-ctx.Done():
			p.Session.Close()
			return ctx.Err()
		case err := <-readErr:
			p.Session.Close()
			return err
		case now := <-ticker.C:
			if err := p.Session.Tick(now); err != nil {
				p.flush()
				return err
			}
		case <-p.Session.OutboundReady():
		}
	}
}

// flush writes every queued frame to the connection.
func (p *Pump) flush() error {
	for _, frame := range p.Session.PollOutbound() {
		if _, err := p.Conn.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
