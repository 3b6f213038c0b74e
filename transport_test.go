package protomq

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPTransportRoundtrip(t *testing.T) {
	listener, err := NewTCPListener("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dialer := &TCPDialer{Timeout: 2 * time.Second}
	client, err := dialer.Dial(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	defer server.Close()

	_, err = client.Write([]byte{0xC0, 0x00})
	require.NoError(t, err)

	buf := make([]byte, 2)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 0x00}, buf)
}

func TestUnixTransportRoundtrip(t *testing.T) {
	path := t.TempDir() + "/mqtt.sock"
	listener, err := NewUnixListener(path)
	require.NoError(t, err)
	defer listener.Close()
	assert.Equal(t, path, listener.Path())

	accepted := make(chan Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dialer := &UnixDialer{}
	client, err := dialer.Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	defer server.Close()

	_, err = client.Write([]byte{0xD0, 0x00})
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x00}, buf)
}

func TestWebSocketTransport(t *testing.T) {
	accepted := make(chan Conn, 1)
	handler := NewWSHandler(func(conn Conn) { accepted <- conn })
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := NewWSDialer().Dial(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade timed out")
	}
	defer server.Close()

	// Two writes, read back across message boundaries in small chunks.
	_, err = client.Write([]byte{0xC0, 0x00})
	require.NoError(t, err)
	_, err = client.Write([]byte{0xD0, 0x00})
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 1)
	for len(got) < 4 {
		n, err := server.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, []byte{0xC0, 0x00, 0xD0, 0x00}, got)
}

func TestWSHandlerOriginCheck(t *testing.T) {
	handler := NewWSHandler(nil)

	request := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://"+host+"/mqtt", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	// No Origin: non-browser client, accepted.
	assert.True(t, handler.checkOrigin(request("", "broker.local")))
	// Same host accepted, foreign host refused.
	assert.True(t, handler.checkOrigin(request("http://broker.local", "broker.local")))
	assert.False(t, handler.checkOrigin(request("http://evil.example", "broker.local")))

	handler.AllowedOrigins = []string{"http://app.example"}
	assert.True(t, handler.checkOrigin(request("http://app.example", "broker.local")))
	assert.False(t, handler.checkOrigin(request("http://other.example", "broker.local")))

	handler.AllowedOrigins = []string{"*"}
	assert.True(t, handler.checkOrigin(request("http://anything.example", "broker.local")))
}

func TestPumpEndToEnd(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	received := make(chan *Message, 1)
	delivered := make(chan uint16, 1)

	clientSess := NewSession(
		WithVersion(Version5),
		WithClientID("pump-client"),
		WithDeliveryHandler(func(id uint16, msg *Message) { delivered <- id }),
	)
	serverSess := NewSession(
		WithRole(RoleServer),
		WithVersion(Version5),
		WithMessageHandler(func(msg *Message) { received <- msg }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientDone := make(chan error, 1)
	serverDone := make(chan error, 1)
	go func() {
		pump := &Pump{Session: serverSess, Conn: serverConn, TickInterval: 10 * time.Millisecond}
		serverDone <- pump.Run(ctx)
	}()

	require.NoError(t, clientSess.Connect())
	go func() {
		pump := &Pump{Session: clientSess, Conn: clientConn, TickInterval: 10 * time.Millisecond}
		clientDone <- pump.Run(ctx)
	}()

	waitForState(t, clientSess, StateConnected)

	id, err := clientSess.Publish(&Message{Topic: "a/b", Payload: []byte("x"), QoS: 1})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "a/b", msg.Topic)
	case <-ctx.Done():
		t.Fatal("message never arrived")
	}
	select {
	case got := <-delivered:
		assert.Equal(t, id, got)
	case <-ctx.Done():
		t.Fatal("delivery never completed")
	}

	require.NoError(t, clientSess.Disconnect(ReasonNormalDisconnect))

	for _, done := range []chan error{clientDone, serverDone} {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("pump did not stop")
		}
	}
	assert.Equal(t, StateClosed, serverSess.State())
}

func waitForState(t *testing.T, s *Session, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s state, stuck in %s", want, s.State())
}
