package server

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/discovery"
	"github.com/rudransh-shrivastava/netspeed/internal/logger"
	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, cfg Config) (*Server, context.Context, <-chan error) {
	t.Helper()

	cfg.Transport.Host = "127.0.0.1"
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger(nil)
	}

	srv, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, ctx, done
}

func local(port uint16) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
}

func sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.IdleTimeout = 200 * time.Millisecond
	return cfg
}

func TestNewServerPorts(t *testing.T) {
	srv, err := New(Config{Transport: transport.Config{Host: "127.0.0.1"}, DisableOffers: true})
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown() }()

	assert.GreaterOrEqual(t, int(srv.TCPPort()), transport.PortRangeMin)
	assert.GreaterOrEqual(t, int(srv.UDPPort()), transport.PortRangeMin)
	assert.Equal(t, protocol.Offer{UDPPort: srv.UDPPort(), TCPPort: srv.TCPPort()}, srv.Offer())
}

func TestServerAdvertisesPorts(t *testing.T) {
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := probe.LocalAddr().(*net.UDPAddr).Port
	_ = probe.Close()

	l, err := discovery.Listen(context.Background(), discovery.ListenerConfig{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	srv, ctx, _ := testServer(t, Config{
		DiscoveryPort:    port,
		BroadcastTargets: []string{"127.0.0.1"},
		OfferInterval:    50 * time.Millisecond,
	})

	ep, err := l.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.TCPPort(), ep.TCPPort)
	assert.Equal(t, srv.UDPPort(), ep.UDPPort)
	assert.Equal(t, "127.0.0.1", ep.Addr.String())
}

func TestServerReliableSession(t *testing.T) {
	srv, ctx, _ := testServer(t, Config{DisableOffers: true})

	res := session.RunReliable(ctx, local(srv.TCPPort()), 200_000, sessionConfig())
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(200_000), res.Bytes)
}

func TestServerUnreliableSession(t *testing.T) {
	srv, ctx, _ := testServer(t, Config{DisableOffers: true})

	res := session.RunUnreliable(ctx, local(srv.UDPPort()), 10*protocol.MaxSegmentBody, sessionConfig())
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(10), res.TotalSegments)
	assert.LessOrEqual(t, res.Segments, uint64(10))
}

func TestServerSurvivesMalformedRequests(t *testing.T) {
	srv, ctx, _ := testServer(t, Config{DisableOffers: true})

	udp, err := net.Dial("udp4", local(srv.UDPPort()))
	require.NoError(t, err)
	_, err = udp.Write([]byte("not a request"))
	require.NoError(t, err)
	_, err = udp.Write(protocol.EncodeOffer(1, 2))
	require.NoError(t, err)
	_ = udp.Close()

	tcp, err := net.Dial("tcp4", local(srv.TCPPort()))
	require.NoError(t, err)
	bad := protocol.EncodeRequest(10)
	bad[0] = 0
	_, err = tcp.Write(bad)
	require.NoError(t, err)
	_ = tcp.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := tcp.Read(make([]byte, 32))
	assert.Zero(t, n, "server must close without responding")
	_ = tcp.Close()

	res := session.RunReliable(ctx, local(srv.TCPPort()), 1000, sessionConfig())
	require.NoError(t, res.Err)
	res = session.RunUnreliable(ctx, local(srv.UDPPort()), 1000, sessionConfig())
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(1), res.TotalSegments)
}

// lockedBuffer is written by server goroutines while the test reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerIgnoresStrayDatagramsQuietly(t *testing.T) {
	logs := &lockedBuffer{}
	srv, ctx, _ := testServer(t, Config{
		DisableOffers: true,
		Logger:        slog.New(logger.NewPrettyHandler(logs, slog.LevelInfo, false)),
	})

	udp, err := net.Dial("udp4", local(srv.UDPPort()))
	require.NoError(t, err)
	defer func() { _ = udp.Close() }()
	for _, d := range [][]byte{[]byte("noise"), protocol.EncodeOffer(1, 2), protocol.EncodeSegment(1, 1, nil)} {
		_, err = udp.Write(d)
		require.NoError(t, err)
	}

	// A request sent after the noise is served, so the noise has been read.
	res := session.RunUnreliable(ctx, local(srv.UDPPort()), 1000, sessionConfig())
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(1), res.Segments)
	assert.NotContains(t, logs.String(), "Ignored datagram")
}

func TestServerStopsOnCancel(t *testing.T) {
	srv, err := New(Config{Transport: transport.Config{Host: "127.0.0.1"}, DisableOffers: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	_, err = net.DialTimeout("tcp4", local(srv.TCPPort()), time.Second)
	assert.Error(t, err)
}
