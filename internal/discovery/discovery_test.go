package discovery

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/netspeed/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen(context.Background(), ListenerConfig{Host: "127.0.0.1", Port: freeUDPPort(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func startBroadcaster(t *testing.T, ctx context.Context, port int, offer protocol.Offer) {
	t.Helper()
	b, err := NewBroadcaster(BroadcasterConfig{
		Port:     port,
		Targets:  []string{"127.0.0.1"},
		Interval: 50 * time.Millisecond,
	}, offer)
	require.NoError(t, err)
	go func() { _ = b.Run(ctx) }()
}

func TestWaitReceivesOffer(t *testing.T) {
	l := listen(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	startBroadcaster(t, ctx, l.Port(), protocol.Offer{UDPPort: 50001, TCPPort: 50002})

	ep, err := l.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), ep.Addr)
	assert.Equal(t, uint16(50001), ep.UDPPort)
	assert.Equal(t, uint16(50002), ep.TCPPort)
}

func TestWaitDiscardsGarbage(t *testing.T) {
	l := listen(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Port())))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	badMagic := protocol.EncodeOffer(1, 2)
	badMagic[3] = 0
	for _, b := range [][]byte{
		[]byte("hello"),
		badMagic,
		protocol.EncodeRequest(100),
		append(protocol.EncodeOffer(1, 2), 0),
		protocol.EncodeOffer(60000, 60001),
	} {
		_, err := conn.Write(b)
		require.NoError(t, err)
	}

	ep, err := l.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(60000), ep.UDPPort)
	assert.Equal(t, uint16(60001), ep.TCPPort)
}

func TestWaitHonorsContext(t *testing.T) {
	l := listen(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCollectDistinctServers(t *testing.T) {
	l := listen(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	startBroadcaster(t, ctx, l.Port(), protocol.Offer{UDPPort: 50011, TCPPort: 50012})
	startBroadcaster(t, ctx, l.Port(), protocol.Offer{UDPPort: 50021, TCPPort: 50022})

	found, err := l.Collect(ctx, 400*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, found, 2)

	ports := map[uint16]bool{}
	for _, ep := range found {
		ports[ep.TCPPort] = true
	}
	assert.True(t, ports[50012])
	assert.True(t, ports[50022])
}

func TestSubnetBroadcast(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("192.168.1.17/24")
	require.NoError(t, err)

	got, ok := SubnetBroadcast(ipnet)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.168.1.255"), got)

	_, ipnet, err = net.ParseCIDR("10.0.0.0/9")
	require.NoError(t, err)
	got, ok = SubnetBroadcast(ipnet)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.127.255.255"), got)

	_, v6, err := net.ParseCIDR("fe80::/64")
	require.NoError(t, err)
	_, ok = SubnetBroadcast(v6)
	assert.False(t, ok)
}

func TestBroadcastAddrsIncludesLimited(t *testing.T) {
	addrs, err := BroadcastAddrs(13117)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	assert.Equal(t, netip.MustParseAddrPort("255.255.255.255:13117"), addrs[len(addrs)-1])
}

func TestBroadcasterTargets(t *testing.T) {
	b, err := NewBroadcaster(BroadcasterConfig{Targets: []string{"127.0.0.1", "127.0.0.1:9999"}}, protocol.Offer{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:13117"),
		netip.MustParseAddrPort("127.0.0.1:9999"),
	}, b.Targets())
}
