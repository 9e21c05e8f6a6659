package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netrelay/dnsrelay/internal/wire/layers"
)

func TestListenerRoundTrip(t *testing.T) {
	l, err := Open(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	client, err := net.DialUDP("udp", nil, l.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	datagram, err := l.Next()
	require.NoError(t, err)
	require.NotNil(t, datagram)
	require.Equal(t, []byte("hello"), datagram.Data)

	require.NoError(t, l.Send(datagram.Src, []byte("world")))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
}

func TestListenerSynthesizesIPv4UDPFraming(t *testing.T) {
	l, err := Open(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	client, err := net.DialUDP("udp", nil, l.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	dg, err := l.Next()
	require.NoError(t, err)
	require.NotNil(t, dg.Packet)

	ip := dg.Packet.IP
	require.Equal(t, "127.0.0.1", ip.Src.String())
	require.Equal(t, "127.0.0.1", ip.Dst.String())
	require.Equal(t, uint8(layers.ProtoUDP), ip.Protocol)
	require.Equal(t, uint16(20+8+5), ip.Total)

	udp := dg.Packet.UDP
	clientAddr := client.LocalAddr().(*net.UDPAddr)
	require.Equal(t, uint16(clientAddr.Port), udp.SrcPort)
	require.Equal(t, uint16(l.LocalAddr().(*net.UDPAddr).Port), udp.DstPort)
	require.Equal(t, []byte("hello"), udp.Payload)
	require.Equal(t, []byte("hello"), dg.Data)

	// Both checksums were filled in and recomputation is a no-op.
	ipSum, udpSum := ip.Checksum16, udp.Checksum16
	require.NotZero(t, udpSum)
	require.NoError(t, udp.Checksum(0))
	require.Equal(t, udpSum, udp.Checksum16)
	require.Equal(t, ipSum, ip.Checksum16)
}

func TestListenerCloseUnblocksNext(t *testing.T) {
	l, err := Open(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		datagram, err := l.Next()
		require.NoError(t, err)
		require.Nil(t, datagram)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}
