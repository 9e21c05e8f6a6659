package services

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrelay/dnsrelay/internal/adapters/listener"
	"github.com/netrelay/dnsrelay/internal/core/domain"
	"github.com/netrelay/dnsrelay/internal/wire/dns"
)

type testEnv struct {
	server  *Server
	addr    *net.UDPAddr
	records *domain.RecordStore
	filters *domain.FilterTable
}

// startTestServer wires a full Server over real loopback sockets, with no
// cache and no durable repositories, and runs its loop until the test ends.
func startTestServer(t *testing.T, upstreamAddr string) *testEnv {
	t.Helper()

	l, err := listener.Open(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	records := domain.NewRecordStore()
	filters := domain.NewFilterTable()

	srv, err := NewServer(l, records, filters, NewForwarding(), nil, nil, nil, Config{
		UpstreamAddr: upstreamAddr,
		NSName:       "ns.relay.test",
		NSIP:         net.ParseIP("9.9.9.9"),
		LocalOnly:    true,
	}, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	require.NoError(t, err)

	go srv.Run() //nolint:errcheck

	return &testEnv{
		server:  srv,
		addr:    l.LocalAddr().(*net.UDPAddr),
		records: records,
		filters: filters,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func aQuery(id uint16, name string) *dns.Message {
	return &dns.Message{
		Header:    dns.Header{ID: id, RecursionDesired: true, QDCount: 1},
		Questions: []dns.Question{{Name: name, QType: dns.A, Class: 1}},
	}
}

// exchange sends req to addr and decodes the first reply datagram.
func exchange(t *testing.T, addr *net.UDPAddr, req *dns.Message) *dns.Message {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()

	wire, err := req.Encode()
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp, err := dns.Decode(buf[:n])
	require.NoError(t, err)
	return resp
}

func TestSessionStaticRecordAnswer(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")
	env.records.Put(domain.Record{Domain: "printer.lan", IPv4: net.ParseIP("192.168.1.9").To4(), TTL: 120})

	resp := exchange(t, env.addr, aQuery(0x0042, "printer.lan"))
	assert.Equal(t, uint16(0x0042), resp.Header.ID)
	assert.True(t, resp.Header.Response)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "192.168.1.9", resp.Answers[0].IP.String())
	assert.Equal(t, uint32(120), resp.Answers[0].TTL)
}

func TestSessionBlockedRecordAnswersNXDomain(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")
	env.records.Put(domain.Record{Domain: "ads.example", IPv4: net.IPv4zero.To4(), TTL: 60})

	resp := exchange(t, env.addr, aQuery(1, "ads.example"))
	assert.Equal(t, dns.NameError, resp.Header.RCode)
	assert.Empty(t, resp.Answers)
}

func TestSessionStopFilterRedirects(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")
	env.filters.Put("example.com", domain.FilterStop)
	env.filters.SetStopHost(net.ParseIP("10.0.0.1"))

	resp := exchange(t, env.addr, aQuery(0x7777, "blocked.example.com"))
	assert.Equal(t, uint16(0x7777), resp.Header.ID)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "10.0.0.1", resp.Answers[0].IP.String())
}

func TestSessionRejectFilterRefuses(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")
	env.filters.Put("example.com", domain.FilterReject)

	resp := exchange(t, env.addr, aQuery(1, "anything.example.com"))
	assert.Equal(t, dns.Refused, resp.Header.RCode)
}

func TestSessionStopFilterAppliesToMXQueries(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")
	env.filters.Put("example.com", domain.FilterStop)
	env.filters.SetStopHost(net.ParseIP("10.0.0.1"))

	req := &dns.Message{
		Header:    dns.Header{ID: 21, QDCount: 1},
		Questions: []dns.Question{{Name: "mail.example.com", QType: dns.MX, Class: 1}},
	}
	resp := exchange(t, env.addr, req)
	assert.Equal(t, uint16(21), resp.Header.ID)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "10.0.0.1", resp.Answers[0].IP.String())
}

func TestSessionRejectFilterAppliesToHTTPSQueries(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")
	env.filters.Put("tracked.net", domain.FilterReject)

	req := &dns.Message{
		Header:    dns.Header{ID: 22, QDCount: 1},
		Questions: []dns.Question{{Name: "api.tracked.net", QType: dns.HTTPS, Class: 1}},
	}
	resp := exchange(t, env.addr, req)
	assert.Equal(t, dns.Refused, resp.Header.RCode)
	assert.Empty(t, resp.Answers)
}

func TestSessionUnansweredTypeRefused(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	req := &dns.Message{
		Header:    dns.Header{ID: 5, QDCount: 1},
		Questions: []dns.Question{{Name: "example.com", QType: dns.TXT, Class: 1}},
	}
	resp := exchange(t, env.addr, req)
	assert.Equal(t, dns.Refused, resp.Header.RCode)
}

func TestSessionPTRSelfReply(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	req := &dns.Message{
		Header:    dns.Header{ID: 9, QDCount: 1},
		Questions: []dns.Question{{Name: "9.9.9.9.in-addr.arpa", QType: dns.PTR, Class: 1}},
	}
	resp := exchange(t, env.addr, req)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, dns.PTR, resp.Answers[0].Type)
	assert.Equal(t, "ns.relay.test.", resp.Answers[0].CNAME)
}

func TestSessionUpstreamRelay(t *testing.T) {
	// Fake upstream echoes every query's ID back with a fixed A answer.
	upstream, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer upstream.Close()

	go func() {
		buf := make([]byte, 65535)
		for {
			n, src, err := upstream.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := dns.Decode(buf[:n])
			if err != nil {
				continue
			}
			resp := &dns.Message{
				Header:    dns.Header{ID: req.Header.ID, Response: true, QDCount: 1, ANCount: 1},
				Questions: req.Questions,
				Answers: []dns.ResourceRecord{{
					Name: req.Questions[0].Name, Type: dns.A, Class: 1, TTL: 30,
					IP: net.IPv4(1, 2, 3, 4),
				}},
			}
			wire, err := resp.Encode()
			if err != nil {
				continue
			}
			upstream.WriteToUDP(wire, src) //nolint:errcheck
		}
	}()

	env := startTestServer(t, upstream.LocalAddr().String())

	resp := exchange(t, env.addr, aQuery(0x0001, "foo"))
	assert.Equal(t, uint16(0x0001), resp.Header.ID, "relayed reply must carry the client's original ID")
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "1.2.3.4", resp.Answers[0].IP.String())
	assert.Equal(t, 0, env.server.forwarding.Len(), "pending entry must be consumed by the reply")
}

func TestSessionUnknownUpstreamReplyDropped(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	// A response datagram from the upstream's IP whose ID has no pending
	// forwarding entry must be dropped without a reply.
	reply := &dns.Message{
		Header:    dns.Header{ID: 77, Response: true, QDCount: 1},
		Questions: []dns.Question{{Name: "foo", QType: dns.A, Class: 1}},
	}
	conn, err := net.DialUDP("udp", nil, env.addr)
	require.NoError(t, err)
	defer conn.Close()
	wire, err := reply.Encode()
	require.NoError(t, err)
	_, err = conn.Write(wire)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	buf := make([]byte, 512)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestCommandStopShutsDownServer(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	resp := exchange(t, env.addr, aQuery(3, "command=stop"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "88.88.88.88", resp.Answers[0].IP.String())

	// The loop is gone; subsequent queries get nothing.
	conn, err := net.DialUDP("udp", nil, env.addr)
	require.NoError(t, err)
	defer conn.Close()
	wire, err := aQuery(4, "example.com").Encode()
	require.NoError(t, err)
	conn.Write(wire) //nolint:errcheck
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	buf := make([]byte, 512)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestCommandBindStaticRecord(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	resp := exchange(t, env.addr, aQuery(6, "printer.lan=192.168.1.9"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "192.168.1.9", resp.Answers[0].IP.String())

	rec, ok := env.records.Lookup("printer.lan")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.9", rec.IPv4.String())
}

func TestCommandSetAndReadFilterMode(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	resp := exchange(t, env.addr, aQuery(7, "example.com=stop"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "1.1.1.1", resp.Answers[0].IP.String())

	resp = exchange(t, env.addr, aQuery(8, "example.com=?"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "0.0.0.3", resp.Answers[0].IP.String())
}

func TestCommandDebugScalarReadback(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	resp := exchange(t, env.addr, aQuery(10, "debug=2"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "1.1.1.1", resp.Answers[0].IP.String())

	resp = exchange(t, env.addr, aQuery(11, "debug=?"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "0.0.0.2", resp.Answers[0].IP.String())
}

func TestCommandStopHostSetting(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	resp := exchange(t, env.addr, aQuery(12, "stop=10.0.0.1"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "1.1.1.1", resp.Answers[0].IP.String())
	assert.Equal(t, "10.0.0.1", env.filters.StopHost().String())

	resp = exchange(t, env.addr, aQuery(13, "stop=?"))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "10.0.0.1", resp.Answers[0].IP.String())
}

func TestCommandUnknownAnswersNotImplemented(t *testing.T) {
	env := startTestServer(t, "127.0.0.1:1")

	resp := exchange(t, env.addr, aQuery(14, "bogus="))
	assert.Equal(t, dns.NotImplement, resp.Header.RCode)
	assert.Empty(t, resp.Answers)
}
