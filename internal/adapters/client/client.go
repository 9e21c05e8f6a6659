// Package client implements a blocking DNS resolver that waits for its
// answer, as opposed to the fire-and-forget forwarding table in
// internal/core/services; the relay session itself does not call it. Grounded on
// poyrazK-cloudDNS/internal/dns/server/recursive.go's sendQuery: dial,
// write, set a read deadline, read, verify the transaction ID.
package client

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/netrelay/dnsrelay/internal/wire/dns"
)

// Client is a single upstream DNS server reached over UDP with a bounded
// number of retries per query, per SPEC_FULL.md §4.G.
type Client struct {
	Server     string
	Timeout    time.Duration
	RetryCount int
}

// New returns a Client with the given (timeout, retryCount), matching the
// spec's explicit constructor parameters.
func New(server string, timeout time.Duration, retryCount int) *Client {
	return &Client{Server: server, Timeout: timeout, RetryCount: retryCount}
}

func newTransactionID() uint16 {
	var id uint16
	_ = binary.Read(rand.Reader, binary.BigEndian, &id)
	return id
}

// Query sends a single question and returns the parsed response, retrying
// up to RetryCount times on timeout. It returns nil, nil on exhaustion
// (SPEC_FULL.md §4.G: "Returns None on exhaustion"), not an error, since a
// resolver timeout is an expected outcome rather than a fault.
func (c *Client) Query(name string, qtype dns.QueryType) (*dns.Message, error) {
	req := &dns.Message{
		Header: dns.Header{
			ID:               newTransactionID(),
			RecursionDesired: true,
			QDCount:          1,
		},
		Questions: []dns.Question{{Name: name, QType: qtype, Class: 1}},
	}
	wire, err := req.Encode()
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt <= c.RetryCount; attempt++ {
		resp, err := c.roundTrip(wire, req.Header.ID)
		if err == nil {
			return resp, nil
		}
		if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
			return nil, err
		}
	}
	return nil, nil
}

func (c *Client) roundTrip(wire []byte, wantID uint16) (*dns.Message, error) {
	conn, err := net.DialTimeout("udp", c.Server, c.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(wire); err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	resp, err := dns.Decode(buf[:n])
	if err != nil {
		return nil, err
	}
	if resp.Header.ID != wantID {
		return nil, fmt.Errorf("client: transaction id mismatch: want %d, got %d", wantID, resp.Header.ID)
	}
	return resp, nil
}

// AddressFamily selects A (IPv4) or AAAA (IPv6) lookups for GetAddressList.
type AddressFamily int

const (
	IPv4 AddressFamily = iota
	IPv6
)

// GetAddressList resolves domain, recursively chasing CNAME answers, and
// returns every address of the requested family found along the chain.
// Grounded on SPEC_FULL.md §4.G's getAddressList.
func (c *Client) GetAddressList(domain string, family AddressFamily) ([]net.IP, error) {
	qtype := dns.A
	if family == IPv6 {
		qtype = dns.AAAA
	}

	seen := make(map[string]bool)
	name := domain
	var addrs []net.IP

	for i := 0; i < 8; i++ {
		if seen[name] {
			break
		}
		seen[name] = true

		resp, err := c.Query(name, qtype)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			break
		}

		var next string
		for _, rr := range resp.Answers {
			switch rr.Type {
			case qtype:
				if rr.IP != nil {
					addrs = append(addrs, rr.IP)
				}
			case dns.CNAME:
				next = rr.CNAME
			}
		}
		if len(addrs) > 0 || next == "" {
			break
		}
		name = next
	}
	return addrs, nil
}
