// Package services implements the DNS server control plane of SPEC_FULL.md
// §4.F: the per-datagram session state machine, filter evaluation, static
// record lookup, and the upstream forwarding table (Forwarding, in
// forwarding.go). Grounded primarily on
// poyrazK-cloudDNS/internal/dns/server/server.go's request-dispatch shape,
// simplified from its parallel-worker-queue design to the single
// cooperative loop SPEC_FULL.md §5 mandates; the command-channel-in-
// query-name idea has no teacher analogue and is grounded on
// skyleaworlder-DNS-Relay.go's classify-then-branch filter/forward style
// (see DESIGN.md).
package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/netrelay/dnsrelay/internal/adapters/listener"
	"github.com/netrelay/dnsrelay/internal/core/domain"
	"github.com/netrelay/dnsrelay/internal/core/ports"
	"github.com/netrelay/dnsrelay/internal/infrastructure/metrics"
	"github.com/netrelay/dnsrelay/internal/wire/dns"
)

// DefaultTTL is the TTL advertised on synthesized and command-channel
// answers (SPEC_FULL.md §4.F "DEFAULT_TTL = 600 s").
const DefaultTTL = 600

// cacheTimeout bounds each answer-cache read or write made from a session,
// so a stalled L2 backend delays a lookup by at most this long.
const cacheTimeout = 100 * time.Millisecond

// answerableTypes is the set of query types this relay is prepared to
// answer at all; everything else is refused outright (SPEC_FULL.md §4.F).
var answerableTypes = map[dns.QueryType]bool{
	dns.A: true, dns.AAAA: true, dns.MX: true, dns.HTTPS: true, dns.PTR: true,
}

// Config bundles the mutable-at-startup, command-channel-adjustable server
// settings named in SPEC_FULL.md §3 "DNS server state" and §6
// "Environment".
type Config struct {
	UpstreamAddr string
	NSName       string
	NSIP         net.IP
	LocalOnly    bool
}

// Server is the DNS relay's control plane: one UDP listener driven by a
// single cooperative loop (SPEC_FULL.md §5), a static record table, a
// filter table, and an upstream forwarding table.
type Server struct {
	listener   *listener.Listener
	records    *domain.RecordStore
	filters    *domain.FilterTable
	forwarding *Forwarding
	cache      ports.AnswerCache
	recordRepo ports.RecordRepository
	filterRepo ports.FilterRepository
	logger     *slog.Logger

	mu           sync.RWMutex
	upstreamAddr *net.UDPAddr
	nsName       string
	nsIP         net.IP

	localOnly  atomic.Bool
	debugLevel atomic.Int32
	stopped    atomic.Bool
}

// NewServer wires a Server from its listener and storage dependencies. cache,
// recordRepo, and filterRepo may be nil: a nil cache is treated as an
// always-miss cache, and nil repositories simply skip durable persistence
// (SPEC_FULL.md §4.H describes both as optional).
func NewServer(l *listener.Listener, records *domain.RecordStore, filters *domain.FilterTable, forwarding *Forwarding, cache ports.AnswerCache, recordRepo ports.RecordRepository, filterRepo ports.FilterRepository, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	upstream, err := net.ResolveUDPAddr("udp", cfg.UpstreamAddr)
	if err != nil {
		return nil, fmt.Errorf("services: resolve upstream address %q: %w", cfg.UpstreamAddr, err)
	}
	s := &Server{
		listener:     l,
		records:      records,
		filters:      filters,
		forwarding:   forwarding,
		cache:        cache,
		recordRepo:   recordRepo,
		filterRepo:   filterRepo,
		logger:       logger,
		upstreamAddr: upstream,
		nsName:       cfg.NSName,
		nsIP:         cfg.NSIP,
	}
	s.localOnly.Store(cfg.LocalOnly)
	return s, nil
}

// Run drives the single cooperative read loop (SPEC_FULL.md §5) until the
// listener is closed or the command channel stops the server.
func (s *Server) Run() error {
	for !s.stopped.Load() {
		dg, err := s.listener.Next()
		if err != nil {
			return err
		}
		if dg == nil {
			return nil
		}
		s.handleDatagram(dg)
	}
	return s.listener.Close()
}

func (s *Server) handleDatagram(dg *listener.Datagram) {
	start := time.Now()
	msg, err := dns.Decode(dg.Data)
	if err != nil {
		s.logDebug("malformed datagram dropped", "src", dg.Src, "error", err)
		return
	}

	if msg.Header.Response {
		if dg.Src.IP.Equal(s.currentUpstream().IP) {
			s.relayUpstreamReply(msg, dg.Data)
			metrics.SessionDuration.WithLabelValues("relayed").Observe(time.Since(start).Seconds())
		}
		return
	}

	outcome := s.runSession(msg, dg.Data, dg.Src)
	metrics.SessionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	s.logDebug("session complete",
		"session", uuid.NewString(),
		"client", dg.Src.String(),
		"id", msg.Header.ID,
		"outcome", outcome,
	)
}

// runSession implements the "Session algorithm" of SPEC_FULL.md §4.F and
// returns an outcome label for metrics.
func (s *Server) runSession(req *dns.Message, raw []byte, src *net.UDPAddr) string {
	if len(req.Questions) == 0 {
		s.replyError(req, dns.FormatErr, src)
		return "formerr"
	}
	q := req.Questions[0]
	name := strings.ToLower(strings.TrimSuffix(q.Name, "."))

	if q.QType == dns.PTR && s.isOwnReversePTR(name) {
		s.replyName(req, s.nsNameSnapshot(), DefaultTTL, src)
		return "ptr-self"
	}

	if !answerableTypes[q.QType] {
		s.replyError(req, dns.Refused, src)
		return "refused-type"
	}

	if isCommandName(name) {
		s.executeCommand(name, src, req)
		return "command"
	}

	// The filter verdict applies to every answerable qtype, not just the
	// A/AAAA lookups the static record table can satisfy.
	mode := s.filters.Resolve(name)
	if mode == domain.FilterTrace {
		s.cloneToTrace(raw)
	}
	if mode > domain.FilterTrace {
		return s.applyFilterVerdict(mode, req, src)
	}

	if q.QType != dns.A && q.QType != dns.AAAA {
		s.forward(req, raw, src)
		return "forwarded"
	}

	rec, hit, fromCache := s.lookupRecord(q.QType, name)
	if hit {
		if rec.IsBlocked() {
			s.replyError(req, dns.NameError, src)
			return "blocked"
		}
		ip := rec.IPv4
		if q.QType == dns.AAAA {
			ip = rec.IPv6
		}
		if ip == nil {
			s.forward(req, raw, src)
			return "forwarded"
		}
		s.replyA(req, q.QType, ip, rec.TTL, src)
		if !fromCache && s.cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
			s.cache.Set(ctx, cacheKey(q.QType, name), ip, rec.TTL)
			cancel()
		}
		return "answered"
	}

	s.forward(req, raw, src)
	return "forwarded"
}

func cacheKey(qtype dns.QueryType, name string) string {
	return qtype.String() + ":" + name
}

func (s *Server) lookupRecord(qtype dns.QueryType, name string) (domain.Record, bool, bool) {
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		val, ok := s.cache.Get(ctx, cacheKey(qtype, name))
		cancel()
		if ok {
			ip := net.IP(val)
			metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
			if qtype == dns.AAAA {
				return domain.Record{Domain: name, IPv6: ip, TTL: DefaultTTL}, true, true
			}
			return domain.Record{Domain: name, IPv4: ip, TTL: DefaultTTL}, true, true
		}
		metrics.CacheOperations.WithLabelValues("l1", "miss").Inc()
	}
	rec, ok := s.records.Lookup(name)
	return rec, ok, false
}

// applyFilterVerdict answers a WARNING/STOP/REJECT verdict with its canned
// result (SPEC_FULL.md §4.F step 3, §6 "Filter redirect sentinels").
func (s *Server) applyFilterVerdict(mode domain.FilterMode, req *dns.Message, src *net.UDPAddr) string {
	switch mode {
	case domain.FilterWarning:
		s.replyA(req, dns.A, s.filters.WarningHost(), DefaultTTL, src)
		return "warning"
	case domain.FilterStop:
		s.replyA(req, dns.A, s.filters.StopHost(), DefaultTTL, src)
		return "stop"
	case domain.FilterReject:
		s.replyError(req, dns.Refused, src)
		return "reject"
	default:
		return "unknown-filter"
	}
}

// executeCommand runs the command-channel grammar and answers the request
// with its result, persisting any durable-store mutation asynchronously so
// the session loop never blocks on it (SPEC_FULL.md §5).
func (s *Server) executeCommand(name string, src *net.UDPAddr, req *dns.Message) {
	ip, stop, putRecord, _, putFilter := s.runCommand(name, src)

	if putRecord != nil && s.recordRepo != nil {
		rec := *putRecord
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.recordRepo.Put(ctx, rec); err != nil {
				s.logDebug("record persistence failed", "domain", rec.Domain, "error", err)
			}
		}()
	}
	if putRecord != nil && s.cache != nil {
		s.cache.Invalidate(context.Background(), cacheKey(dns.A, putRecord.Domain))
		s.cache.Invalidate(context.Background(), cacheKey(dns.AAAA, putRecord.Domain))
	}
	if putFilter != nil && s.filterRepo != nil {
		f := *putFilter
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.filterRepo.Put(ctx, f); err != nil {
				s.logDebug("filter persistence failed", "domain", f.Domain, "error", err)
			}
		}()
	}

	if ip == nil {
		s.replyError(req, dns.NotImplement, src)
		return
	}
	s.replyA(req, dns.A, ip, DefaultTTL, src)
	if stop {
		s.stopped.Store(true)
		s.listener.Close()
	}
}

// forward implements "Upstream relay: On forward" (SPEC_FULL.md §4.F),
// claiming a fresh local transaction ID before the rewritten datagram is
// sent (invariant 3: pending entry written before the outbound datagram).
func (s *Server) forward(req *dns.Message, raw []byte, src *net.UDPAddr) {
	localID := s.forwarding.Claim(req.Header.ID, src)
	metrics.ForwardingPending.Set(float64(s.forwarding.Len()))

	rewritten := make([]byte, len(raw))
	copy(rewritten, raw)
	binary.BigEndian.PutUint16(rewritten[0:2], uint16(localID))

	if err := s.listener.Send(s.currentUpstream(), rewritten); err != nil {
		s.logDebug("upstream send failed", "error", err)
	}
}

// relayUpstreamReply implements "Upstream relay: On reply" (SPEC_FULL.md
// §4.F): look up the pending entry by the reply's (locally issued) ID,
// rewrite the first two bytes back to the client's original ID, and relay.
func (s *Server) relayUpstreamReply(msg *dns.Message, raw []byte) {
	id := uint32(msg.Header.ID)
	originalID, client, ok := s.forwarding.Take(id)
	metrics.ForwardingPending.Set(float64(s.forwarding.Len()))
	if !ok {
		return
	}

	rewritten := make([]byte, len(raw))
	copy(rewritten, raw)
	binary.BigEndian.PutUint16(rewritten[0:2], originalID)

	if err := s.listener.Send(client, rewritten); err != nil {
		s.logDebug("client relay failed", "error", err)
	}
}

// cloneToTrace fire-and-forgets a copy of the raw query datagram to the
// configured trace server (SPEC_FULL.md §4.F step 2), never blocking the
// session on its result.
func (s *Server) cloneToTrace(raw []byte) {
	host := s.filters.TraceHost()
	if host == "" {
		return
	}
	go func() {
		conn, err := net.DialTimeout("udp", host, 2*time.Second)
		if err != nil {
			s.logDebug("trace clone dial failed", "host", host, "error", err)
			return
		}
		defer conn.Close()
		if _, err := conn.Write(raw); err != nil {
			s.logDebug("trace clone write failed", "host", host, "error", err)
		}
	}()
}

// replyA answers req with a single A or AAAA record.
func (s *Server) replyA(req *dns.Message, qtype dns.QueryType, ip net.IP, ttl uint32, src *net.UDPAddr) {
	if ip == nil {
		s.replyError(req, dns.ServiceFail, src)
		return
	}
	resp := s.baseResponse(req, dns.NoError)
	resp.Answers = []dns.ResourceRecord{{
		Name: req.Questions[0].Name, Type: qtype, Class: 1, TTL: ttl, IP: ip,
	}}
	resp.Header.ANCount = 1
	s.send(resp, src)
}

// replyName answers req with a single record whose rdata is an opaque
// encoded name (used for the PTR self-reply, SPEC_FULL.md §4.F).
func (s *Server) replyName(req *dns.Message, name string, ttl uint32, src *net.UDPAddr) {
	resp := s.baseResponse(req, dns.NoError)
	resp.Answers = []dns.ResourceRecord{{
		Name: req.Questions[0].Name, Type: dns.PTR, Class: 1, TTL: ttl, CNAME: name,
	}}
	resp.Header.ANCount = 1
	s.send(resp, src)
}

// replyError answers req with an empty-answer response carrying rcode.
func (s *Server) replyError(req *dns.Message, rcode dns.RCode, src *net.UDPAddr) {
	resp := s.baseResponse(req, rcode)
	s.send(resp, src)
}

func (s *Server) baseResponse(req *dns.Message, rcode dns.RCode) *dns.Message {
	return &dns.Message{
		Header: dns.Header{
			ID:                 req.Header.ID,
			Response:           true,
			Opcode:             req.Header.Opcode,
			RecursionDesired:   req.Header.RecursionDesired,
			RecursionAvailable: true,
			RCode:              rcode,
			QDCount:            uint16(len(req.Questions)),
		},
		Questions: req.Questions,
	}
}

func (s *Server) send(resp *dns.Message, src *net.UDPAddr) {
	wire, err := resp.Encode()
	if err != nil {
		s.logDebug("response encode failed", "error", err)
		return
	}
	if err := s.listener.Send(src, wire); err != nil {
		s.logDebug("response send failed", "error", err)
	}
	metrics.QueriesTotal.WithLabelValues(qtypeLabel(resp), resp.Header.RCode.String()).Inc()
}

func qtypeLabel(resp *dns.Message) string {
	if len(resp.Questions) == 0 {
		return "unknown"
	}
	return resp.Questions[0].QType.String()
}

// isOwnReversePTR reports whether name is the in-addr.arpa reverse lookup
// of this server's advertised address (SPEC_FULL.md §4.F "PTR self-reply").
func (s *Server) isOwnReversePTR(name string) bool {
	const suffix = ".in-addr.arpa"
	if !strings.HasSuffix(name, suffix) {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(name, suffix), ".")
	if len(labels) != 4 {
		return false
	}
	reversed := make([]string, 4)
	for i, l := range labels {
		reversed[3-i] = l
	}
	ip := net.ParseIP(strings.Join(reversed, "."))
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	nsIP := s.nsIPSnapshot()
	return ip4 != nil && nsIP != nil && ip4.Equal(nsIP)
}

func (s *Server) currentUpstream() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstreamAddr
}

func (s *Server) setUpstream(addr string) error {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "53")
	}
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.upstreamAddr = resolved
	s.mu.Unlock()
	return nil
}

func (s *Server) upstreamIPForReadback() net.IP {
	return s.currentUpstream().IP
}

func (s *Server) nsNameSnapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nsName
}

func (s *Server) nsIPSnapshot() net.IP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nsIP
}

func (s *Server) setNS(name string, ip net.IP) {
	s.mu.Lock()
	s.nsName = name
	s.nsIP = ip
	s.mu.Unlock()
}

func (s *Server) isLocalOnly() bool   { return s.localOnly.Load() }
func (s *Server) setLocalOnly(v bool) { s.localOnly.Store(v) }

func (s *Server) logDebug(msg string, args ...any) {
	if s.debugLevel.Load() <= 0 {
		return
	}
	s.logger.Debug(msg, args...)
}
