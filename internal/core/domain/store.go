package domain

import (
	"net"
	"strings"
	"sync"
)

// RecordStore is the in-memory concurrent map of static records. It is the
// sole structure consulted on the query hot path (SPEC_FULL.md §5): a
// Postgres-backed adapter seeds it at boot and writes through it on admin
// mutation, but is never read during a session. Grounded on
// poyrazK-cloudDNS/internal/dns/server/cache.go's sharded-map-with-RWMutex
// discipline, collapsed to a single mutex since the record set is small
// relative to a DNS answer cache and does not need FNV sharding.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]Record)}
}

// Lookup returns the record for domain (case-insensitive), and whether one
// was found.
func (s *RecordStore) Lookup(domain string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[strings.ToLower(domain)]
	return rec, ok
}

// Put inserts or replaces the record for its own Domain field.
func (s *RecordStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[strings.ToLower(rec.Domain)] = rec
}

// Delete removes the record for domain, if present.
func (s *RecordStore) Delete(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, strings.ToLower(domain))
}

// Snapshot returns a copy of every record currently held, for boot-time
// persistence sweeps or diagnostics.
func (s *RecordStore) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// FilterTable is the in-memory concurrent map of suffix-match filter
// entries plus the three redirect hosts a WARNING/STOP/TRACE verdict
// targets. Same collapsed-single-mutex grounding as RecordStore.
type FilterTable struct {
	mu      sync.RWMutex
	entries map[string]FilterMode

	warningHost net.IP
	stopHost    net.IP
	traceHost   string
}

// NewFilterTable returns an empty table.
func NewFilterTable() *FilterTable {
	return &FilterTable{entries: make(map[string]FilterMode)}
}

// Put sets the filter mode for domain.
func (t *FilterTable) Put(domain string, mode FilterMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[strings.ToLower(domain)] = mode
}

// Delete removes the filter entry for domain, if present.
func (t *FilterTable) Delete(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, strings.ToLower(domain))
}

// Get returns the configured mode for the exact domain key, and whether an
// entry exists. Used for command-channel readback (`<domain>=?`).
func (t *FilterTable) Get(domain string) (FilterMode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mode, ok := t.entries[strings.ToLower(domain)]
	return mode, ok
}

// Snapshot returns a copy of every filter entry currently held.
func (t *FilterTable) Snapshot() map[string]FilterMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]FilterMode, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Resolve implements the "Filter suffix law" (SPEC_FULL.md §8): split d on
// '.', walk from the rightmost label inward, and return the first non-PASS
// mode encountered. PASS if nothing matches.
func (t *FilterTable) Resolve(d string) FilterMode {
	labels := strings.Split(strings.ToLower(strings.TrimSuffix(d, ".")), ".")
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(labels); i > 0; i-- {
		suffix := strings.Join(labels[i-1:], ".")
		if mode, ok := t.entries[suffix]; ok && mode != FilterPass {
			return mode
		}
	}
	return FilterPass
}

// WarningHost returns the redirect address a WARNING verdict answers with.
func (t *FilterTable) WarningHost() net.IP {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.warningHost
}

// SetWarningHost updates the WARNING redirect address via the command
// channel (`warning=<ipv4>`).
func (t *FilterTable) SetWarningHost(ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warningHost = ip
}

// StopHost returns the redirect address a STOP verdict answers with.
func (t *FilterTable) StopHost() net.IP {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopHost
}

// SetStopHost updates the STOP redirect address via the command channel
// (`stop=<ipv4>`, distinct from the `command=stop` shutdown command).
func (t *FilterTable) SetStopHost(ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopHost = ip
}

// TraceHost returns the upstream address a TRACE verdict clones queries to.
func (t *FilterTable) TraceHost() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.traceHost
}

// SetTraceHost updates the TRACE clone target via the command channel
// (`trace=<host:port>`).
func (t *FilterTable) SetTraceHost(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.traceHost = host
}
