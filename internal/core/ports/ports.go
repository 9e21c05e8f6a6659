// Package ports defines the hexagonal-architecture boundaries between the
// core DNS server logic and its adapters (durability, cache), mirroring
// poyrazK-cloudDNS/internal/core/ports.
package ports

import (
	"context"

	"github.com/netrelay/dnsrelay/internal/core/domain"
)

// RecordRepository persists the static record table. It is consulted only
// at boot (LoadAll) and on admin writes, never on the query hot path
// (SPEC_FULL.md §4.H/§5).
type RecordRepository interface {
	LoadAll(ctx context.Context) ([]domain.Record, error)
	Put(ctx context.Context, rec domain.Record) error
	Delete(ctx context.Context, domainName string) error
	Ping(ctx context.Context) error
}

// FilterRepository persists the filter table with the same boot-load/
// admin-write contract as RecordRepository.
type FilterRepository interface {
	LoadAll(ctx context.Context) ([]domain.Filter, error)
	Put(ctx context.Context, f domain.Filter) error
	Delete(ctx context.Context, domainName string) error
}

// AnswerCache is the optional read-through cache for static-record A/AAAA
// answers (never forwarded, command or filter answers), keyed by qtype+name. L1 is always
// present (in-process); L2 (Redis) is optional and cross-instance.
type AnswerCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds uint32)
	Invalidate(ctx context.Context, key string) error
}
