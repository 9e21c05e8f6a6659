// Package repository implements the durability side of SPEC_FULL.md §4.H:
// a Postgres-backed RecordRepository/FilterRepository consulted at boot and
// on admin writes only, grounded on
// poyrazK-cloudDNS/internal/adapters/repository/postgres.go's
// database/sql + pgx/v5 stdlib driver style.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"net"

	"github.com/netrelay/dnsrelay/internal/core/domain"
)

// PostgresRecordRepository implements ports.RecordRepository.
type PostgresRecordRepository struct {
	db *sql.DB
}

// NewPostgresRecordRepository wraps an already-opened *sql.DB (opened with
// the pgx/v5 stdlib driver by the caller).
func NewPostgresRecordRepository(db *sql.DB) *PostgresRecordRepository {
	return &PostgresRecordRepository{db: db}
}

func (r *PostgresRecordRepository) LoadAll(ctx context.Context) ([]domain.Record, error) {
	query := `SELECT domain, ipv4, ipv6, ttl FROM relay_records`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var d string
		var ipv4, ipv6 sql.NullString
		var ttl uint32
		if err := rows.Scan(&d, &ipv4, &ipv6, &ttl); err != nil {
			return nil, err
		}
		rec := domain.Record{Domain: d, TTL: ttl}
		if ipv4.Valid {
			rec.IPv4 = net.ParseIP(ipv4.String)
		}
		if ipv6.Valid {
			rec.IPv6 = net.ParseIP(ipv6.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRecordRepository) Put(ctx context.Context, rec domain.Record) error {
	query := `INSERT INTO relay_records (domain, ipv4, ipv6, ttl) VALUES (LOWER($1), $2, $3, $4)
	          ON CONFLICT (domain) DO UPDATE SET ipv4 = $2, ipv6 = $3, ttl = $4`
	var ipv4, ipv6 *string
	if rec.IPv4 != nil {
		s := rec.IPv4.String()
		ipv4 = &s
	}
	if rec.IPv6 != nil {
		s := rec.IPv6.String()
		ipv6 = &s
	}
	_, err := r.db.ExecContext(ctx, query, rec.Domain, ipv4, ipv6, rec.TTL)
	return err
}

func (r *PostgresRecordRepository) Delete(ctx context.Context, domainName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM relay_records WHERE LOWER(domain) = LOWER($1)`, domainName)
	return err
}

func (r *PostgresRecordRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// PostgresFilterRepository implements ports.FilterRepository.
type PostgresFilterRepository struct {
	db *sql.DB
}

func NewPostgresFilterRepository(db *sql.DB) *PostgresFilterRepository {
	return &PostgresFilterRepository{db: db}
}

func (r *PostgresFilterRepository) LoadAll(ctx context.Context) ([]domain.Filter, error) {
	query := `SELECT domain, mode FROM relay_filters`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Filter
	for rows.Next() {
		var d string
		var mode int
		if err := rows.Scan(&d, &mode); err != nil {
			return nil, err
		}
		out = append(out, domain.Filter{Domain: d, Mode: domain.FilterMode(mode)})
	}
	return out, rows.Err()
}

func (r *PostgresFilterRepository) Put(ctx context.Context, f domain.Filter) error {
	query := `INSERT INTO relay_filters (domain, mode) VALUES (LOWER($1), $2)
	          ON CONFLICT (domain) DO UPDATE SET mode = $2`
	_, err := r.db.ExecContext(ctx, query, f.Domain, int(f.Mode))
	return err
}

func (r *PostgresFilterRepository) Delete(ctx context.Context, domainName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM relay_filters WHERE LOWER(domain) = LOWER($1)`, domainName)
	return err
}

// ErrNotFound is returned by callers wrapping a sql.ErrNoRows result; kept
// here so adapters/cmd code doesn't need to import database/sql just to
// compare against it.
var ErrNotFound = errors.New("repository: not found")
