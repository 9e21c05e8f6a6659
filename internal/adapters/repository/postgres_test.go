package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/netrelay/dnsrelay/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestPostgresRecordRepository_LoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"domain", "ipv4", "ipv6", "ttl"}).
		AddRow("example.com", "93.184.216.34", nil, 300)
	mock.ExpectQuery(`SELECT domain, ipv4, ipv6, ttl FROM relay_records`).WillReturnRows(rows)

	repo := NewPostgresRecordRepository(db)
	recs, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "example.com", recs[0].Domain)
	require.Equal(t, "93.184.216.34", recs[0].IPv4.String())
	require.Equal(t, uint32(300), recs[0].TTL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordRepository_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO relay_records`).
		WithArgs("example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), uint32(300)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPostgresRecordRepository(db)
	err = repo.Put(context.Background(), domain.Record{Domain: "example.com", TTL: 300})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFilterRepository_LoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"domain", "mode"}).AddRow("ads.example.com", int(domain.FilterReject))
	mock.ExpectQuery(`SELECT domain, mode FROM relay_filters`).WillReturnRows(rows)

	repo := NewPostgresFilterRepository(db)
	filters, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.Equal(t, domain.FilterReject, filters[0].Mode)
	require.NoError(t, mock.ExpectationsWereMet())
}
