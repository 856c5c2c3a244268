// Package postgres implements identity and beacon persistence on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/adslot/internal/identity"
)

// DeviceStore persists device identifiers in PostgreSQL. It satisfies identity.Store.
type DeviceStore struct {
	pool *pgxpool.Pool
}

// NewDeviceStore constructs a DeviceStore backed by the provided pgx pool.
func NewDeviceStore(pool *pgxpool.Pool) *DeviceStore {
	return &DeviceStore{pool: pool}
}

var _ identity.Store = (*DeviceStore)(nil)

const (
	deviceSelectSQL = `SELECT device_id::text FROM device_identities WHERE storage_key = $1;`
	deviceUpsertSQL = `
INSERT INTO device_identities (storage_key, device_id, updated_at)
VALUES ($1, $2::uuid, NOW())
ON CONFLICT (storage_key) DO UPDATE SET
    device_id = EXCLUDED.device_id,
    updated_at = NOW();
`
	deviceDeleteSQL = `DELETE FROM device_identities WHERE storage_key = $1;`
)

// Load returns the identifier stored under key or identity.ErrNotFound.
func (s *DeviceStore) Load(ctx context.Context, key string) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("device store: nil pool")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("device store: key required")
	}
	var id string
	if err := s.pool.QueryRow(ctx, deviceSelectSQL, trimmed).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", identity.ErrNotFound
		}
		return "", fmt.Errorf("select device id: %w", err)
	}
	return id, nil
}

// Save upserts the identifier stored under key.
func (s *DeviceStore) Save(ctx context.Context, key, deviceID string) error {
	if s.pool == nil {
		return fmt.Errorf("device store: nil pool")
	}
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("device store: key required")
	}
	if _, err := s.pool.Exec(ctx, deviceUpsertSQL, trimmed, deviceID); err != nil {
		return fmt.Errorf("upsert device id: %w", err)
	}
	return nil
}

// Delete removes the identifier stored under key.
func (s *DeviceStore) Delete(ctx context.Context, key string) error {
	if s.pool == nil {
		return fmt.Errorf("device store: nil pool")
	}
	if _, err := s.pool.Exec(ctx, deviceDeleteSQL, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("delete device id: %w", err)
	}
	return nil
}
