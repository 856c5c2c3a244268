package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/adslot/internal/track"
)

// BeaconStore journals fired tracking beacons. It satisfies track.Journal.
type BeaconStore struct {
	pool *pgxpool.Pool
}

// NewBeaconStore constructs a BeaconStore backed by the provided pgx pool.
func NewBeaconStore(pool *pgxpool.Pool) *BeaconStore {
	return &BeaconStore{pool: pool}
}

var _ track.Journal = (*BeaconStore)(nil)

const (
	beaconInsertSQL = `
INSERT INTO delivery_beacons (device_id, slot_id, event_type, token, fired_at)
VALUES ($1::uuid, $2, $3, $4, $5);
`
	beaconCountSQL = `SELECT COUNT(*) FROM delivery_beacons WHERE slot_id = $1 AND event_type = $2;`
)

// Record inserts one journal row.
func (s *BeaconStore) Record(ctx context.Context, entry track.JournalEntry) error {
	if s.pool == nil {
		return fmt.Errorf("beacon store: nil pool")
	}
	slot := strings.TrimSpace(entry.SlotID)
	if slot == "" {
		return fmt.Errorf("beacon store: slot id required")
	}
	firedAt := entry.FiredAt
	if firedAt.IsZero() {
		firedAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, beaconInsertSQL, entry.DeviceID, slot, string(entry.Type), int64(entry.Token), firedAt); err != nil {
		return fmt.Errorf("insert beacon: %w", err)
	}
	return nil
}

// Count returns how many beacons of a type were journaled for a slot.
func (s *BeaconStore) Count(ctx context.Context, slotID string, typ track.Type) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("beacon store: nil pool")
	}
	var n int
	if err := s.pool.QueryRow(ctx, beaconCountSQL, strings.TrimSpace(slotID), string(typ)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count beacons: %w", err)
	}
	return n, nil
}
