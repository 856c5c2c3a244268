package postgres

import (
	"context"
	"testing"

	"github.com/coachpo/adslot/internal/identity"
	"github.com/coachpo/adslot/internal/track"
)

func TestDeviceStoreNilPool(t *testing.T) {
	store := NewDeviceStore(nil)
	ctx := context.Background()
	if _, err := store.Load(ctx, identity.StorageKey); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Save(ctx, identity.StorageKey, "id"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := store.Delete(ctx, identity.StorageKey); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestBeaconStoreNilPool(t *testing.T) {
	store := NewBeaconStore(nil)
	ctx := context.Background()
	if err := store.Record(ctx, track.JournalEntry{SlotID: "s", Type: track.Impression}); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.Count(ctx, "s", track.Impression); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestObservePoolMetricsNilPool(t *testing.T) {
	ObservePoolMetrics(nil, "identity")
}
