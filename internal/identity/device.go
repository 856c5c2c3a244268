package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Devices resolves the viewer's device identifier, generating and persisting one on first use.
type Devices struct {
	store Store
	key   string

	mu     sync.Mutex
	cached string
}

// NewDevices wraps store. A nil store keeps the identifier in memory only.
func NewDevices(store Store) *Devices {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Devices{store: store, key: StorageKey}
}

// ID returns the stored device identifier, creating a random UUID v4 when none exists.
func (d *Devices) ID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != "" {
		return d.cached, nil
	}
	id, err := d.store.Load(ctx, d.key)
	switch {
	case err == nil:
		if _, perr := uuid.Parse(id); perr == nil {
			d.cached = id
			return id, nil
		}
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("load device id: %w", err)
	}
	id = uuid.NewString()
	if err := d.store.Save(ctx, d.key, id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	d.cached = id
	return id, nil
}

// Clear forgets the device identifier so the next ID call generates a new one.
func (d *Devices) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = ""
	if err := d.store.Delete(ctx, d.key); err != nil {
		return fmt.Errorf("clear device id: %w", err)
	}
	return nil
}
