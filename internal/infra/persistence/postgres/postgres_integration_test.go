//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/adslot/internal/identity"
	"github.com/coachpo/adslot/internal/infra/persistence/migrations"
	"github.com/coachpo/adslot/internal/track"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "adslot"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/adslot?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, migrations.Embedded, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}
	testPool = pool
	return nil
}

func TestDeviceStoreContract(t *testing.T) {
	ctx := context.Background()
	store := NewDeviceStore(testPool)

	_, err := store.Load(ctx, "contract-key")
	require.ErrorIs(t, err, identity.ErrNotFound)

	devices := identity.NewDevices(store)
	first, err := devices.ID(ctx)
	require.NoError(t, err)

	again, err := identity.NewDevices(store).ID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, again)

	require.NoError(t, devices.Clear(ctx))
	_, err = store.Load(ctx, identity.StorageKey)
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestBeaconStoreContract(t *testing.T) {
	ctx := context.Background()
	store := NewBeaconStore(testPool)
	device := uuid.NewString()

	for token := uint64(1); token <= 2; token++ {
		require.NoError(t, store.Record(ctx, track.JournalEntry{
			DeviceID: device,
			SlotID:   "contract-slot",
			Type:     track.Impression,
			Token:    token,
		}))
	}
	n, err := store.Count(ctx, "contract-slot", track.Impression)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
