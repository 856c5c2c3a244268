package identity

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
)

func TestDevicesGeneratesAndPersistsUUID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	devices := NewDevices(store)

	first, err := devices.ID(ctx)
	require.NoError(t, err)
	parsed, err := uuid.Parse(first)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(4), parsed.Version())

	stored, err := store.Load(ctx, StorageKey)
	require.NoError(t, err)
	require.Equal(t, first, stored)

	again, err := NewDevices(store).ID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestDevicesClearRotatesIdentifier(t *testing.T) {
	ctx := context.Background()
	devices := NewDevices(nil)
	first, err := devices.ID(ctx)
	require.NoError(t, err)

	require.NoError(t, devices.Clear(ctx))
	second, err := devices.ID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestDevicesReplacesCorruptIdentifier(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, StorageKey, "not-a-uuid"))

	id, err := NewDevices(store).ID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, "not-a-uuid", id)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "device.json")
	store := NewFileStore(path)

	_, err := store.Load(ctx, StorageKey)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, StorageKey, "abc"))
	got, err := NewFileStore(path).Load(ctx, StorageKey)
	require.NoError(t, err)
	require.Equal(t, "abc", got)

	require.NoError(t, store.Delete(ctx, StorageKey))
	_, err = store.Load(ctx, StorageKey)
	require.ErrorIs(t, err, ErrNotFound)
}

func fixedDevices(t *testing.T, id string) *Devices {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), StorageKey, id))
	return NewDevices(store)
}

func TestMD5SignatureLayout(t *testing.T) {
	deviceID := "2f1c7a0e-9a57-4c3e-8d7e-3b9e0d6c1a11"
	entropy := bytes.Repeat([]byte{0}, saltLength)
	signer, err := NewSigner(config.SignMD5, "", fixedDevices(t, deviceID), WithEntropy(bytes.NewReader(entropy)))
	require.NoError(t, err)

	sig, err := signer.Sign(context.Background(), "pos-1", "14")
	require.NoError(t, err)

	salt := "aaaaaaaaaaaaaaaaaaaa"
	sum := md5.Sum([]byte("pos-1" + deviceID + "14" + salt))
	require.Equal(t, salt, sig.Salt)
	require.Equal(t, deviceID, sig.DeviceID)
	require.Equal(t, salt+hex.EncodeToString(sum[:]), sig.Value)
}

func TestHMACSignatureUsesSecret(t *testing.T) {
	deviceID := "2f1c7a0e-9a57-4c3e-8d7e-3b9e0d6c1a11"
	signer, err := NewSigner(config.SignHMACSHA256, "s3cret", fixedDevices(t, deviceID))
	require.NoError(t, err)

	sig, err := signer.Sign(context.Background(), "pos-9", "21")
	require.NoError(t, err)
	require.Len(t, sig.Salt, saltLength)
	for _, r := range sig.Salt {
		require.Contains(t, saltAlphabet, string(r))
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("pos-9" + deviceID + "21" + sig.Salt))
	require.Equal(t, sig.Salt+hex.EncodeToString(mac.Sum(nil)), sig.Value)
}

func TestNewSignerRejectsBadConfig(t *testing.T) {
	_, err := NewSigner(config.SignHMACSHA256, "", nil)
	require.True(t, errs.Is(err, errs.CodeConfig))
	_, err = NewSigner("sha1", "", nil)
	require.True(t, errs.Is(err, errs.CodeConfig))
}
