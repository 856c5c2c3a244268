package identity

import (
	"context"
	"crypto/hmac"
	"crypto/md5" // #nosec G501 -- the ad server contract requires md5 request signatures.
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/config"
)

const (
	saltAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	saltLength   = 20
)

// Signature is the per-request authentication token sent as the si parameter.
type Signature struct {
	Value    string
	Salt     string
	DeviceID string
}

// Signer produces salted request signatures: salt + hex(hash(positionID + deviceID + tenantID + salt)).
type Signer struct {
	algorithm string
	secret    []byte
	devices   *Devices
	entropy   io.Reader
}

// SignerOption customises a Signer.
type SignerOption func(*Signer)

// WithEntropy replaces the salt randomness source.
func WithEntropy(r io.Reader) SignerOption {
	return func(s *Signer) {
		if r != nil {
			s.entropy = r
		}
	}
}

// NewSigner constructs a signer for one of config.SignMD5 or config.SignHMACSHA256.
func NewSigner(algorithm, secret string, devices *Devices, opts ...SignerOption) (*Signer, error) {
	switch algorithm {
	case config.SignMD5:
	case config.SignHMACSHA256:
		if secret == "" {
			return nil, errs.New("identity/signer", errs.CodeConfig, errs.WithMessage("secret required for hmac-sha256"))
		}
	default:
		return nil, errs.New("identity/signer", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("unknown algorithm %q", algorithm)))
	}
	if devices == nil {
		devices = NewDevices(nil)
	}
	s := &Signer{
		algorithm: algorithm,
		secret:    []byte(secret),
		devices:   devices,
		entropy:   rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Sign generates a fresh salted signature for the position and tenant.
func (s *Signer) Sign(ctx context.Context, positionID, tenantID string) (Signature, error) {
	deviceID, err := s.devices.ID(ctx)
	if err != nil {
		return Signature{}, err
	}
	salt, err := s.salt()
	if err != nil {
		return Signature{}, err
	}

	var h hash.Hash
	if s.algorithm == config.SignHMACSHA256 {
		h = hmac.New(sha256.New, s.secret)
	} else {
		h = md5.New() // #nosec G401
	}
	_, _ = io.WriteString(h, positionID+deviceID+tenantID+salt)

	return Signature{
		Value:    salt + hex.EncodeToString(h.Sum(nil)),
		Salt:     salt,
		DeviceID: deviceID,
	}, nil
}

// Devices exposes the device identifier manager used by the signer.
func (s *Signer) Devices() *Devices { return s.devices }

func (s *Signer) salt() (string, error) {
	buf := make([]byte, saltLength)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", fmt.Errorf("read salt entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return string(buf), nil
}
