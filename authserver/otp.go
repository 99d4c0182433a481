package authserver

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

type otpEntry struct {
	hash      []byte
	expiresAt time.Time
}

// OTPStore issues single-use numeric codes per identifier. Only bcrypt
// hashes of the codes are kept.
type OTPStore struct {
	entries map[string]otpEntry
	length  int
	expiry  time.Duration
	nowFunc func() time.Time
	lock    sync.Mutex
}

func NewOTPStore(length int, expiry time.Duration, nowFunc func() time.Time) *OTPStore {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &OTPStore{
		entries: make(map[string]otpEntry),
		length:  length,
		expiry:  expiry,
		nowFunc: nowFunc,
	}
}

// Generate creates a code for identifier, replacing any outstanding one.
func (o *OTPStore) Generate(identifier string) (string, error) {
	identifier = normaliseIdentifier(identifier)
	if identifier == "" {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "identifier is required")
	}

	code, err := randomDigits(o.length)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash one-time code: %w", err)
	}

	o.lock.Lock()
	defer o.lock.Unlock()
	o.entries[identifier] = otpEntry{hash: hash, expiresAt: o.nowFunc().Add(o.expiry)}
	return code, nil
}

// Validate consumes the code for identifier.
func (o *OTPStore) Validate(identifier, code string) error {
	identifier = normaliseIdentifier(identifier)

	o.lock.Lock()
	defer o.lock.Unlock()

	entry, ok := o.entries[identifier]
	if !ok {
		return errors.ErrInvalidOTP
	}
	if o.nowFunc().After(entry.expiresAt) {
		delete(o.entries, identifier)
		return errors.ErrOTPExpired
	}
	if err := bcrypt.CompareHashAndPassword(entry.hash, []byte(code)); err != nil {
		return errors.ErrInvalidOTP
	}
	delete(o.entries, identifier)
	return nil
}

func (o *OTPStore) Expiry() time.Duration {
	return o.expiry
}

func normaliseIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func randomDigits(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate one-time code: %w", err)
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}
