// Package password provides hashing and verification for driver PINs
// and one-time passcodes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Errors for credential operations.
var (
	ErrPINTooShort  = errors.New("pin is too short")
	ErrPINNotDigits = errors.New("pin must contain digits only")
	ErrMismatch     = errors.New("credential does not match")
	ErrInvalidHash  = errors.New("invalid credential hash")
)

// DefaultCost is the default bcrypt cost factor.
const DefaultCost = 12

// DefaultOTPLength is the number of digits in a generated one-time passcode.
const DefaultOTPLength = 6

// MinPINLength is the minimum length for a driver PIN.
const MinPINLength = 4

// Hasher hashes and verifies PINs and OTPs with bcrypt.
type Hasher struct {
	cost int
}

// Option configures the Hasher.
type Option func(*Hasher)

// WithCost sets the bcrypt cost factor.
func WithCost(cost int) Option {
	return func(h *Hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

// New creates a new hasher with the given options.
func New(opts ...Option) *Hasher {
	h := &Hasher{cost: DefaultCost}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash hashes a credential using bcrypt.
func (h *Hasher) Hash(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify checks if a credential matches a hash.
func (h *Hasher) Verify(secret, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// ValidatePIN checks that a PIN is usable: digits only, at least
// MinPINLength long.
func ValidatePIN(pin string) error {
	if len(pin) < MinPINLength {
		return ErrPINTooShort
	}
	for _, char := range pin {
		if !unicode.IsDigit(char) {
			return ErrPINNotDigits
		}
	}
	return nil
}

// GenerateOTP generates a numeric one-time passcode of the given length
// using crypto/rand. Leading zeros are preserved.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = DefaultOTPLength
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// ConstantTimeEquals compares two short secrets without leaking timing.
// Used for single-use tokens that are stored in plain form with a TTL.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NeedsRehash checks if a hash needs to be updated due to cost changes.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}
