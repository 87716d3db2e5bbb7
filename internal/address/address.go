// Package address validates and canonicalizes account identifiers.
package address

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned when an identifier fails validation.
var ErrInvalidAddress = errors.New("invalid address")

// Validator checks raw identifiers and returns their canonical form.
type Validator interface {
	Validate(raw string) (string, error)
}

// Basic length bounds, in bytes.
const (
	MinBasicLength = 3
	MaxBasicLength = 128
)

// Basic accepts printable, whitespace-free identifiers that are already in
// canonical lowercase form.
type Basic struct{}

// Compile-time interface check.
var (
	_ Validator = Basic{}
	_ Validator = Solana{}
)

// Validate implements Validator.
func (Basic) Validate(raw string) (string, error) {
	if len(raw) < MinBasicLength || len(raw) > MaxBasicLength {
		return "", fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidAddress, len(raw), MinBasicLength, MaxBasicLength)
	}
	for _, r := range raw {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", fmt.Errorf("%w: %q contains a non-printable or space character", ErrInvalidAddress, raw)
		}
	}
	if strings.ToLower(raw) != raw {
		return "", fmt.Errorf("%w: %q is not normalized", ErrInvalidAddress, raw)
	}
	return raw, nil
}

// Solana accepts base58-encoded 32-byte public keys.
type Solana struct {
	// RequireOnCurve rejects keys that are not valid ed25519 points,
	// such as program-derived addresses.
	RequireOnCurve bool
}

// Validate implements Validator.
func (v Solana) Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	decoded, err := base58.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not base58: %v", ErrInvalidAddress, raw, err)
	}
	if len(decoded) != 32 {
		return "", fmt.Errorf("%w: %q decodes to %d bytes, want 32", ErrInvalidAddress, raw, len(decoded))
	}
	if v.RequireOnCurve && !isOnCurve(decoded) {
		return "", fmt.Errorf("%w: %q is not on the ed25519 curve", ErrInvalidAddress, raw)
	}
	// Re-encode so leading-zero variants collapse to one form.
	return base58.Encode(decoded), nil
}

func isOnCurve(point []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// New returns the validator registered under format.
// Recognized formats are "basic", "solana" and "solana-wallet" (on-curve only).
func New(format string) (Validator, error) {
	switch format {
	case "", "basic":
		return Basic{}, nil
	case "solana":
		return Solana{}, nil
	case "solana-wallet":
		return Solana{RequireOnCurve: true}, nil
	default:
		return nil, fmt.Errorf("unknown address format: %s", format)
	}
}
