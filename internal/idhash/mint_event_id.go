package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"token-ledger/internal/domain"
)

// ComputeMintEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(sequence|recipient|amount)
// Returns hex-encoded hash (64 characters).
func ComputeMintEventID(sequence uint64, recipient string, amount domain.Amount) string {
	data := fmt.Sprintf("%d|%s|%s",
		sequence,
		recipient,
		amount.String(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
