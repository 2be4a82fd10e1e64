// Package idempotency makes mutating commands safe to retry with a client supplied key.
package idempotency

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Request identifies one logical command.
type Request struct {
	CompanyID int64
	Key       string
	Operation string
	Payload   any
}

// Record is the persisted outcome of a keyed command.
type Record struct {
	CompanyID   int64
	Key         string
	Operation   string
	Fingerprint string
	Response    []byte
	CreatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

// Pending reports whether the command holding the key has not stored a response yet.
func (r Record) Pending() bool {
	return r.CompletedAt == nil
}

// Expired reports whether the record may be reclaimed at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Store persists idempotency records.
type Store interface {
	// WithTx runs fn in the outer command transaction; stores used by fn must join it.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
	// Cleanup deletes records that expired before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxStore is the transactional view of Store.
type TxStore interface {
	// Reserve inserts rec unless the key exists and reports whether it inserted.
	Reserve(ctx context.Context, rec Record) (bool, error)
	// Get loads and locks the record for the key.
	Get(ctx context.Context, companyID int64, key string) (Record, error)
	// Reclaim overwrites an expired record with rec.
	Reclaim(ctx context.Context, rec Record) error
	// Complete stores the response snapshot.
	Complete(ctx context.Context, companyID int64, key string, response []byte, at time.Time) error
}

// Fingerprint hashes the operation and canonical JSON payload with BLAKE2b-256.
func Fingerprint(operation string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("idempotency: marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("idempotency: canonicalise payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("idempotency: canonicalise payload: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	_, _ = h.Write([]byte(operation))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
