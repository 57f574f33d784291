// Package audit provides a tamper-evident decision trail using hash
// chaining: each record's hash covers the previous record's hash, so any
// retroactive edit breaks every later link.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DecisionRecord is one chained entry describing a capital decision.
type DecisionRecord struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	EntityID     string `json:"entity_id"`
	Action       string `json:"action"`
	Amount       string `json:"amount"`
	Reason       string `json:"reason"`
	Hash         string `json:"hash"`
}

// Trail accumulates decision records in a hash chain.
type Trail struct {
	mu           sync.Mutex
	previousHash string
	records      []DecisionRecord
}

// NewTrail creates a Trail anchored to a zero hash.
func NewTrail() *Trail {
	return &Trail{
		previousHash: strings.Repeat("0", 64),
	}
}

func recordHash(prevHash string, r DecisionRecord) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		prevHash, r.Timestamp, r.ID, r.EntityID, r.Action, r.Amount, r.Reason)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Append chains a new decision record and returns it.
func (t *Trail) Append(entityID, action, amount, reason string) DecisionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := DecisionRecord{
		ID:           strings.ReplaceAll(uuid.New().String(), "-", ""),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: t.previousHash,
		EntityID:     entityID,
		Action:       action,
		Amount:       amount,
		Reason:       reason,
	}
	r.Hash = recordHash(t.previousHash, r)

	t.previousHash = r.Hash
	t.records = append(t.records, r)
	return r
}

// Records returns a copy of the chain in append order.
func (t *Trail) Records() []DecisionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DecisionRecord, len(t.records))
	copy(out, t.records)
	return out
}

// VerifyTrail checks that a slice of records forms an unbroken hash chain.
func VerifyTrail(records []DecisionRecord) bool {
	if len(records) == 0 {
		return true
	}

	for i, r := range records {
		prevHash := r.PreviousHash
		if i > 0 {
			prevHash = records[i-1].Hash
			if r.PreviousHash != prevHash {
				return false
			}
		}
		if recordHash(prevHash, r) != r.Hash {
			return false
		}
	}
	return true
}
