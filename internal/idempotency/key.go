// Package idempotency suppresses duplicate sends and duplicate webhook
// deliveries. Keys are derived deterministically from the logical action,
// checked against a TTL cache and then against the message log, which is
// the authoritative record.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Type distinguishes outbound sends from inbound deliveries.
type Type string

const (
	Outbound Type = "outbound"
	Inbound  Type = "inbound"
)

// KeyInput is the logical identity of an action.
//
// Source names what the action is about (a client, a phone number) and
// Action what is done (template + appointment, or a webhook payload). A nil
// Bucket on an outbound action falls into the current UTC minute unless
// NoBucket is set; inbound actions without a bucket are keyed on content
// alone.
type KeyInput struct {
	TenantID string
	Type     Type
	Source   string
	Action   string
	Bucket   *time.Time
	NoBucket bool
}

// canonicalKey fixes the field order of the hashed document.
type canonicalKey struct {
	Tenant string `json:"tenant"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Action string `json:"action"`
	Bucket string `json:"bucket,omitempty"`
}

// deriveKey hashes in. now supplies the minute bucket for outbound input
// without an explicit one.
func deriveKey(in KeyInput, now time.Time) string {
	doc := canonicalKey{
		Tenant: in.TenantID,
		Type:   string(in.Type),
		Source: in.Source,
		Action: in.Action,
	}
	switch {
	case in.Bucket != nil:
		doc.Bucket = in.Bucket.UTC().Format(time.RFC3339Nano)
	case in.Type == Outbound && !in.NoBucket:
		doc.Bucket = now.UTC().Truncate(time.Minute).Format(time.RFC3339)
	}
	// Marshal of a flat string struct cannot fail.
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
