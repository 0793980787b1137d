package util

import (
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// PublicID derives the externally visible identifier for a record from its
// internal id, its creation time and a server secret. The result is stable
// for a given record and reveals nothing about insertion order.
func PublicID(internalID string, createdAt time.Time, secret string) string {
	sum := sha256.Sum256([]byte(internalID + createdAt.UTC().Format(time.RFC3339Nano) + secret))
	return base64.URLEncoding.EncodeToString(sum[:])[:16]
}
