// Package realtime fans events out to websocket clients, bridged across
// nodes through redis pub/sub.
package realtime

import (
	"crypto/sha256"
	"encoding/hex"
)

// ChatGroup returns the group name for a resolution conversation. The name
// is a hash of the public id so group subscriptions never leak identifiers
// into transport logs. Derivation is one way only: consumers always hash,
// never decode.
func ChatGroup(publicID string) string {
	sum := sha256.Sum256([]byte(publicID))
	return "res:" + hex.EncodeToString(sum[:])[:32]
}

// UserGroup returns the per-user group every connection joins at accept.
func UserGroup(userID string) string {
	return "user:" + userID
}
