package reliability

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// keyDigestLength is the number of hex digest characters kept in a
// deterministic key after truncation.
const keyDigestLength = 16

// IdempotencyKey builds a deterministic idempotency key for an outbound
// payment operation. The operation name and scope parts are joined with a
// stable separator and hashed, so the same logical operation always produces
// the same key and a retry cannot double-charge.
func IdempotencyKey(operation string, parts ...string) string {
	joined := operation + ":" + strings.Join(parts, ":")
	sum := sha256.Sum256([]byte(joined))
	return operation + "_" + hex.EncodeToString(sum[:])[:keyDigestLength]
}

// UniqueIdempotencyKey builds a key that never collides with a retry of a
// different logical operation, for calls that must be distinct every time.
func UniqueIdempotencyKey(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
