// Package fingerprint computes the deterministic digest anchored on the
// ledger. The digest doubles as the duplicate-detection key, so the
// canonicalization here is part of the contract: two contents that differ
// only in surrounding or repeated whitespace fingerprint identically.
package fingerprint

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Compute returns the lowercase hex BLAKE2b-256 digest of the canonical form
// of content.
func Compute(content string) string {
	sum := blake2b.Sum256([]byte(Canonicalize(content)))
	return hex.EncodeToString(sum[:])
}

// Canonicalize trims the content and collapses every run of whitespace to a
// single space.
func Canonicalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}
