// Package signature derives the content half of the label cache key.
package signature

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Length is the number of hex characters kept from the digest.
const Length = 12

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

// Normalize replaces every CR and LF with a space and trims the result.
func Normalize(text string) string {
	return strings.TrimSpace(lineBreaks.Replace(text))
}

// Of returns the content signature of text. Existing ledgers depend on the
// exact digest, so the hash and normalization must not change.
func Of(text string) string {
	sum := sha1.Sum([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])[:Length]
}
