// Package idgen mints the correlation tokens dialects embed in their
// responses (Manitou RawNo, NAK Index), built on google/uuid's
// crypto-random source instead of a hand-rolled math/rand sampler.
package idgen

import (
	"encoding/base64"

	"github.com/google/uuid"
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RawNo mints a 12-character alphanumeric Manitou RawNo token.
func RawNo() string {
	id := uuid.New()
	out := make([]byte, 12)
	for i := range out {
		out[i] = alnum[int(id[i%len(id)]+byte(i))%len(alnum)]
	}
	return string(out)
}

// NAKIndex mints a 12-character URL-safe Manitou NAK index token.
func NAKIndex() string {
	id := uuid.New()
	s := base64.RawURLEncoding.EncodeToString(id[:])
	return s[:12]
}
