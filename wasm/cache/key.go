package cache

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Key identifies a compiled artifact by a digest of the module payload.
type Key = digest.Digest

// GenerateKey hashes payload into a cache key.
func GenerateKey(payload []byte) Key {
	return digest.SHA256.FromBytes(payload)
}

// ParseKey accepts either "<algorithm>:<hex>" or a bare sha256 hex string.
func ParseKey(s string) (Key, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if key, err := digest.Parse(s); err == nil {
		return key, true
	}

	key := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(s))
	if err := key.Validate(); err != nil {
		return "", false
	}

	return key, true
}

// KeyFor returns the supplied key when it is a valid digest, the payload
// hash otherwise.
func KeyFor(supplied string, payload []byte) Key {
	if key, ok := ParseKey(supplied); ok {
		return key
	}

	return GenerateKey(payload)
}
