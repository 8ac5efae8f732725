package utils

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// maxKeyLength bounds derived cache keys; longer argument lists are hashed.
const maxKeyLength = 200

// HashKey returns the 64-bit FNV-1a hash of key in hex.
func HashKey(key string) string {
	h := fnv.New64a()
	if _, err := h.Write([]byte(key)); err != nil {
		return ""
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

var partEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// CacheKey derives a deterministic key from a namespace and the call's arguments.
// Parts are used verbatim, with separators escaped, so distinct arguments never share
// a key; if the result would be too long, the parts are replaced by their hash.
func CacheKey(namespace string, parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = partEscaper.Replace(p)
	}
	joined := strings.Join(escaped, ":")
	key := namespace + ":" + joined
	if len(key) <= maxKeyLength {
		return key
	}
	return namespace + ":#" + HashKey(joined)
}

// NormalizeQuery trims, lower-cases and collapses whitespace in a free-text query so
// that equivalent searches share a cache entry. Identifiers must not go through it.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// ResolveTTL returns ttls[category], or fallback when the category has no positive TTL.
func ResolveTTL(ttls map[string]time.Duration, category string, fallback time.Duration) time.Duration {
	if ttl, ok := ttls[category]; ok && ttl > 0 {
		return ttl
	}
	return fallback
}
