// Package util holds small stateless helpers shared across the mesh:
// hashing, local-address resolution, and ID generation.
package util

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand"
	"net"

	"github.com/google/uuid"
)

// StringHash computes the djb2-xor hash of s as an unsigned 32-bit integer,
// used to key the publisher-pool bucket a channel's connection lives in.
// It walks the string back to front, matching the reference hashing
// routine byte for byte (stringHash("TEST_STRING") == 2282002681).
func StringHash(s string) uint32 {
	var hash uint32 = 5381
	for i := len(s); i > 0; i-- {
		hash = (hash * 33) ^ uint32(s[i-1])
	}
	return hash
}

// MD5Hash returns the hex-encoded MD5 digest of s. Unused by the
// instance-identity path (which uses NewInstanceID's UUIDv4 strategy,
// per spec.md §9's recorded decision) but kept available for callers
// that key by a deterministic hash of an endpoint string.
func MD5Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IsValidUUID reports whether s parses as a UUID in any of the
// canonical forms, used to validate a caller-supplied correlation ID
// before trusting it as one.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// FisherYatesShuffle permutes items in place using the Fisher-Yates
// algorithm, the client-side load-balancing shuffle discovery applies
// to every checkServicePresence result.
func FisherYatesShuffle[T any](items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// SafeJSON marshals v, returning "null" instead of an error on failure
// so logging and best-effort diagnostics never themselves panic or
// propagate a marshal error up a hot path.
func SafeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// NewInstanceID returns a random UUIDv4 with dashes stripped, matching the
// instance-identity format used throughout presence, discovery and the
// message bus.
func NewInstanceID() string {
	id := uuid.New()
	return stripDashes(id.String())
}

func stripDashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// LocalIP returns the first non-loopback IPv4 address bound to this host,
// the default used when no explicit service IP is configured.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", errors.New("util: no non-loopback ipv4 address found")
}
