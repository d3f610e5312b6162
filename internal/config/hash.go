package config

import (
	"encoding/json"
	"hash/fnv"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// hashSnapshot hashes the marshaled snapshot so reloads with identical
// content can be skipped. Generation is excluded from marshaling, so two
// parses of the same file always hash the same.
func hashSnapshot(s *Snapshot) uint64 {
	if s == nil {
		return 0
	}
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
