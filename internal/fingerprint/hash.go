// Package fingerprint derives the irreversible client identity used as the
// join key across the ban and session registries.
package fingerprint

import (
	stdsha "crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	simdsha "github.com/minio/sha256-simd"
)

// Fingerprint is the hex SHA-256 digest of a raw client address.
type Fingerprint string

// Len is the length of every Fingerprint in characters.
const Len = 64

type sumFunc func([]byte) [32]byte

var sum atomic.Pointer[sumFunc]

func init() {
	UseSIMD(false)
}

// UseSIMD switches the digest implementation. Both produce identical output;
// the SIMD variant is faster on hosts with SHA extensions.
func UseSIMD(enabled bool) {
	var f sumFunc = stdsha.Sum256
	if enabled {
		f = simdsha.Sum256
	}
	sum.Store(&f)
}

// Hash returns the fingerprint of raw. Any string is accepted, including the
// "127.0.0.1" placeholder used when the real address is unknown.
func Hash(raw string) Fingerprint {
	d := (*sum.Load())([]byte(raw))
	return Fingerprint(hex.EncodeToString(d[:]))
}

// Short returns a 12-character prefix for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Valid reports whether f has the shape produced by Hash.
func Valid(f Fingerprint) bool {
	if len(f) != Len {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}
