// Package crypto provides the randomness and hashing helpers Parley relies on:
// unpredictable room identifier suffixes and stable translation cache keys.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// SuffixAlphabet is the character set used for random suffixes (base36).
const SuffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// MinSuffixLength keeps at least 36^6 (~31 bits) of entropy per suffix.
const MinSuffixLength = 6

var ErrSuffixTooShort = fmt.Errorf("crypto: suffix must be at least %d characters", MinSuffixLength)

// reader is swapped in tests to exercise failure paths.
var reader io.Reader = rand.Reader

// RandomSuffix returns n random base36 characters drawn from crypto/rand.
func RandomSuffix(n int) (string, error) {
	if n < MinSuffixLength {
		return "", ErrSuffixTooShort
	}
	base := big.NewInt(int64(len(SuffixAlphabet)))
	out := make([]byte, n)
	for i := range out {
		v, err := rand.Int(reader, base)
		if err != nil {
			return "", fmt.Errorf("crypto: random suffix: %w", err)
		}
		out[i] = SuffixAlphabet[v.Int64()]
	}
	return string(out), nil
}

// SuffixEntropyBits reports the entropy carried by a suffix of length n.
func SuffixEntropyBits(n int) float64 {
	// log2(36) ~= 5.1699
	return float64(n) * 5.169925001442312
}

// CacheKey derives a fixed-size key for a (from, to, text) translation triple.
// Fields are length-prefixed so "ab"+"c" and "a"+"bc" never collide.
func CacheKey(from, to, text string) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for oversized keys; we pass none
		panic(errors.New("crypto: blake2b init: " + err.Error()))
	}
	for _, part := range []string{from, to, text} {
		_, _ = fmt.Fprintf(h, "%d:", len(part))
		_, _ = io.WriteString(h, part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
