package flags

import (
	"crypto/sha1"
	"encoding/hex"
)

// longScale is 2^60 - 1, the normalizing denominator used by the PostHog
// hashing scheme (grounded on the reference Go SDK's LONG_SCALE constant).
const longScale = float64(0xfffffffffffffff)

// Hash computes a deterministic value in [0, 1] for (key, subjectID, salt),
// per spec.md §4.8: SHA1 of "<key>.<subjectID><salt>", first 15 hex
// characters read as a 60-bit unsigned integer, divided by 2^60-1.
func Hash(key, subjectID, salt string) float64 {
	h := sha1.Sum([]byte(key + "." + subjectID + salt))
	hexDigest := hex.EncodeToString(h[:])
	prefix := hexDigest[:15]

	var n uint64
	for i := 0; i < len(prefix); i++ {
		n <<= 4
		n |= uint64(hexDigitValue(prefix[i]))
	}
	return float64(n) / longScale
}

func hexDigitValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// InRollout reports whether subjectID falls within the given rollout
// percentage (0-100) for key. 0 never matches; 100 always matches.
func InRollout(key, subjectID string, rolloutPercentage float64) bool {
	if rolloutPercentage >= 100 {
		return true
	}
	if rolloutPercentage <= 0 {
		return false
	}
	return Hash(key, subjectID, "") < rolloutPercentage/100
}

// Variant selects a multivariate variant key for (key, subjectID) using the
// "variant" salt, indexing into the variants' contiguous [0,1) partition in
// declaration order. Returns "" if no variant's range contains the hash
// (e.g. variants don't sum to 100 and the hash lands past the end).
func Variant(key, subjectID string, variants []MultivariateVariant) string {
	hashValue := Hash(key, subjectID, "variant")
	var cursor float64
	for _, v := range variants {
		upper := cursor + v.RolloutPercentage/100
		if hashValue >= cursor && hashValue < upper {
			return v.Key
		}
		cursor = upper
	}
	return ""
}
