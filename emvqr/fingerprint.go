package emvqr

import (
	"crypto/md5"
	"encoding/hex"
)

// Fingerprint derives the opaque transaction identifier the settlement
// provider keys status lookups by: the hex md5 digest of the payload bytes.
// Deterministic; any time-variance lives in the payload's timestamp field.
func Fingerprint(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
