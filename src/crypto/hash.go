package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// Topic derives the overlay topic from the cluster secret. Every node holding
// the same secret converges on the same topic; the secret itself is never
// transmitted.
func Topic(secret string) string {
	return hex.EncodeToString(SHA256([]byte(secret)))
}
