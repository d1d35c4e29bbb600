package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// MinPepperBytes is the shortest accepted digest key.
const MinPepperBytes = 32

// Digest is a keyed, deterministic hash for high-entropy secrets such as
// signed refresh tokens. Determinism lets the stored form carry a unique
// index and be looked up directly; the server-side pepper keeps a leaked
// table from being matched against intercepted tokens.
type Digest struct {
	pepper []byte
}

// NewDigest returns a Digest keyed by pepper.
func NewDigest(pepper []byte) (*Digest, error) {
	if len(pepper) < MinPepperBytes {
		return nil, errors.New("digest pepper must be at least 32 bytes")
	}
	key := make([]byte, len(pepper))
	copy(key, pepper)
	return &Digest{pepper: key}, nil
}

// Sum returns the hex HMAC-SHA256 of secret.
func (d *Digest) Sum(secret string) string {
	mac := hmac.New(sha256.New, d.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports in constant time whether secret digests to sum.
func (d *Digest) Equal(secret, sum string) bool {
	return hmac.Equal([]byte(d.Sum(secret)), []byte(sum))
}
