package internal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet used for guest handles, matching the URL-safe nanoid alphabet
// without the two symbols that are awkward in email local parts.
const handleAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOTP returns a uniformly random numeric code of the given width.
// Leading zeros are kept.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewHandle returns n characters drawn uniformly from the handle alphabet.
func NewHandle(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid handle length")
	}

	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(handleAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(handleAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
