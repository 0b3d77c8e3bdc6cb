package identity

import (
	"crypto/rand"

	"github.com/goliatone/go-errors"
)

const (
	refCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	refCodeLength   = 8
)

// GenerateRefCode produces a random 8 character invite code.
func GenerateRefCode() (string, error) {
	buf := make([]byte, refCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate ref code")
	}
	for i, b := range buf {
		buf[i] = refCodeAlphabet[int(b)%len(refCodeAlphabet)]
	}
	return string(buf), nil
}
