package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// CodeLength is the length of a join code.
	CodeLength = 8
	// CodeAlphabet leaves out characters that are easy to confuse when read aloud or off a projector.
	CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// NewCode samples a join code with crypto/rand.
func NewCode() (string, error) {
	var sb strings.Builder
	sb.Grow(CodeLength)

	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		sb.WriteByte(CodeAlphabet[n.Int64()])
	}

	return sb.String(), nil
}

// NormalizeCode canonicalizes a code typed by a participant.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code could have been produced by NewCode.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
