package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	codePrefix   = "P-"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// GenerateCode returns a random human-facing order code such as P-ABC123.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(len(codePrefix) + codeLength)
	b.WriteString(codePrefix)

	limit := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate order code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// IsValidCode reports whether code has the P-XXXXXX shape.
func IsValidCode(code string) bool {
	if len(code) != len(codePrefix)+codeLength || !strings.HasPrefix(code, codePrefix) {
		return false
	}
	for _, c := range code[len(codePrefix):] {
		if !strings.ContainsRune(codeAlphabet, c) {
			return false
		}
	}

	return true
}
