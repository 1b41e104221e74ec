package verification

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// generateCode returns a zero-padded six digit code drawn from r.
func generateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}

// hashCode is what gets stored; the plain code only exists in the email.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}

func codeMatches(hash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(hashCode(code))) == 1
}
