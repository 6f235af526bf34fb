package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashToken is the ledger key for a raw token: HMAC-SHA256 under the server
// pepper, hex encoded. Raw tokens are never stored.
func HashToken(raw, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// RandomString returns n random bytes, base64url encoded without padding.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func NewCSRFToken() (string, error) {
	return RandomString(32)
}

// GenerateBackupCodes returns n codes in the form xxxxx-xxxxx.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for len(codes) < n {
		b := make([]byte, 5)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("read random bytes: %w", err)
		}
		s := hex.EncodeToString(b)
		codes = append(codes, s[:5]+"-"+s[5:])
	}
	return codes, nil
}

// HashBackupCode normalises case and separators before hashing so users can
// type codes loosely.
func HashBackupCode(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
