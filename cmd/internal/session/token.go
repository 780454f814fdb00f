package session

import (
	"crypto/rand"
	"encoding/base64"
)

// maxTokenLen bounds accepted tokens well above any configured TokenBytes.
const maxTokenLen = 128

func newToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// URL-safe, no padding; also a valid file name.
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidToken reports whether tok is shaped like a token this package issues.
// It is checked before a token is ever joined onto a filesystem path.
func ValidToken(tok string) bool {
	if tok == "" || len(tok) > maxTokenLen {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
