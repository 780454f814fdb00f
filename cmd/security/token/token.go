package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"strings"
)

// HMACEnvKey names the variable holding the fingerprint key.
const HMACEnvKey = "WEBUI_TOKEN_HMAC_KEY" // #nosec G101 -- variable name, not a secret.

// FingerprintLen is the number of hex characters Fingerprint keeps.
const FingerprintLen = 12

func digest(s string, key []byte) string {
	var h hash.Hash
	if len(key) > 0 {
		h = hmac.New(sha256.New, key)
	} else {
		h = sha256.New()
	}
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// HMACKeyFromEnv returns the trimmed key from HMACEnvKey. It fails with
// ErrHMACKeyMissing when unset or blank, and ErrHMACKeyTooShort when shorter
// than minBytes.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	key := []byte(strings.TrimSpace(os.Getenv(HMACEnvKey)))
	switch {
	case len(key) == 0:
		return nil, ErrHMACKeyMissing
	case len(key) < minBytes:
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrHMACKeyTooShort, len(key), minBytes)
	}
	return key, nil
}

// Fingerprint returns a short, log-safe digest of a session token: keyed
// with HMACEnvKey when set, plain SHA-256 otherwise. "" maps to "".
func Fingerprint(tok string) string {
	if tok == "" {
		return ""
	}
	key := []byte(strings.TrimSpace(os.Getenv(HMACEnvKey)))
	return digest(tok, key)[:FingerprintLen]
}
