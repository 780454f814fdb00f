package app

import (
	"fmt"

	"webui/cmd/security/token"
)

// minTokenHMACKey is in bytes; the key is used raw.
const minTokenHMACKey = 32

// ValidateSecurityConfig refuses to start when WEBUI_REQUIRE_TOKEN_HMAC is
// set but session fingerprints could not be keyed.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}
	if _, err := token.HMACKeyFromEnv(minTokenHMACKey); err != nil {
		return fmt.Errorf("security policy: WEBUI_REQUIRE_TOKEN_HMAC=true: %s: %w", token.HMACEnvKey, err)
	}
	return nil
}
