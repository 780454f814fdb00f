// Package token derives log-safe fingerprints of session tokens.
//
// Session tokens name their storage directory and must never be written to
// logs. Fingerprint returns a short, stable digest instead:
//   - SHA-256(token) when no key is configured (development).
//   - HMAC-SHA256(token, key) when WEBUI_TOKEN_HMAC_KEY is set, so that leaked
//     logs cannot be used to confirm a guessed token.
package token
