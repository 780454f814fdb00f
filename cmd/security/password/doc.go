// Package password hashes and verifies the passwords in the credentials file.
//
// Hashes use the PHC string format for Argon2id:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
//
// Hash strings are treated as untrusted input. Verify refuses parameters far
// above the configured ones so a hostile credentials line cannot pin a CPU.
package password
