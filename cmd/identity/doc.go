// Package identity decides who may log in.
//
// An Authenticator answers a single question: does this password belong to
// this user. FileAuthenticator reads "user:<argon2id PHC>" lines from a file
// and reloads it when it changes; DenyAll refuses everyone.
package identity
