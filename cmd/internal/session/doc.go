// Package session implements filesystem-backed login sessions.
//
// Each session is a directory under the session root named by its token.
// The directory holds data.json ({"user", "start"}) and, while a workspace
// exists, the repo/ clone. A token is valid iff its directory exists and
// start+Timeout has not passed.
//
// Rotation (Refresh) renames the whole directory to a new token with one
// rename(2), so the old token stops resolving the instant the new one does.
// Concurrent refreshes of one token are serialized by the exclusive lock on
// data.json; the loser observes a changed start and fails.
//
// Every failure a client could provoke surfaces as ErrSessionClosed.
package session
