// Package sharing implements passshare's session lifecycle: passkey-gated
// session creation and join, expiry enforcement, session-scoped uploads with
// live notification, personal-drive copies, and the expiry reaper.
//
// Users, file bytes and broadcast delivery are collaborators behind the
// UserDirectory, BlobStore and Broadcaster interfaces. Session records live
// behind SessionStore (in-memory or PostgreSQL).
package sharing
