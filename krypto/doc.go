// Package krypto provides the cryptographic primitives used to protect
// persisted OAuth tokens: an authenticated-encryption capability backed by
// AES-256-GCM, Argon2id key derivation from a locally-held secret, and
// secure random token generation for CSRF state values.
//
// The Encryptor interface deliberately mirrors a per-user data-protection
// API: callers hand it raw bytes plus optional additional entropy and get
// ciphertext back, without knowing which cipher sits behind it. Platforms
// with a native user-scoped protection mechanism can substitute their own
// implementation without touching the token store.
package krypto
