// Package secrets defines the secret-vault contract used for credential and
// encryption-entropy lookup, together with in-memory, environment, and
// chained implementations. A missing secret is reported as absent, never as
// an error, so resolution chains can fall through cleanly.
package secrets
