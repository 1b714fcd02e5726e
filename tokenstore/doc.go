// Package tokenstore persists OAuth tokens across process restarts.
//
// The Store keeps the most recent token in memory and mirrors it to a
// pluggable Driver (file or redis). Tokens are sealed with AES-256-GCM
// before they reach the driver when an Encryptor is configured; a payload
// that cannot be decrypted or parsed is treated as absent rather than as
// an error, so a corrupted cache degrades to a fresh authorization flow.
package tokenstore
