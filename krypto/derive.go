package krypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

const (
	deriveMemory      = 4096
	deriveIterations  = 3
	deriveParallelism = 6
	deriveKeyLength   = 32
)

// deriveSalt is the fixed domain-separation salt applied when no entropy is
// supplied. Mixing entropy into the salt rather than the secret means two
// installs sharing a base secret still derive distinct keys.
var deriveSalt = []byte("authkit/token-at-rest/v1")

// DeriveKey derives a 32-byte AES key from a base secret and optional
// additional entropy using Argon2id. The same (secret, entropy) pair always
// yields the same key.
func DeriveKey(baseSecret, entropy []byte) []byte {
	salt := deriveSalt
	if len(entropy) > 0 {
		mixed := sha256.Sum256(append(append([]byte{}, deriveSalt...), entropy...))
		salt = mixed[:]
	}
	return argon2.IDKey(baseSecret, salt, deriveIterations, deriveMemory, deriveParallelism, deriveKeyLength)
}
