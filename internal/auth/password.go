// Package auth implements password login, in-memory sessions and the invite
// table that gates dial requests.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters: m=19 MiB, t=2, p=1.
const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	keyLen       = 32
	saltLen      = 16
)

// saltEncoding is the unpadded standard base64 alphabet used by PHC strings.
var saltEncoding = base64.RawStdEncoding

// NewSalt returns a fresh random salt in its textual base64 form.
func NewSalt() (string, error) {
	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return saltEncoding.EncodeToString(b), nil
}

// HashPassword derives the argon2id hash of password with the textual salt.
func HashPassword(password, salt string) ([]byte, error) {
	raw, err := saltEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	return argon2.IDKey([]byte(password), raw, argonTime, argonMemory, argonThreads, keyLen), nil
}

// VerifyPassword reports whether password hashes to want under salt.
func VerifyPassword(password, salt string, want []byte) (bool, error) {
	got, err := HashPassword(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
