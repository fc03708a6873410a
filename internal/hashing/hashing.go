// Package hashing verifies plaintext passwords against stored hashes.
//
// Supported formats are bcrypt ($2a$, $2b$, $2y$), pbkdf2_sha256$<iterations>$<salt>$<base64 key>
// and the directory {SSHA} form.
package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/isometry/dirauth/internal/ldap"
)

const (
	PBKDF2SHA256Prefix = "pbkdf2_sha256$"

	// DefaultPBKDF2Iterations is used by HashPBKDF2.
	DefaultPBKDF2Iterations = 260000
	pbkdf2KeyLength         = 32
)

// Verifier checks passwords against any supported hash format.
type Verifier struct{}

// Verify reports whether plain matches hash. Unknown or malformed hashes never match.
func (Verifier) Verify(plain, hash string) bool {
	switch {
	case isBcrypt(hash):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	case strings.HasPrefix(hash, PBKDF2SHA256Prefix):
		return verifyPBKDF2(plain, hash)
	case len(hash) >= len(ldap.SSHAPrefix) && strings.EqualFold(hash[:len(ldap.SSHAPrefix)], ldap.SSHAPrefix):
		ok, err := ldap.VerifySSHA(plain, hash)
		return err == nil && ok
	}
	return false
}

func isBcrypt(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}

func verifyPBKDF2(plain, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 4 {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(plain), []byte(parts[2]), iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// HashPBKDF2 returns plain in pbkdf2_sha256 form with the given salt.
func HashPBKDF2(plain, salt string, iterations int) string {
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	key := pbkdf2.Key([]byte(plain), []byte(salt), iterations, pbkdf2KeyLength, sha256.New)
	return PBKDF2SHA256Prefix + strconv.Itoa(iterations) + "$" + salt + "$" + base64.StdEncoding.EncodeToString(key)
}

// HashBcrypt returns plain as a bcrypt hash.
func HashBcrypt(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
