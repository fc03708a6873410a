package ldap

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // {SSHA} is defined on SHA-1
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// SSHAPrefix is the scheme tag of salted SHA-1 password values.
const SSHAPrefix = "{SSHA}"

// SSHASaltLength is the number of random salt bytes used by SSHA.
const SSHASaltLength = 4

// randReader is the salt source; tests swap it to simulate a missing source.
var randReader io.Reader = rand.Reader

// SSHA hashes password with a fresh random salt.
func SSHA(password string) (string, error) {
	salt := make([]byte, SSHASaltLength)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoRandomSource, err)
	}
	return SSHAWithSalt(password, salt), nil
}

// SSHAWithSalt returns "{SSHA}" + base64(SHA1(password || salt) || salt).
func SSHAWithSalt(password string, salt []byte) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(password))
	h.Write(salt)

	payload := h.Sum(nil)
	payload = append(payload, salt...)

	return SSHAPrefix + base64.StdEncoding.EncodeToString(payload)
}

// VerifySSHA reports whether password matches an {SSHA} value.
func VerifySSHA(password, hash string) (bool, error) {
	if !strings.HasPrefix(strings.ToUpper(hash), SSHAPrefix) {
		return false, fmt.Errorf("not an %s value", SSHAPrefix)
	}

	payload, err := base64.StdEncoding.DecodeString(hash[len(SSHAPrefix):])
	if err != nil {
		return false, fmt.Errorf("decoding %s payload: %w", SSHAPrefix, err)
	}
	if len(payload) <= sha1.Size {
		return false, fmt.Errorf("%s payload too short", SSHAPrefix)
	}

	digest, salt := payload[:sha1.Size], payload[sha1.Size:]
	want := SSHAWithSalt(password, salt)
	got := SSHAPrefix + base64.StdEncoding.EncodeToString(append(bytes.Clone(digest), salt...))

	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1, nil
}
