// Package password hashes and verifies local account passwords.
//
// Hashes use PBKDF2-SHA512 with a random 16-byte salt. The stored string
// embeds the iteration count so the work factor can be raised later without
// invalidating existing hashes; verification always honors the embedded
// count, bounded to an accepted range.
package password

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	algorithm  = "pbkdf2-sha512"
	saltLen    = 16
	keyLen     = 64
	iterations = 210_000

	// Bounds on the embedded iteration count accepted at verify time. A
	// count outside this range is treated as a non-matching password.
	minIterations = 100_000
	maxIterations = 10_000_000
)

// Hash derives a salted digest of the password and returns it in the
// self-describing form "pbkdf2-sha512:<iterations>:<salt>:<digest>".
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha512.New)
	return strings.Join([]string{
		algorithm,
		strconv.Itoa(iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, ":"), nil
}

// Verify reports whether the password matches the stored hash. A stored
// string that fails to parse (wrong segment count, unknown algorithm,
// out-of-range iteration count, garbled base64) is a non-matching password,
// never an error that aborts the caller.
func Verify(password, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 4 || parts[0] != algorithm {
		return false
	}
	iters, err := strconv.Atoi(parts[1])
	if err != nil || iters < minIterations || iters > maxIterations {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iters, len(want), sha512.New)
	return hmac.Equal(got, want)
}
