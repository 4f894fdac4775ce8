package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// PasswordHash is the stored form of a password. Hash is a PHC formatted
// argon2id string; Salt repeats the salt in base64 so it can live in its own column.
type PasswordHash struct {
	Hash string
	Salt string
}

// HashPassword derives an argon2id hash. A random salt is generated when salt is nil.
func HashPassword(password string, salt []byte) (PasswordHash, error) {
	if password == "" {
		return PasswordHash{}, invalidInput("password is empty")
	}
	if len(salt) == 0 {
		salt = make([]byte, argonSaltLength)
		if _, err := rand.Read(salt); err != nil {
			return PasswordHash{}, fmt.Errorf("auth: generate salt: %w", err)
		}
	}
	key := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	return PasswordHash{
		Hash: fmt.Sprintf(
			"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
			argon2.Version,
			argonMemory,
			argonIterations,
			argonParallelism,
			encodedSalt,
			base64.RawStdEncoding.EncodeToString(key),
		),
		Salt: encodedSalt,
	}, nil
}

// VerifyPassword recomputes the hash with the stored parameters and compares it
// in constant time. Any decoding failure yields false.
func VerifyPassword(password, hash, salt string) bool {
	params, embeddedSalt, want, ok := decodeArgonHash(hash)
	if !ok {
		return false
	}
	if salt != "" && subtle.ConstantTimeCompare([]byte(salt), []byte(embeddedSalt)) != 1 {
		return false
	}
	rawSalt, err := base64.RawStdEncoding.DecodeString(embeddedSalt)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), rawSalt, params.iterations, params.memory, params.parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

type argonParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

func decodeArgonHash(encoded string) (argonParams, string, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argonParams{}, "", nil, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonParams{}, "", nil, false
	}
	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return argonParams{}, "", nil, false
	}
	if p.memory == 0 || p.iterations == 0 || p.parallelism == 0 {
		return argonParams{}, "", nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return argonParams{}, "", nil, false
	}
	return p, parts[4], key, true
}

// dummyHash is verified against when a login names an unknown account so the
// response time does not reveal whether the email exists.
var dummyHash = sync.OnceValue(func() PasswordHash {
	h, err := HashPassword("authcore-dummy-password", []byte("authcore-dummy-s"))
	if err != nil {
		panic(err)
	}
	return h
})
