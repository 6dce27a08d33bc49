package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params controls the cost of newly created digests. Digests carry their
// own parameters so old hashes keep verifying after these change.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultArgon2Params follows the OWASP argon2id baseline (19 MiB, t=2, p=1).
var DefaultArgon2Params = Argon2Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	KeyLength:   32,
	SaltLength:  16,
}

// MaxPasswordBytes bounds the input to the KDF; bcrypt silently truncates at 72.
const MaxPasswordBytes = 1024

var ErrPasswordTooLong = errors.New("cryptox: password too long")

// Hasher hashes and verifies account passwords.
//
// New digests are PHC-formatted argon2id strings with the pepper appended to
// the plaintext. Legacy bcrypt digests ($2a$/$2b$/$2y$) still verify (without
// pepper) and report NeedsRehash so they can be upgraded on the next login.
type Hasher struct {
	pepper string
	params Argon2Params
}

// NewHasher builds a Hasher. A zero params value selects DefaultArgon2Params.
func NewHasher(pepper string, params Argon2Params) *Hasher {
	if params == (Argon2Params{}) {
		params = DefaultArgon2Params
	}
	return &Hasher{pepper: pepper, params: params}
}

// Hash returns an argon2id digest with a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	p := h.params
	key := argon2.IDKey([]byte(password+h.pepper), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches digest. Malformed digests are a
// mismatch, not an error, so callers have a single failure path.
func (h *Hasher) Verify(password, digest string) bool {
	if len(password) > MaxPasswordBytes {
		return false
	}
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}

	d, err := parseArgon2(digest)
	if err != nil {
		return false
	}

	computed := argon2.IDKey(
		[]byte(password+h.pepper),
		d.salt,
		d.params.Iterations,
		d.params.Memory,
		d.params.Parallelism,
		uint32(len(d.key)), // #nosec G115 - decoded key length is small
	)
	return subtle.ConstantTimeCompare(computed, d.key) == 1
}

// NeedsRehash reports whether digest was produced by another algorithm or with
// parameters different from the hasher's current ones.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	d, err := parseArgon2(digest)
	if err != nil {
		return true
	}
	return d.params.Memory != h.params.Memory ||
		d.params.Iterations != h.params.Iterations ||
		d.params.Parallelism != h.params.Parallelism ||
		uint32(len(d.key)) != h.params.KeyLength // #nosec G115
}

type argon2Digest struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

// parseArgon2 reads $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
func parseArgon2(encoded string) (argon2Digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return argon2Digest{}, errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return argon2Digest{}, errors.New("invalid hash format: not argon2id")
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return argon2Digest{}, errors.New("invalid hash format: wrong version")
	}

	var d argon2Digest
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Iterations, &d.params.Parallelism); err != nil {
		return argon2Digest{}, fmt.Errorf("invalid hash format: %w", err)
	}
	if d.params.Memory == 0 || d.params.Iterations == 0 || d.params.Parallelism == 0 {
		return argon2Digest{}, errors.New("invalid hash format: zero parameter")
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argon2Digest{}, fmt.Errorf("invalid hash format: salt: %w", err)
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return argon2Digest{}, fmt.Errorf("invalid hash format: key: %w", err)
	}
	if len(d.key) == 0 {
		return argon2Digest{}, errors.New("invalid hash format: empty key")
	}
	return d, nil
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}
