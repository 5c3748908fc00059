package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultWorkFactor = 12
	dummySecretLength = 32

	// legacyDefaultIterations applies to pbkdf2 digests that omit the iteration count
	legacyDefaultIterations = 600000
	legacyPrefix            = "pbkdf2:"
)

// Hasher hashes and verifies passwords.
//
// New digests are bcrypt with the configured work factor. Digests in the
// "pbkdf2:<hash>:<iterations>$<salt>$<hex>" format written by the previous
// deployment still verify, and NeedsRehash reports them so they can be upgraded.
type Hasher struct {
	cost        int
	dummyDigest string
}

// NewHasher creates a Hasher. The work factor is clamped to bcrypt's valid range.
func NewHasher(workFactor int) (*Hasher, error) {
	cost := workFactor
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	h := &Hasher{cost: cost}

	secret := make([]byte, dummySecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate dummy secret: %w", err)
	}
	dummy, err := h.Hash(base64.RawStdEncoding.EncodeToString(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to compute dummy digest: %w", err)
	}
	h.dummyDigest = dummy

	return h, nil
}

// Cost returns the bcrypt cost used for new digests
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a salted bcrypt digest of password
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether password matches digest. It never fails: a malformed
// digest is simply a mismatch.
func (h *Hasher) Verify(digest, password string) bool {
	if strings.HasPrefix(digest, legacyPrefix) {
		return verifyLegacy(digest, password)
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// VerifyDummy runs a full verification against a digest no password matches.
// Use it when the account does not exist so both paths cost the same.
func (h *Hasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(h.dummyDigest), []byte(password))
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash
func (h *Hasher) NeedsRehash(digest string) bool {
	if strings.HasPrefix(digest, legacyPrefix) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// verifyLegacy checks a "pbkdf2:sha256:600000$salt$hexdigest" digest
func verifyLegacy(digest, password string) bool {
	parts := strings.SplitN(digest, "$", 3)
	if len(parts) != 3 {
		return false
	}
	method, salt, hexHash := parts[0], parts[1], parts[2]

	params := strings.Split(method, ":")
	if len(params) < 2 || len(params) > 3 || params[0] != "pbkdf2" {
		return false
	}

	var newHash func() hash.Hash
	switch params[1] {
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return false
	}

	iterations := legacyDefaultIterations
	if len(params) == 3 {
		n, err := strconv.Atoi(params[2])
		if err != nil || n <= 0 {
			return false
		}
		iterations = n
	}

	expected, err := hex.DecodeString(hexHash)
	if err != nil || len(expected) == 0 {
		return false
	}

	derived := pbkdf2.Key([]byte(password), []byte(salt), iterations, len(expected), newHash)
	return subtle.ConstantTimeCompare(derived, expected) == 1
}

// GenerateSecret returns n bytes from crypto/rand, base64url encoded without padding
func GenerateSecret(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
