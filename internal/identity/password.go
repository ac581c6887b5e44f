package identity

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/juju/errors"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost used for stored credentials.
const DefaultBcryptCost = 10

// PasswordHasher hashes and checks passwords with bcrypt. Passwords are
// reduced to a fixed 44 byte SHA-256 digest first, so every accepted
// password fits under bcrypt's 72 byte input limit and no byte is ignored.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher using cost, or DefaultBcryptCost when
// cost is out of bcrypt's range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt digest of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword(prehash(password), h.cost)
	if err != nil {
		return "", errors.Annotate(err, "hashing password")
	}
	return string(digest), nil
}

// Verify reports whether password matches digest.
func (h *PasswordHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), prehash(password)) == nil
}

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}
