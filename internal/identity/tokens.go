package identity

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
	"github.com/juju/errors"
)

const (
	// DefaultTokenTTL is how long an access token stays valid.
	DefaultTokenTTL = 24 * time.Hour

	tokenIssuer = "roomchat"
)

// Claims is the payload of an access token. The subject is the user id.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenManager returns a manager signing with secret. A non-positive ttl
// falls back to DefaultTokenTTL.
func NewTokenManager(secret string, ttl time.Duration, clk clock.Clock) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Issue signs a token for the given user.
func (m *TokenManager) Issue(userID, email string) (string, error) {
	now := m.clock.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Annotate(err, "signing token")
	}
	return signed, nil
}

// Verify parses token and returns its claims. Every failure satisfies
// errors.Is(err, errors.Unauthorized).
func (m *TokenManager) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Unauthorizedf("token has expired")
		}
		return nil, errors.Unauthorizedf("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, errors.Unauthorizedf("invalid token")
	}
	return claims, nil
}

// BearerToken extracts the credential from an Authorization header value.
// The "Bearer " prefix is optional and matched case-insensitively.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 6 && strings.EqualFold(header[:6], "bearer") && (len(header) == 6 || header[6] == ' ') {
		header = header[6:]
	}
	return strings.TrimSpace(header)
}
