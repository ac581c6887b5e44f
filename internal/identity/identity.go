// Package identity registers accounts, verifies passwords and issues and
// checks the bearer tokens that every other surface of the service relies on.
//
// Login failures distinguish an unknown email from a wrong password. This
// leaks whether an address is registered and is accepted for this service.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/validation"
)

var logger = loggo.GetLogger("roomchat.identity")

var errEmailTaken = errors.WithType(errors.New("Email already in use"), errors.AlreadyExists)

// Identity is the authenticated principal attached to requests and realtime
// sessions.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PublicUser is the externally visible projection of an account.
type PublicUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterInput is the registration request body.
type RegisterInput struct {
	Name     string `json:"name" validate:"min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6,max=100"`
}

// LoginInput is the login request body.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AccessToken is returned by a successful login.
type AccessToken struct {
	AccessToken string `json:"access_token"`
}

// Config holds the knobs of a Service.
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
	Clock      clock.Clock
}

// Service is the identity verifier.
type Service struct {
	users    *UserRepository
	hasher   *PasswordHasher
	tokens   *TokenManager
	validate *validation.Validator
	clock    clock.Clock
}

// NewService wires a Service over db.
func NewService(db *gorm.DB, cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Service{
		users:    NewUserRepository(db),
		hasher:   NewPasswordHasher(cfg.BcryptCost),
		tokens:   NewTokenManager(cfg.Secret, cfg.TokenTTL, clk),
		validate: validation.New(),
		clock:    clk,
	}
}

// Tokens exposes the token manager, mainly for tests that need a credential
// without a login round trip.
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// Register creates an account. Validation failures satisfy errors.NotValid
// and a taken email satisfies errors.AlreadyExists.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*PublicUser, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Trace(err)
	}

	taken, err := s.users.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if taken {
		return nil, errEmailTaken
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, errors.Trace(err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Annotate(err, "generating user id")
	}
	now := s.clock.Now().UTC()
	user := &store.User{
		ID:           id.String(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// The unique index settles registrations racing past EmailExists.
	if err := s.users.Create(ctx, user); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("registered user %s", user.ID)
	return publicUser(user), nil
}

// Login checks the credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AccessToken, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, errors.Trace(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if errors.Is(err, errors.NotFound) {
		return nil, errors.Unauthorizedf("User not found")
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		logger.Debugf("password mismatch for user %s", user.ID)
		return nil, errors.Unauthorizedf("Password is incorrect")
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &AccessToken{AccessToken: token}, nil
}

// Authenticate resolves a bearer token to the identity it was issued for.
// Every failure satisfies errors.Unauthorized.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	token = BearerToken(token)
	if token == "" {
		return nil, errors.Unauthorizedf("missing token")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, errors.Trace(err)
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, errors.NotFound) {
		return nil, errors.Unauthorizedf("User not found")
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Identity{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// UserByID returns the identity of an account, or nil when no account has
// that id.
func (s *Service) UserByID(ctx context.Context, id string) (*Identity, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, errors.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Identity{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

func publicUser(u *store.User) *PublicUser {
	return &PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
