package identity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/testutil"
	"github.com/Tyrowin/roomchat/internal/validation"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *identity.Service
	clock *testclock.Clock
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	clk := testclock.NewClock(epoch)
	db := testutil.NewDB(t)
	return &fixture{
		svc: identity.NewService(db, identity.Config{
			Secret:     "test-secret",
			TokenTTL:   time.Hour,
			BcryptCost: bcrypt.MinCost,
			Clock:      clk,
		}),
		clock: clk,
		ctx:   context.Background(),
	}
}

func (f *fixture) register(c *qt.C, name, email, password string) *identity.PublicUser {
	user, err := f.svc.Register(f.ctx, identity.RegisterInput{Name: name, Email: email, Password: password})
	c.Assert(err, qt.IsNil)
	return user
}

func TestRegisterReturnsPublicProjection(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)

	user := f.register(c, "Ann", "ann@example.com", "secret1")
	c.Assert(user.ID, qt.Not(qt.Equals), "")
	c.Assert(user.Name, qt.Equals, "Ann")
	c.Assert(user.Email, qt.Equals, "ann@example.com")
	c.Assert(user.CreatedAt.Equal(epoch), qt.IsTrue)

	body, err := json.Marshal(user)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Not(qt.Contains), "secret1")
	c.Assert(string(body), qt.Not(qt.Contains), "password")
}

func TestRegisterStoresHashNotPlaintext(t *testing.T) {
	c := qt.New(t)
	db := testutil.NewDB(t)
	svc := identity.NewService(db, identity.Config{Secret: "s", BcryptCost: bcrypt.MinCost})

	user, err := svc.Register(context.Background(), identity.RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	c.Assert(err, qt.IsNil)

	var stored store.User
	c.Assert(db.First(&stored, "id = ?", user.ID).Error, qt.IsNil)
	c.Assert(stored.PasswordHash, qt.Not(qt.Equals), "secret1")
	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	c.Assert(err, qt.IsNil)
	c.Assert(cost, qt.Equals, bcrypt.MinCost)
	c.Assert(identity.NewPasswordHasher(bcrypt.MinCost).Verify("secret1", stored.PasswordHash), qt.IsTrue)
}

func TestRegisterTwiceWithSameEmailConflicts(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)

	f.register(c, "Ann", "ann@example.com", "secret1")
	_, err := f.svc.Register(f.ctx, identity.RegisterInput{Name: "Someone Else", Email: "ANN@example.com ", Password: "different"})
	c.Assert(errors.Is(err, errors.AlreadyExists), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "Email already in use")
}

func TestRegisterValidatesAllFields(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)

	_, err := f.svc.Register(f.ctx, identity.RegisterInput{Name: "A", Email: "not-an-email", Password: "123"})
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
	messages, ok := validation.Messages(err)
	c.Assert(ok, qt.IsTrue)
	c.Assert(messages, qt.HasLen, 3)
}

func TestLogin(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	user := f.register(c, "Ann", "ann@example.com", "secret1")

	c.Run("success", func(c *qt.C) {
		token, err := f.svc.Login(f.ctx, identity.LoginInput{Email: "ann@example.com", Password: "secret1"})
		c.Assert(err, qt.IsNil)
		c.Assert(token.AccessToken, qt.Not(qt.Equals), "")

		who, err := f.svc.Authenticate(f.ctx, token.AccessToken)
		c.Assert(err, qt.IsNil)
		c.Assert(who, qt.DeepEquals, &identity.Identity{ID: user.ID, Name: "Ann", Email: "ann@example.com"})
	})

	c.Run("unknown email", func(c *qt.C) {
		_, err := f.svc.Login(f.ctx, identity.LoginInput{Email: "bob@example.com", Password: "secret1"})
		c.Assert(errors.Is(err, errors.Unauthorized), qt.IsTrue)
		c.Assert(err, qt.ErrorMatches, "User not found")
	})

	c.Run("wrong password", func(c *qt.C) {
		_, err := f.svc.Login(f.ctx, identity.LoginInput{Email: "ann@example.com", Password: "wrong-password"})
		c.Assert(errors.Is(err, errors.Unauthorized), qt.IsTrue)
		c.Assert(err, qt.ErrorMatches, "Password is incorrect")
	})
}

func TestAuthenticateAcceptsBearerPrefix(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	user := f.register(c, "Ann", "ann@example.com", "secret1")

	token, err := f.svc.Tokens().Issue(user.ID, user.Email)
	c.Assert(err, qt.IsNil)

	who, err := f.svc.Authenticate(f.ctx, "Bearer "+token)
	c.Assert(err, qt.IsNil)
	c.Assert(who.ID, qt.Equals, user.ID)
}

func TestAuthenticateRejects(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	user := f.register(c, "Ann", "ann@example.com", "secret1")

	other := identity.NewTokenManager("another-secret", time.Hour, f.clock)
	forged, err := other.Issue(user.ID, user.Email)
	c.Assert(err, qt.IsNil)

	orphan, err := f.svc.Tokens().Issue("no-such-user", "ghost@example.com")
	c.Assert(err, qt.IsNil)

	tests := []struct {
		about   string
		token   string
		message string
	}{
		{about: "empty token", token: "", message: "missing token"},
		{about: "bare prefix", token: "Bearer ", message: "missing token"},
		{about: "garbage", token: "abc.def.ghi", message: "invalid token"},
		{about: "wrong signing key", token: forged, message: "invalid token"},
		{about: "deleted user", token: orphan, message: "User not found"},
	}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			_, err := f.svc.Authenticate(f.ctx, test.token)
			c.Assert(errors.Is(err, errors.Unauthorized), qt.IsTrue)
			c.Assert(err, qt.ErrorMatches, test.message)
		})
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	user := f.register(c, "Ann", "ann@example.com", "secret1")

	token, err := f.svc.Tokens().Issue(user.ID, user.Email)
	c.Assert(err, qt.IsNil)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Authenticate(f.ctx, token)
	c.Assert(errors.Is(err, errors.Unauthorized), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "token has expired")
}

func TestRegisterAndLoginWithLongPasswords(t *testing.T) {
	passwords := []struct {
		about    string
		password string
	}{
		{"100 ascii characters", strings.Repeat("p", 100)},
		{"100 two byte characters", strings.Repeat("ü", 100)},
		{"three byte characters past 72 bytes", strings.Repeat("€", 30)},
	}
	for i, test := range passwords {
		t.Run(test.about, func(t *testing.T) {
			c := qt.New(t)
			f := newFixture(t)
			email := fmt.Sprintf("user%d@example.com", i)
			f.register(c, "Ann", email, test.password)

			token, err := f.svc.Login(f.ctx, identity.LoginInput{Email: email, Password: test.password})
			c.Assert(err, qt.IsNil)
			c.Assert(token.AccessToken, qt.Not(qt.Equals), "")
		})
	}
}

func TestUserByID(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t)
	user := f.register(c, "Ann", "ann@example.com", "secret1")

	found, err := f.svc.UserByID(f.ctx, user.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(*found, qt.Equals, identity.Identity{ID: user.ID, Name: "Ann", Email: "ann@example.com"})

	body, err := json.Marshal(found)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Not(qt.Contains), "createdAt")

	missing, err := f.svc.UserByID(f.ctx, "nope")
	c.Assert(err, qt.IsNil)
	c.Assert(missing, qt.IsNil)
}

func TestBearerToken(t *testing.T) {
	c := qt.New(t)
	c.Assert(identity.BearerToken("Bearer abc"), qt.Equals, "abc")
	c.Assert(identity.BearerToken("bearer abc"), qt.Equals, "abc")
	c.Assert(identity.BearerToken("  abc  "), qt.Equals, "abc")
	c.Assert(identity.BearerToken(""), qt.Equals, "")
}

func TestPasswordHasher(t *testing.T) {
	c := qt.New(t)
	h := identity.NewPasswordHasher(bcrypt.MinCost)

	digest, err := h.Hash("secret1")
	c.Assert(err, qt.IsNil)
	c.Assert(h.Verify("secret1", digest), qt.IsTrue)
	c.Assert(h.Verify("secret2", digest), qt.IsFalse)

	again, err := h.Hash("secret1")
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.Not(qt.Equals), digest)
}
