package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/identity"
	"github.com/Tyrowin/roomchat/internal/messages"
	"github.com/Tyrowin/roomchat/internal/rooms"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testutil"
)

const testSecret = "test-secret"

type fixture struct {
	db       *gorm.DB
	identity *identity.Service
	rooms    *rooms.Directory
	messages *messages.Log
	srv      *server.Server
	ts       *httptest.Server
}

// newFixture serves the full stack over an in-memory database. configure
// may adjust the server configuration and dependencies before start.
func newFixture(t *testing.T, configure ...func(*server.Config, *server.Deps)) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db: db,
		identity: identity.NewService(db, identity.Config{
			Secret:     testSecret,
			TokenTTL:   time.Hour,
			BcryptCost: bcrypt.MinCost,
		}),
		rooms:    rooms.NewDirectory(db),
		messages: messages.NewLog(db, nil),
	}

	cfg := server.DefaultConfig()
	cfg.JWTSecret = testSecret
	cfg.AllowedOrigins = []string{testutil.TestOrigin}
	cfg.RateLimit.Burst = 100
	deps := server.Deps{
		Identity: f.identity,
		Rooms:    f.rooms,
		Messages: f.messages,
		Metrics:  server.NewMetrics(),
	}
	for _, fn := range configure {
		fn(&cfg, &deps)
	}

	f.srv = server.New(cfg, deps)
	f.srv.StartHub()
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.ts.Close()
		if err := f.srv.Shutdown(2 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	})
	return f
}

// user registers an account and returns its id and a bearer token.
func (f *fixture) user(c *qt.C, name, email string) (string, string) {
	ctx := context.Background()
	u, err := f.identity.Register(ctx, identity.RegisterInput{Name: name, Email: email, Password: "secret1"})
	c.Assert(err, qt.IsNil)
	token, err := f.identity.Tokens().Issue(u.ID, u.Email)
	c.Assert(err, qt.IsNil)
	return u.ID, token
}

func (f *fixture) room(c *qt.C, name string) *rooms.Room {
	room, err := f.rooms.CreateRoom(context.Background(), name, 10)
	c.Assert(err, qt.IsNil)
	return room
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(c *qt.C, v interface{}) {
	c.Assert(json.Unmarshal(r.body, v), qt.IsNil, qt.Commentf("body %s", r.body))
}

func (f *fixture) do(c *qt.C, method, path, token string, body interface{}) response {
	var reader io.Reader
	if body != nil {
		raw, ok := body.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(body)
			c.Assert(err, qt.IsNil)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	c.Assert(err, qt.IsNil)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	return response{status: resp.StatusCode, header: resp.Header, body: raw}
}

// errorBody is the HTTP error envelope.
type errorBody struct {
	StatusCode int             `json:"statusCode"`
	Timestamp  string          `json:"timestamp"`
	Path       string          `json:"path"`
	Method     string          `json:"method"`
	Message    json.RawMessage `json:"message"`
	Error      string          `json:"error"`
}

func (e errorBody) text(c *qt.C) string {
	var s string
	c.Assert(json.Unmarshal(e.Message, &s), qt.IsNil, qt.Commentf("message %s", e.Message))
	return s
}

func (e errorBody) list(c *qt.C) []string {
	var s []string
	c.Assert(json.Unmarshal(e.Message, &s), qt.IsNil, qt.Commentf("message %s", e.Message))
	return s
}
