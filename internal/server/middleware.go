package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/Tyrowin/roomchat/internal/identity"
)

var httpLogger = loggo.GetLogger("roomchat.http")

type contextKey int

const identityKey contextKey = iota

// withIdentity returns a copy of ctx carrying who.
func withIdentity(ctx context.Context, who *identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, who)
}

// IdentityFrom returns the identity attached by the auth middleware.
func IdentityFrom(ctx context.Context) (*identity.Identity, bool) {
	who, ok := ctx.Value(identityKey).(*identity.Identity)
	return who, ok && who != nil
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, err := s.identity.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, errors.Unauthorized) {
				s.writeError(w, r, err)
				return
			}
			httpLogger.Debugf("rejected %s %s: %v", r.Method, r.URL.Path, err)
			s.writeError(w, r, errors.Unauthorizedf("Unauthorized"))
			return
		}
		next(w, r.WithContext(withIdentity(r.Context(), who)))
	}
}

// statusRecorder captures the status code written by a handler. It keeps
// Hijack available for WebSocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.status == 0 {
		rec.status = code
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.NotSupportedf("hijacking")
	}
	rec.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// logRequests writes an access log line and request metrics for every
// routed request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := s.clock.Now().Sub(start)
		s.metrics.requestServed(r.Method, route, status, elapsed)
		httpLogger.Infof("%s %s %d %s", r.Method, r.URL.Path, status, elapsed)
	})
}

// recoverPanics turns a panicking handler into a 500 envelope.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.writeError(w, r, errors.Errorf("panic: %v", p))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

var corsAllowHeaders = strings.Join([]string{"Authorization", "Content-Type"}, ", ")

// cors answers preflight requests and decorates responses to allowed
// origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.origins.allows(origin) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

