package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
)

// routes configures the application router: health, metrics, the test page,
// the realtime endpoint, authentication and rooms.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/test", s.handleTestPage).Methods(http.MethodGet)
	r.HandleFunc("/chat", s.handleChat).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/rooms", s.requireAuth(s.handleCreateRoom)).Methods(http.MethodPost)
	r.HandleFunc("/rooms", s.requireAuth(s.handleListRooms)).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{slug}", s.requireAuth(s.handleGetRoom)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, errors.WithType(errors.Errorf("Cannot %s %s", req.Method, req.URL.Path), errors.NotFound))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, errors.WithType(errors.New("Method not allowed"), errors.MethodNotAllowed))
	})

	return s.recoverPanics(s.cors(r))
}
