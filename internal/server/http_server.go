package server

import (
	"context"
	"net/http"
	"time"

	"github.com/juju/errors"
)

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it stops. A server
// stopped through Shutdown returns nil.
func StartServer(server *http.Server) error {
	logger.Infof("server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Annotate(err, "serving HTTP")
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	logger.Infof("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.Annotate(err, "shutting down HTTP server")
	}

	logger.Infof("HTTP server shutdown completed")
	return nil
}
