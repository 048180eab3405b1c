package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with the timeouts every broker listener uses.
// Exchange calls sit behind bcrypt and signing, so the write timeout leaves
// room for both.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
