package main

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		_, err := w.Write([]byte("ok"))
		if err != nil {
			log.Info().Err(err).Msg("failed to write healthcheck response")
		}
	})
}

// maxRequestSize limits the size of the request body. Reads past the limit
// fail, and the dispatcher reports the request as invalid.
func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
