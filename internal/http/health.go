package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type readyCheck struct {
	name string
	ping func(context.Context) error
}

func (s *Server) readyChecks() []readyCheck {
	checks := []readyCheck{{"database", s.DB.Pool.Ping}}
	if s.Redis != nil {
		checks = append(checks, readyCheck{"redis", func(ctx context.Context) error {
			return s.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}

// /readyz pings the database and, when wired, Redis.
func (s *Server) mountHealth(r chi.Router) {
	// Liveness: process is up
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		for _, c := range s.readyChecks() {
			if err := c.ping(ctx); err != nil {
				s.Log.WithError(err).WithField("dependency", c.name).Warn("readiness check failed")
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
