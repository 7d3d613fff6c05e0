package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KevinWeiss1995/GreedyPirates/metrics"
)

// adminRouter serves the operational surface: liveness, a game status
// snapshot and the Prometheus scrape endpoint.
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.state.Snapshot()); err != nil {
			s.log.Error("encode status", "err", err)
		}
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
