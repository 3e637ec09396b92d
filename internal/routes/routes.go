package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kapilverma1997/ichat/internal/handlers"
	"github.com/kapilverma1997/ichat/internal/metrics"
)

func SetupRoutes(r *chi.Mux, ws *handlers.WS) {
	// Health check (no middleware needed)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for realtime delivery
	r.Get("/ws", ws.Handle)
}
