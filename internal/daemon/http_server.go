package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/homehub/internal/history"
	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// httpServer exposes the hub's local observability endpoints: Prometheus
// metrics, a liveness probe and the recent audit history. It binds to the
// home network only; there is no auth layer.
type httpServer struct {
	server  *http.Server
	history *history.Store
}

func newHTTPServer(listen string, registry *prom.Registry, hist *history.Store) *httpServer {
	s := &httpServer{history: hist}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/history", s.handleHistory)

	s.server = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// run serves until ctx is cancelled, then drains with a short grace period.
func (s *httpServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *httpServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *httpServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		slog.Warn("History query failed", logfields.Error(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	type entryJSON struct {
		ID        string    `json:"id"`
		Kind      string    `json:"kind"`
		Bot       string    `json:"bot"`
		Recipient string    `json:"recipient"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = entryJSON{
			ID: e.ID, Kind: string(e.Kind), Bot: e.Bot,
			Recipient: e.Recipient, Body: e.Body, CreatedAt: e.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
