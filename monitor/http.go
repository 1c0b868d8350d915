package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler serves the status endpoints:
//
//	GET /healthz  plain "ok"
//	GET /stats    cycle counters
//	GET /state    last saved record, 404 before the first save
func (m *Monitor) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Stats())
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		rec, ok := m.state.Current()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no state saved yet"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
