package mock

import (
	"encoding/json"
	"net/http"
)

// Handler serves the generator's payloads the way a real node agent would:
// a single GET /vram endpoint returning the current allocator state.
func Handler(g *Generator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /vram", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(g.Payload())
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
