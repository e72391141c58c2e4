package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omochice/live-danmaku/internal/mockserver"
)

// adminRouter exposes the mock server controls over HTTP. The gorilla
// WebSocket endpoint is mounted at /sub for clients that go through it.
func adminRouter(srv *mockserver.Server) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"clients": srv.ClientCount()})
	})
	r.Get("/joins", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.Joins())
	})
	r.Post("/broadcast", func(w http.ResponseWriter, r *http.Request) {
		var msg map[string]any
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "body must be a JSON object", http.StatusBadRequest)
			return
		}
		if err := srv.Broadcast(msg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/online/{count}", func(w http.ResponseWriter, r *http.Request) {
		count, err := strconv.Atoi(chi.URLParam(r, "count"))
		if err != nil || count < 0 {
			http.Error(w, "count must be a non-negative integer", http.StatusBadRequest)
			return
		}
		srv.SetOnline(count)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/silent/{on}", func(w http.ResponseWriter, r *http.Request) {
		on, err := strconv.ParseBool(chi.URLParam(r, "on"))
		if err != nil {
			http.Error(w, "expected true or false", http.StatusBadRequest)
			return
		}
		srv.SetSilent(on)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/drop", func(w http.ResponseWriter, r *http.Request) {
		srv.DropAll()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/sub", srv.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
