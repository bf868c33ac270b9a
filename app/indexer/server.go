package indexer

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type status struct {
	Ready       bool   `json:"ready"`
	LastIndexed uint64 `json:"lastIndexed"`
	Head        uint64 `json:"head"`
	Pools       int    `json:"pools"`
}

// SetupServer sets up the liveness and readiness endpoints.
func (a *App) SetupServer() {
	a.Server = &http.Server{Addr: a.Config.Addr, Handler: a.Router()}
}

func (a *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.ready.Load() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status{
			Ready:       a.ready.Load(),
			LastIndexed: a.lastIndexed.Load(),
			Head:        a.head.Load(),
			Pools:       len(a.Book.Pools()),
		})
	})).Methods("GET")
	return r
}
