package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/nasa-jpl/h7dma/dmacfg"
	"github.com/nasa-jpl/h7dma/dmahttp"
	"github.com/nasa-jpl/h7dma/generichttp"
	"github.com/nasa-jpl/h7dma/server/middleware/locker"
)

// BuildMux mounts an HTTP wrapper for every node of the bench under its
// endpoint.  The mux serves a special route, /endpoints, which returns every
// mounted route as JSON.
func BuildMux(b *dmacfg.Bench) chi.Router {
	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, node := range b.Nodes {
		var httper *dmahttp.HTTPWrapper
		if node.Channel != nil {
			httper = dmahttp.NewChannelWrapper(node.Channel, node.Bus)
		} else {
			httper = dmahttp.NewHTTPWrapper(node.Stream, node.Bus)
		}

		// prepare the URL, "uart2/tx" => "/uart2/tx"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
