// Package server exposes the Block Scheduler over HTTP: SSE progress and
// console streams, PNG snapshots of the current frame, and endpoints to
// start a render or resize the worker pool.
package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/df07/render-scheduler/pkg/blockrenderer"
	"github.com/df07/render-scheduler/pkg/logging"
	"github.com/df07/render-scheduler/pkg/renderconfig"
	"github.com/df07/render-scheduler/pkg/scheduler"
	"github.com/df07/render-scheduler/pkg/serializer"
)

// Server wires a Scheduler to the HTTP surface.
type Server struct {
	port   int
	sched  *scheduler.Scheduler
	loader *renderconfig.Loader
	ops    *serializer.Serializer
	hub    *consoleHub
}

// New creates a Server. loader supplies the file/env configuration base
// layer that per-request query parameters override.
func New(port int, loader *renderconfig.Loader, logger logging.Logger, metrics scheduler.MetricsSink) *Server {
	hub := newConsoleHub()
	factory := func() blockrenderer.Renderer {
		return blockrenderer.NewPattern(0)
	}
	return &Server{
		port:   port,
		sched:  scheduler.New(factory, newWebLogger(logger, hub), metrics),
		loader: loader,
		ops:    serializer.New(),
		hub:    hub,
	}
}

// Start registers routes and blocks serving on s.port.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir("web/static/")))
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/resize-pool", s.handleResizePool)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/snapshot.png", s.handleSnapshot)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", s.port)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}
