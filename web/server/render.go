package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/df07/render-scheduler/pkg/renderconfig"
	"github.com/df07/render-scheduler/pkg/scheduler"
)

// handleStart starts a new frame from the file/env base configuration,
// overridden by any query parameters present on the request. The Start
// call itself is routed through the operation serializer so two requests
// arriving close together cannot interleave with a resize-pool call.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.parseRenderConfig(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	// The frame this starts outlives the request: blocks keep dispatching
	// against this context long after handleStart returns, so it must not
	// be r.Context() (net/http cancels that the moment ServeHTTP returns).
	result := <-s.ops.Submit(r.Context(), func(context.Context) (any, error) {
		return nil, s.sched.Start(context.Background(), cfg)
	})
	if result.Err != nil {
		http.Error(w, result.Err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "started", "width": cfg.Width, "height": cfg.Height})
}

// handleResizePool changes the worker pool size to the "n" query parameter,
// also routed through the operation serializer.
func (s *Server) handleResizePool(w http.ResponseWriter, r *http.Request) {
	n, err := parseIntParam(r.URL.Query(), "n", 0, 0, 256)
	if err != nil || n <= 0 {
		http.Error(w, "n must be a positive integer", http.StatusBadRequest)
		return
	}

	// Same reasoning as handleStart: newly-grown slots dispatch against this
	// context for the rest of the frame's lifetime, not just this request's.
	<-s.ops.Submit(r.Context(), func(context.Context) (any, error) {
		s.sched.ResizePool(context.Background(), n)
		return nil, nil
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "resized", "workers": n})
}

// handleStream serves progress and console events as Server-Sent Events
// for as long as the client stays connected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	queued := s.sched.Subscribe(scheduler.EventQueued)
	unqueued := s.sched.Subscribe(scheduler.EventUnqueued)
	progress := s.sched.Subscribe(scheduler.EventProgress)
	done := s.sched.Subscribe(scheduler.EventDone)
	console := s.hub.subscribe()
	defer s.hub.unsubscribe(console)

	for {
		select {
		case ev := <-queued:
			writeSSE(w, flusher, "queued", ev)
		case ev := <-unqueued:
			writeSSE(w, flusher, "unqueued", ev)
		case ev := <-progress:
			writeSSE(w, flusher, "progress", ev)
		case ev := <-done:
			writeSSE(w, flusher, "done", ev)
		case msg := <-console:
			writeSSE(w, flusher, "console", msg)
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// handleSnapshot encodes the current frame buffer's presentation surface as
// a PNG, optionally resized via a "scale" query parameter using
// disintegration/imaging (the scheduler's own buffer is always rendered at
// native resolution; this lets a thumbnail be requested without a second
// frame).
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	fb := s.sched.Target()
	if fb == nil {
		http.Error(w, "no frame has been started", http.StatusNotFound)
		return
	}

	img := &image.RGBA{
		Pix:    fb.Presented(),
		Stride: fb.Width * 4,
		Rect:   image.Rect(0, 0, fb.Width, fb.Height),
	}

	var out image.Image = img
	if scale, err := parseFloatParam(r.URL.Query(), "scale", 1.0, 0.05, 1.0); err == nil && scale < 1.0 {
		out = imaging.Resize(img, int(float64(fb.Width)*scale), 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// parseRenderConfig builds a renderconfig.Config from the loader's base
// layer, with any query parameters present on r overriding it field by
// field.
func (s *Server) parseRenderConfig(r *http.Request) (renderconfig.Config, error) {
	cfg := s.loader.Base()
	q := r.URL.Query()

	var err error
	if cfg.BlockSize, err = parseIntParam(q, "block_size", cfg.BlockSize, 1, 4096); err != nil {
		return renderconfig.Config{}, err
	}
	if cfg.Width, err = parseIntParam(q, "width", cfg.Width, 1, 8192); err != nil {
		return renderconfig.Config{}, err
	}
	if cfg.Height, err = parseIntParam(q, "height", cfg.Height, 1, 8192); err != nil {
		return renderconfig.Config{}, err
	}
	if cfg.AntiAlias, err = parseIntParam(q, "anti_alias", cfg.AntiAlias, 1, 8); err != nil {
		return renderconfig.Config{}, err
	}
	if v := q.Get("de_band"); v != "" {
		cfg.DeBand, err = strconv.ParseBool(v)
		if err != nil {
			return renderconfig.Config{}, fmt.Errorf("invalid de_band: %s", v)
		}
	}
	cfg.Source = "request"

	if err := cfg.Validate(); err != nil {
		return renderconfig.Config{}, err
	}
	return cfg, nil
}

func parseIntParam(values url.Values, key string, defaultValue, min, max int) (int, error) {
	value := values.Get(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, value)
	}
	if parsed < min || parsed > max {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", key, min, max, parsed)
	}
	return parsed, nil
}

func parseFloatParam(values url.Values, key string, defaultValue, min, max float64) (float64, error) {
	value := values.Get(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, value)
	}
	if parsed < min || parsed > max {
		return 0, fmt.Errorf("%s must be between %f and %f, got %f", key, min, max, parsed)
	}
	return parsed, nil
}
