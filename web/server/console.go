package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/df07/render-scheduler/pkg/logging"
)

// ConsoleMessage is one log line relayed to a connected browser over the
// console SSE stream.
type ConsoleMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // "info", "warning", "error"
}

// consoleHub fans out log lines to every currently connected stream
// subscriber, non-blocking, so a slow or disconnected browser never stalls
// the scheduler goroutine producing the logs.
type consoleHub struct {
	mu   sync.Mutex
	subs map[chan ConsoleMessage]struct{}
}

func newConsoleHub() *consoleHub {
	return &consoleHub{subs: make(map[chan ConsoleMessage]struct{})}
}

func (h *consoleHub) subscribe() chan ConsoleMessage {
	ch := make(chan ConsoleMessage, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *consoleHub) unsubscribe(ch chan ConsoleMessage) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *consoleHub) broadcast(msg ConsoleMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			// Subscriber backed up: drop rather than block the scheduler.
		}
	}
}

// webLogger implements logging.Logger by writing through to a base logger
// (process logs) and broadcasting the same line to the console hub.
type webLogger struct {
	base logging.Logger
	hub  *consoleHub
}

func newWebLogger(base logging.Logger, hub *consoleHub) *webLogger {
	if base == nil {
		base = logging.Nop()
	}
	return &webLogger{base: base, hub: hub}
}

func (wl *webLogger) emit(level string, format string, args ...interface{}) {
	switch level {
	case "warning":
		wl.base.Warnf(format, args...)
	case "error":
		wl.base.Errorf(format, args...)
	default:
		wl.base.Infof(format, args...)
	}
	wl.hub.broadcast(ConsoleMessage{Message: fmt.Sprintf(format, args...), Timestamp: time.Now(), Level: level})
}

func (wl *webLogger) Printf(format string, args ...interface{}) { wl.emit("info", format, args...) }
func (wl *webLogger) Infof(format string, args ...interface{})  { wl.emit("info", format, args...) }
func (wl *webLogger) Warnf(format string, args ...interface{})  { wl.emit("warning", format, args...) }
func (wl *webLogger) Errorf(format string, args ...interface{}) { wl.emit("error", format, args...) }
