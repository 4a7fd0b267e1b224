package server

import (
	"testing"
	"time"

	"github.com/df07/render-scheduler/pkg/logging"
)

func TestWebLogger_BasicLogging(t *testing.T) {
	hub := newConsoleHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	logger := newWebLogger(logging.Nop(), hub)
	logger.Infof("frame %d started", 1)

	select {
	case msg := <-ch:
		if msg.Message != "frame 1 started" {
			t.Errorf("expected formatted message, got %q", msg.Message)
		}
		if msg.Level != "info" {
			t.Errorf("expected level info, got %q", msg.Level)
		}
		if time.Since(msg.Timestamp) > time.Second {
			t.Errorf("timestamp seems too old: %v", msg.Timestamp)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for console message")
	}
}

func TestWebLogger_Levels(t *testing.T) {
	hub := newConsoleHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	logger := newWebLogger(logging.Nop(), hub)
	logger.Warnf("pool shrinking to %d", 2)
	logger.Errorf("render failed: %v", "boom")

	wantLevels := []string{"warning", "error"}
	for i, want := range wantLevels {
		select {
		case msg := <-ch:
			if msg.Level != want {
				t.Errorf("message %d: expected level %q, got %q", i, want, msg.Level)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestWebLogger_MultipleSubscribers(t *testing.T) {
	hub := newConsoleHub()
	a, b := hub.subscribe(), hub.subscribe()
	defer hub.unsubscribe(a)
	defer hub.unsubscribe(b)

	logger := newWebLogger(logging.Nop(), hub)
	logger.Infof("broadcast message")

	for i, ch := range []chan ConsoleMessage{a, b} {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d never received the broadcast", i)
		}
	}
}

func TestWebLogger_SlowSubscriberNeverBlocksSender(t *testing.T) {
	hub := newConsoleHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	logger := newWebLogger(logging.Nop(), hub)
	for i := 0; i < 100; i++ {
		logger.Infof("message %d", i)
	}
}
