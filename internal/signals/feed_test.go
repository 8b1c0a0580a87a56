package signals

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

func TestNextBackoff(t *testing.T) {
	if got := NextBackoff(FeedBackoffInitial); got != 2*time.Second {
		t.Errorf("NextBackoff(1s) = %v, want 2s", got)
	}
	if got := NextBackoff(40 * time.Second); got != FeedBackoffMax {
		t.Errorf("NextBackoff(40s) = %v, want cap %v", got, FeedBackoffMax)
	}
	if got := NextBackoff(FeedBackoffMax); got != FeedBackoffMax {
		t.Errorf("NextBackoff at cap = %v, want %v", got, FeedBackoffMax)
	}
}

// scriptedConn replays a fixed set of frames and then fails the next read.
type scriptedConn struct {
	frames [][]byte
	closed chan struct{}
}

func newScriptedConn(frames [][]byte) *scriptedConn {
	return &scriptedConn{frames: frames, closed: make(chan struct{})}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		return 0, nil, io.EOF
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return 1, frame, nil
}

func (c *scriptedConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func TestFeedConsumeDeliversValidFrames(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	valid, _ := json.Marshal(models.Signal{
		Type:      models.SignalTypeSteps,
		Timestamp: now,
		Value:     map[string]any{"count": 500.0},
	})
	missingTimestamp, _ := json.Marshal(models.Signal{Type: models.SignalTypeWeather})
	conn := newScriptedConn([][]byte{
		valid,
		[]byte("{not json"),
		missingTimestamp,
	})

	feed := NewFeed("ws://gateway/signals", store)
	feed.consume(context.Background(), conn)

	if store.Len() != 1 {
		t.Fatalf("store holds %d signals, want 1", store.Len())
	}
	sig, ok := store.Get(models.SignalTypeSteps)
	if !ok || sig.Value["count"] != 500.0 {
		t.Errorf("valid frame not delivered: %+v", sig)
	}
	select {
	case <-conn.closed:
	default:
		t.Error("connection not closed after consume returned")
	}
}

func TestFeedRunReconnectsAndStops(t *testing.T) {
	store := NewStore()
	feed := NewFeed("ws://gateway/signals", store)

	dials := 0
	feed.dial = func(ctx context.Context, url string) (feedConn, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		// Second attempt succeeds, delivers one frame, then drops.
		payload, _ := json.Marshal(models.Signal{
			Type:      models.SignalTypeWellbeing,
			Timestamp: time.Now(),
		})
		return newScriptedConn([][]byte{payload}), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for store.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("signal never arrived through the feed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	if dials < 2 {
		t.Errorf("expected a reconnect after the failed dial, got %d dials", dials)
	}
}
