// Package signals provides the WebSocket feed client that receives collector
// pushes from the Karuna signal gateway.
package signals

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Reconnect backoff bounds for the feed client.
const (
	// FeedBackoffInitial is the delay before the first reconnect attempt.
	FeedBackoffInitial = time.Second
	// FeedBackoffMax caps the exponential backoff between reconnect attempts.
	FeedBackoffMax = 60 * time.Second
)

// Feed is a reconnecting WebSocket client that consumes JSON-encoded Signal
// frames and pushes them into a Store. The connection is re-established with
// exponential backoff; the backoff resets after a successful connect.
type Feed struct {
	url   string
	store *Store
	dial  func(ctx context.Context, url string) (feedConn, error)
}

// feedConn is the minimal connection surface used by the feed, allowing tests
// to substitute the websocket connection.
type feedConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// NewFeed creates a feed client for the given gateway URL, delivering signals
// into store.
func NewFeed(url string, store *Store) *Feed {
	return &Feed{
		url:   url,
		store: store,
		dial: func(ctx context.Context, url string) (feedConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Run connects and consumes signal frames until ctx is cancelled. Connection
// failures and dropped connections trigger reconnects with exponential
// backoff.
func (f *Feed) Run(ctx context.Context) {
	backoff := FeedBackoffInitial
	for {
		if ctx.Err() != nil {
			slog.Info("signals.Feed: stopping", "url", f.url)
			return
		}

		conn, err := f.dial(ctx, f.url)
		if err != nil {
			slog.Warn("signals.Feed: connect failed, backing off", "url", f.url, "error", err, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = NextBackoff(backoff)
			continue
		}

		slog.Info("signals.Feed: connected", "url", f.url)
		backoff = FeedBackoffInitial
		f.consume(ctx, conn)
	}
}

// consume reads frames until the connection drops or ctx is cancelled.
func (f *Feed) consume(ctx context.Context, conn feedConn) {
	defer conn.Close()

	// Close the connection when the context is cancelled so ReadMessage
	// unblocks promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("signals.Feed: connection lost", "url", f.url, "error", err)
			}
			return
		}

		var sig models.Signal
		if err := json.Unmarshal(payload, &sig); err != nil {
			slog.Warn("signals.Feed: skipping malformed frame", "error", err)
			continue
		}
		if err := sig.Validate(); err != nil {
			slog.Warn("signals.Feed: skipping invalid signal", "error", err, "type", sig.Type)
			continue
		}
		f.store.Update(sig)
	}
}

// NextBackoff doubles the delay up to FeedBackoffMax.
func NextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > FeedBackoffMax {
		return FeedBackoffMax
	}
	return next
}

// sleepCtx waits for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
