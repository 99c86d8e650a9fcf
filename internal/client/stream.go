package client

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"supportchat/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	// The server pings every ~54s.
	readTimeout = 75 * time.Second
)

// StreamTarget selects the global topic or one room topic.
type StreamTarget struct {
	Global bool
	RoomID string
}

// StreamHandlers receive what a subscription produces. Handlers run on the
// subscription's goroutine, one at a time.
type StreamHandlers struct {
	OnEvent func(models.Event)
	// OnReconnect runs before every reconnect, never before the first
	// connect. Callers refetch there so nothing missed while disconnected
	// is lost; the stream reconnects even if it fails.
	OnReconnect func(ctx context.Context) error
}

// Backoff bounds the delay between reconnect attempts. It doubles after
// each failure and resets once a connection is established.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// Subscription is the handle of a running stream. Close it when the view
// that owns it goes away.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Close stops the stream and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the stream has stopped for good.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is the reason the stream gave up, nil after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe opens a WebSocket stream and keeps it open until the returned
// subscription is closed, ctx is cancelled, or the server refuses access.
func (c *Client) Subscribe(ctx context.Context, target StreamTarget, h StreamHandlers, backoff Backoff) *Subscription {
	if backoff.Min <= 0 {
		backoff.Min = defaultMinBackoff
	}
	if backoff.Max < backoff.Min {
		backoff.Max = defaultMaxBackoff
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go c.runStream(ctx, sub, target, h, backoff)
	return sub
}

func (c *Client) streamURL(target StreamTarget) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	params := url.Values{}
	if target.Global {
		params.Set("global", "true")
	} else {
		params.Set("roomId", target.RoomID)
	}
	return base + "/ws?" + params.Encode()
}

func (c *Client) runStream(ctx context.Context, sub *Subscription, target StreamTarget, h StreamHandlers, backoff Backoff) {
	defer close(sub.done)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	endpoint := c.streamURL(target)

	delay := backoff.Min
	for attempt := 0; ; attempt++ {
		if attempt > 0 && h.OnReconnect != nil {
			if err := h.OnReconnect(ctx); err != nil && ctx.Err() == nil {
				log.Printf("WARN: [Stream] Refetch before reconnect failed: %v", err)
			}
		}

		conn, resp, err := dialer.DialContext(ctx, endpoint, header)
		if err == nil {
			delay = backoff.Min
			readEvents(ctx, conn, h.OnEvent)
		} else if ctx.Err() == nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// Auth and access errors do not heal by retrying.
				sub.mu.Lock()
				sub.err = &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
				sub.mu.Unlock()
				return
			}
			log.Printf("WARN: [Stream] Connect to %s failed: %v", endpoint, err)
		}

		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if delay > backoff.Max {
			delay = backoff.Max
		}
	}
}

// readEvents forwards frames until the connection breaks or ctx ends.
func readEvents(ctx context.Context, conn *websocket.Conn, onEvent func(models.Event)) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WARN: [Stream] Connection lost: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

// jitter spreads reconnects of many clients over [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
