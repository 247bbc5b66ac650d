package donation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"drawstream/internal/config"
	"drawstream/internal/domain"
)

const (
	backoffBase = time.Second
	backoffMax  = 60 * time.Second
)

// PushClient maintains the primary push-channel subscription. Listen runs
// until the context is cancelled, reconnecting with capped exponential
// backoff and jitter; delivered events go to the emit callback.
type PushClient struct {
	cfg  config.Donation
	log  *slog.Logger
	dial func(ctx context.Context, url string, header http.Header) (wsConn, error)

	// onUp is invoked whenever the subscription is (re)established, so the
	// ingestor can gate the fallback poller.
	onUp func()
}

// wsConn is the subset of the websocket connection the client needs;
// narrowed for tests.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

func dialWebsocket(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewPushClient builds a push-channel client for the configured platform.
func NewPushClient(cfg config.Donation, log *slog.Logger, onUp func()) *PushClient {
	return &PushClient{cfg: cfg, log: log, dial: dialWebsocket, onUp: onUp}
}

// Listen subscribes and forwards events until ctx is cancelled. Transport
// errors are never fatal: the client backs off and redials indefinitely.
func (c *PushClient) Listen(ctx context.Context, emit func(domain.DonationEvent)) {
	backoff := backoffBase
	for {
		err := c.runOnce(ctx, emit)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("push channel down, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (c *PushClient) runOnce(ctx context.Context, emit func(domain.DonationEvent)) error {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	header.Set("Accept", "application/json")

	conn, err := c.dial(ctx, wsURL(c.cfg.WSURL), header)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}
	defer conn.Close()

	subscribe := map[string]any{
		"command": "subscribe",
		"params":  map[string]any{"channels": []string{c.channel()}},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("push channel subscribed", "channel", c.channel())
	if c.onUp != nil {
		c.onUp()
	}

	// Reads unblock via connection close on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read push channel: %w", err)
		}
		if c.onUp != nil {
			c.onUp()
		}
		event, ok := c.parse(raw)
		if !ok {
			continue
		}
		emit(event)
	}
}

// jitter spreads a delay across ±20% so a fleet of reconnects does not align.
func jitter(backoff time.Duration) time.Duration {
	spread := int64(backoff) * 2 / 5
	return backoff - backoff/5 + time.Duration(rand.Int63n(spread+1))
}

func (c *PushClient) channel() string {
	return fmt.Sprintf("$alerts:donation_%d", c.cfg.UserID)
}

func (c *PushClient) parse(raw []byte) (domain.DonationEvent, bool) {
	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.log.Debug("push frame is not json", "error", err)
		return domain.DonationEvent{}, false
	}
	data := payload.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	if len(data) == 0 {
		return domain.DonationEvent{}, false
	}
	event, err := Normalize(data)
	if err != nil {
		c.log.Debug("push frame dropped", "error", err)
		return domain.DonationEvent{}, false
	}
	return event, true
}

func wsURL(raw string) string {
	if strings.HasPrefix(raw, "https://") {
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	if strings.HasPrefix(raw, "http://") {
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}
