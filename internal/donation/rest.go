package donation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"drawstream/internal/config"
	"drawstream/internal/domain"
)

// RESTClient fetches recent donations over request/response; it backs the
// fallback poller while the push channel is down.
type RESTClient struct {
	cfg    config.Donation
	client *http.Client
}

// NewRESTClient builds a polling client with a bounded request timeout.
func NewRESTClient(cfg config.Donation) *RESTClient {
	return &RESTClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchLatest returns up to limit most recent donations, newest last.
// Payload items that fail to normalize are skipped, not fatal.
func (c *RESTClient) FetchLatest(ctx context.Context, limit int) ([]domain.DonationEvent, error) {
	endpoint, err := url.JoinPath(c.cfg.APIBase, "donations")
	if err != nil {
		return nil, fmt.Errorf("poll url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll donations: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll donations: unexpected status %d", res.StatusCode)
	}

	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("poll donations: decode: %w", err)
	}

	events := make([]domain.DonationEvent, 0, len(payload.Data))
	for _, item := range payload.Data {
		event, err := Normalize(item)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	// Serve oldest first so arrival order tracks creation order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
