package donation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"drawstream/internal/config"
	"drawstream/internal/domain"
	"drawstream/internal/queue"
)

const (
	seenCacheSize = 256
	seenCacheTTL  = 15 * time.Minute
	pollBatch     = 10
)

// Ingestor coordinates the push channel with the fallback poller. Both paths
// funnel through Accept, which de-duplicates by event id and enqueues each
// event exactly once; the first producer to deliver an id wins its FIFO
// position.
type Ingestor struct {
	cfg   config.Donation
	queue *queue.Queue
	log   *slog.Logger
	push  *PushClient
	rest  *RESTClient

	startAt time.Time

	// mu spans the dedup check-then-add in Inject and guards pushAlive.
	mu        sync.Mutex
	seen      *expirable.LRU[string, struct{}]
	pushAlive time.Time
}

// New builds an ingestor feeding the given queue.
func New(cfg config.Donation, q *queue.Queue, log *slog.Logger) *Ingestor {
	ing := &Ingestor{
		cfg:     cfg,
		queue:   q,
		log:     log,
		rest:    NewRESTClient(cfg),
		seen:    expirable.NewLRU[string, struct{}](seenCacheSize, nil, seenCacheTTL),
		startAt: time.Now().UTC(),
	}
	ing.push = NewPushClient(cfg, log, ing.markPushAlive)
	return ing
}

// Run starts both ingestion paths and blocks until ctx is cancelled. The
// layer is never fatal: it degrades to polling-only while the push channel
// is down and keeps trying to restore it.
func (i *Ingestor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if i.cfg.WSURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.push.Listen(ctx, i.Accept)
		}()
	}
	if i.cfg.APIBase != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.pollLoop(ctx)
		}()
	}
	wg.Wait()
}

// Accept applies the startup cutoff and the shared dedup before enqueueing.
// Safe for concurrent use by both producers; enqueue failures are logged and
// swallowed since producers cannot do anything about them.
func (i *Ingestor) Accept(event domain.DonationEvent) {
	if event.Timestamp.Before(i.startAt) {
		// Polling returns history on startup; never replay it.
		return
	}
	if err := i.Inject(event); err != nil {
		if errors.Is(err, queue.ErrCapacityExceeded) {
			i.log.Warn("queue full, donation dropped", "id", event.ID, "donor", event.Donor)
			return
		}
		i.log.Error("enqueue failed", "id", event.ID, "error", err)
	}
}

// Inject enqueues an event through the shared dedup, bypassing the startup
// cutoff. Used by the manual-donation path, which wants the enqueue error
// surfaced. Duplicates are dropped silently.
func (i *Ingestor) Inject(event domain.DonationEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seen.Contains(event.ID) {
		return nil
	}
	i.seen.Add(event.ID, struct{}{})
	if _, err := i.queue.Enqueue(event); err != nil {
		return err
	}
	i.log.Info("donation accepted", "id", event.ID, "donor", event.Donor, "amount", event.Amount.String(), "currency", event.Currency)
	return nil
}

func (i *Ingestor) markPushAlive() {
	i.mu.Lock()
	i.pushAlive = time.Now()
	i.mu.Unlock()
}

func (i *Ingestor) pushDownFor() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pushAlive.IsZero() {
		return time.Since(i.startAt)
	}
	return time.Since(i.pushAlive)
}

// pollLoop ticks at the configured interval but only fetches while the push
// channel has been down longer than the grace threshold.
func (i *Ingestor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if i.cfg.WSURL != "" && i.pushDownFor() < i.cfg.PollGrace {
			continue
		}
		events, err := i.rest.FetchLatest(ctx, pollBatch)
		if err != nil {
			if ctx.Err() == nil {
				i.log.Warn("poll failed", "error", err)
			}
			continue
		}
		for _, event := range events {
			i.Accept(event)
		}
	}
}
