// Package app wires the pipeline together: ingestion feeds the queue, a
// single worker drains it through the gatekeeper and the plan orchestrator,
// and the renderer plays one task at a time while the HTTP API observes and
// steers.
package app

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"drawstream/internal/canvas"
	"drawstream/internal/config"
	"drawstream/internal/domain"
	"drawstream/internal/donation"
	"drawstream/internal/gatekeeper"
	"drawstream/internal/journal"
	"drawstream/internal/llm"
	"drawstream/internal/queue"
	"drawstream/internal/renderer"
	"drawstream/internal/server"
	"drawstream/internal/status"
)

// Fallback texts shown instead of a drawing.
const (
	nsfwFallbackText = "You are too small"
	llmFallbackText  = "Unable to draw this request"
)

// generateFunc produces a validated plan for an event. Backed by
// llm.Orchestrator.Generate; swapped in tests.
type generateFunc func(ctx context.Context, event domain.DonationEvent) (*canvas.Document, error)

// App owns every component and the worker loop.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	queue    *queue.Queue
	ingestor *donation.Ingestor
	gate     *gatekeeper.Gatekeeper
	generate generateFunc
	runtime  *renderer.Runtime
	notifier *status.Notifier
	journal  *journal.Journal
}

// New builds the application from configuration. The journal is best-effort:
// a failure to open it degrades to running without persistence.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	q := queue.New(cfg.QueueMaxSize)
	gate, err := gatekeeper.NewFromFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	notifier := status.New(log)
	runtime := renderer.NewRuntime(cfg.Renderer, q, notifier.PublishSnapshot, log)
	orch := llm.New(cfg.LLM, cfg.Renderer.CanvasW, cfg.Renderer.CanvasH, log)

	a := &App{
		cfg:      cfg,
		log:      log,
		queue:    q,
		ingestor: donation.New(cfg.Donation, q, log),
		gate:     gate,
		generate: orch.Generate,
		runtime:  runtime,
		notifier: notifier,
	}
	if j, err := journal.Open(cfg.JournalPath); err != nil {
		log.Warn("journal unavailable, continuing without persistence", "error", err)
	} else {
		a.journal = j
	}
	return a, nil
}

// Run starts every component and blocks until ctx is cancelled. A task in
// flight at shutdown is abandoned, not re-queued.
func (a *App) Run(ctx context.Context) error {
	addr := net.JoinHostPort(a.cfg.API.Host, strconv.Itoa(a.cfg.API.Port))
	handler, err := server.New(server.Config{
		Pipeline:  a,
		JWTSecret: a.cfg.API.JWTSecret,
		Log:       a.log,
	})
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.runtime.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.ingestor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.workerLoop(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("control api listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.log.Error("api server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
	if a.journal != nil {
		a.journal.Close()
	}
	return err
}

// workerLoop drains the queue one donation at a time. Strict FIFO, never
// more than one task in flight.
func (a *App) workerLoop(ctx context.Context) {
	for {
		entry, err := a.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		a.recordDonation(ctx, entry.Event)

		task := a.buildTask(ctx, entry.Event)
		done, err := a.runtime.Submit(ctx, task)
		if err != nil {
			return
		}
		select {
		case <-done:
			a.recordOutcome(ctx, task, "done")
		case <-ctx.Done():
			return
		}
	}
}

// buildTask turns a dequeued donation into exactly one render task: the
// gatekeeper runs first and unsafe messages never reach the plan generator.
func (a *App) buildTask(ctx context.Context, event domain.DonationEvent) domain.RenderTask {
	verdict := a.gate.Classify(event.Message)
	if !verdict.Safe {
		a.log.Info("gatekeeper bypass", "id", event.ID, "reason", verdict.Reason)
		return domain.TextTask(event, domain.FallbackDirective{Text: nsfwFallbackText}, true)
	}

	doc, err := a.generate(ctx, event)
	if err != nil {
		a.log.Warn("falling back to text card", "id", event.ID, "error", err)
		return domain.TextTask(event, domain.FallbackDirective{Text: llmFallbackText}, false)
	}
	if doc.IsText() {
		return domain.TextTask(event, domain.FallbackDirective{
			Text:        doc.RenderText,
			DurationSec: doc.DurationSec,
		}, false)
	}
	return domain.PlanTask(event, doc)
}

func (a *App) recordDonation(ctx context.Context, event domain.DonationEvent) {
	if a.journal == nil {
		return
	}
	if err := a.journal.RecordDonation(ctx, event); err != nil {
		a.log.Warn("journal write failed", "id", event.ID, "error", err)
	}
}

func (a *App) recordOutcome(ctx context.Context, task domain.RenderTask, detail string) {
	if a.journal == nil {
		return
	}
	if task.Kind == domain.TaskText {
		detail = task.Fallback.Text
	}
	if err := a.journal.RecordOutcome(ctx, task, detail); err != nil {
		a.log.Warn("journal write failed", "id", task.Event.ID, "error", err)
	}
}

// Status implements server.Pipeline.
func (a *App) Status() renderer.Snapshot { return a.runtime.Snapshot() }

// Skip implements server.Pipeline.
func (a *App) Skip() { a.runtime.Skip() }

// Clear implements server.Pipeline.
func (a *App) Clear() int { return a.queue.Clear() }

// Inject implements server.Pipeline.
func (a *App) Inject(event domain.DonationEvent) error { return a.ingestor.Inject(event) }

// Events implements server.Pipeline.
func (a *App) Events() (<-chan status.Event, func()) { return a.notifier.Subscribe() }

// Frame implements server.Pipeline.
func (a *App) Frame() *image.RGBA { return a.runtime.Frame() }
