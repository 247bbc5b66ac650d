package renderer

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync/atomic"
	"time"

	"drawstream/internal/config"
	"drawstream/internal/domain"
)

// nominalPlanSteps is the step count assumed for queue entries whose plan has
// not been generated yet, used only for ETA estimates.
const nominalPlanSteps = 16

// QueueView is the read-only queue access the runtime needs for the overlay
// and ETA estimates.
type QueueView interface {
	Preview(n int) []domain.QueueEntry
	Len() int
}

// Snapshot is an immutable view of the runtime published every tick. Readers
// get a consistent copy; the runtime never mutates a published snapshot.
type Snapshot struct {
	Phase            domain.Phase
	Active           *domain.TaskSummary
	Caption          string
	StepIndex        int
	StepCount        int
	Progress         float64
	HoldRemainingSec float64
	QueueLen         int
	NextUp           []domain.EntrySummary
	FPS              float64
	LastError        string
}

type submission struct {
	task domain.RenderTask
	done chan struct{}
}

// playback is the in-flight task state, owned by the tick loop.
type playback struct {
	task    domain.RenderTask
	done    chan struct{}
	steps   []*preparedStep
	idx     int
	elapsed time.Duration
	base    *Surface
	holding bool
	hold    time.Duration
	holdRem time.Duration
	lastErr string
}

// Runtime drives the animation: one task at a time, ticked at the configured
// frame rate. Submit hands a task over; the returned channel closes when the
// task finishes its hold (or is skipped).
type Runtime struct {
	cfg   config.Renderer
	queue QueueView
	log   *slog.Logger

	submit chan submission
	skip   atomic.Bool
	snap   atomic.Pointer[Snapshot]
	frame  atomic.Pointer[image.RGBA]
	notify func(Snapshot)

	play     *playback
	fps      fpsMeter
	lastTick time.Time
}

// NewRuntime builds a stopped runtime; call Run to start ticking.
func NewRuntime(cfg config.Renderer, queue QueueView, notify func(Snapshot), log *slog.Logger) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		queue:  queue,
		log:    log,
		submit: make(chan submission),
		notify: notify,
	}
	idle := r.buildSnapshot()
	r.snap.Store(&idle)
	surface := NewSurface(cfg.CanvasW, cfg.CanvasH, color.RGBA{A: 0xFF})
	r.frame.Store(composeFrame(surface, idle, cfg.WindowScale))
	return r
}

// Submit hands a task to the runtime and returns a channel that closes when
// the task completes. It blocks until the runtime picks the task up.
func (r *Runtime) Submit(ctx context.Context, task domain.RenderTask) (<-chan struct{}, error) {
	done := make(chan struct{})
	select {
	case r.submit <- submission{task: task, done: done}:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Skip requests the active task end at the next tick boundary, bypassing the
// hold phase. A no-op when idle.
func (r *Runtime) Skip() {
	r.skip.Store(true)
}

// Snapshot returns the latest published view.
func (r *Runtime) Snapshot() Snapshot {
	return *r.snap.Load()
}

// Frame returns the latest composed output image.
func (r *Runtime) Frame() *image.RGBA {
	return r.frame.Load()
}

// Run ticks the runtime until ctx is cancelled. A task in flight at shutdown
// is abandoned; its done channel closes so the worker can exit.
func (r *Runtime) Run(ctx context.Context) {
	interval := time.Second / time.Duration(r.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if r.play != nil {
				close(r.play.done)
				r.play = nil
			}
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

// tick advances the state machine by one frame. Exported behavior only
// changes at tick boundaries, including skip requests.
func (r *Runtime) tick(now time.Time) {
	var dt time.Duration
	if !r.lastTick.IsZero() {
		dt = now.Sub(r.lastTick)
	}
	r.lastTick = now
	r.fps.Tick(now)

	if r.play == nil {
		select {
		case sub := <-r.submit:
			r.start(sub)
		default:
		}
	}

	if r.skip.Swap(false) && r.play != nil {
		r.finish(true)
	} else if r.play != nil {
		r.advance(dt)
	}

	snap := r.buildSnapshot()
	r.snap.Store(&snap)
	r.frame.Store(composeFrame(r.currentSurface(), snap, r.cfg.WindowScale))
	if r.notify != nil {
		r.notify(snap)
	}
}

func (r *Runtime) start(sub submission) {
	// a skip requested while nothing was active must not touch this task
	r.skip.Store(false)

	task := sub.task
	p := &playback{task: task, done: sub.done, hold: r.cfg.ShowDuration}

	bg := color.RGBA{A: 0xFF}
	if task.Kind == domain.TaskPlan && task.Plan.Canvas != nil && task.Plan.Canvas.BG != "" {
		if c, err := task.Plan.ResolveColor(task.Plan.Canvas.BG); err == nil {
			bg = c
		}
	}
	p.base = NewSurface(r.cfg.CanvasW, r.cfg.CanvasH, bg)

	switch task.Kind {
	case domain.TaskPlan:
		p.steps = compilePlan(task.Plan, r.cfg.CanvasW, r.cfg.CanvasH, r.cfg.DefaultStepDuration)
		if task.Plan.DurationSec > 0 {
			p.hold = time.Duration(task.Plan.DurationSec) * time.Second
		}
	case domain.TaskText:
		drawCard(p.base, task.Fallback.Text)
		if task.Fallback.DurationSec > 0 {
			p.hold = time.Duration(task.Fallback.DurationSec) * time.Second
		}
		p.holding = true
		p.holdRem = p.hold
	}
	r.log.Info("task started", "id", task.Event.ID, "kind", task.Kind, "steps", len(p.steps))
	r.play = p
}

func (r *Runtime) advance(dt time.Duration) {
	p := r.play
	if p.holding {
		p.holdRem -= dt
		if p.holdRem <= 0 {
			r.finish(false)
		}
		return
	}

	// a broken step is skipped, the rest of the plan still draws
	for p.idx < len(p.steps) && p.steps[p.idx].err != nil {
		s := p.steps[p.idx]
		p.lastErr = s.err.Error()
		r.log.Warn("step skipped", "id", p.task.Event.ID, "step", p.idx, "op", s.op, "error", s.err)
		p.idx++
	}
	if p.idx >= len(p.steps) {
		p.holding = true
		p.holdRem = p.hold
		return
	}

	step := p.steps[p.idx]
	p.elapsed += dt
	if p.elapsed < step.delay {
		return
	}
	if prog := stepProgress(step, p.elapsed); prog >= 1 {
		step.applyTo(p.base, len(step.pixels))
		p.idx++
		p.elapsed = 0
	}
}

func stepProgress(s *preparedStep, elapsed time.Duration) float64 {
	if s.duration <= 0 {
		return 1
	}
	return float64(elapsed-s.delay) / float64(s.duration)
}

func (r *Runtime) finish(skipped bool) {
	p := r.play
	r.log.Info("task finished", "id", p.task.Event.ID, "skipped", skipped)
	close(p.done)
	r.play = nil
}

// currentSurface composes the committed base plus the partial reveal of the
// active step.
func (r *Runtime) currentSurface() *Surface {
	if r.play == nil {
		return NewSurface(r.cfg.CanvasW, r.cfg.CanvasH, color.RGBA{A: 0xFF})
	}
	p := r.play
	if p.holding || p.idx >= len(p.steps) {
		return p.base
	}
	step := p.steps[p.idx]
	out := p.base.Clone()
	step.applyTo(out, step.revealCount(stepProgress(step, p.elapsed)))
	return out
}

func (r *Runtime) buildSnapshot() Snapshot {
	snap := Snapshot{
		Phase:    domain.PhaseIdle,
		QueueLen: 0,
		FPS:      r.fps.Rate(),
	}
	if r.queue != nil {
		snap.QueueLen = r.queue.Len()
	}

	var activeRemaining float64
	if p := r.play; p != nil {
		summary := p.task.Summarize()
		snap.Active = &summary
		snap.Caption = p.task.Caption()
		snap.StepCount = len(p.steps)
		snap.StepIndex = p.idx
		snap.LastError = p.lastErr
		if p.holding {
			snap.Phase = domain.PhaseHolding
			snap.Progress = 1
			snap.HoldRemainingSec = p.holdRem.Seconds()
			activeRemaining = p.holdRem.Seconds()
		} else {
			snap.Phase = domain.PhaseRunning
			if n := len(p.steps); n > 0 && p.idx < n {
				frac := stepProgress(p.steps[p.idx], p.elapsed)
				if frac > 1 {
					frac = 1
				} else if frac < 0 {
					frac = 0
				}
				snap.Progress = (float64(p.idx) + frac) / float64(n)
			} else if n > 0 {
				snap.Progress = 1
			}
			activeRemaining = r.remainingSec(p)
		}
	}

	if r.queue != nil {
		holdSec := r.cfg.ShowDuration.Seconds()
		nominalSec := (time.Duration(nominalPlanSteps) * r.cfg.DefaultStepDuration).Seconds()
		for i, entry := range r.queue.Preview(5) {
			eta := activeRemaining + float64(i)*(nominalSec+holdSec)
			snap.NextUp = append(snap.NextUp, entry.Summarize(eta))
		}
	}
	return snap
}

// remainingSec estimates seconds until the active task completes, hold
// included.
func (r *Runtime) remainingSec(p *playback) float64 {
	var rem time.Duration
	for i := p.idx; i < len(p.steps); i++ {
		s := p.steps[i]
		if s.err != nil {
			continue
		}
		rem += s.delay + s.duration
	}
	rem -= p.elapsed
	if rem < 0 {
		rem = 0
	}
	return (rem + p.hold).Seconds()
}

// drawCard paints a fallback text card: black background, centered lines.
func drawCard(s *Surface, text string) {
	s.Fill(color.RGBA{A: 0xFF})
	lines := wrapText(text, s.W/glyphWidth)
	startY := s.H/2 - len(lines)*lineHeight/2 + textAscent
	for i, line := range lines {
		x := s.W/2 - len(line)*glyphWidth/2
		drawText(s.Image(), x, startY+i*lineHeight, line, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	}
}
