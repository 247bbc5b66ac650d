package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"drawstream/internal/canvas"
)

// DonationEvent is a normalized donation, immutable once created.
type DonationEvent struct {
	ID        string          `json:"id"`
	Donor     string          `json:"donor,omitempty"`
	Message   string          `json:"message"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp" format:"date-time"`
}

// Verdict is the gatekeeper's decision for a single message.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

// TaskKind discriminates the RenderTask payload.
type TaskKind string

const (
	// TaskPlan renders a validated Canvas-DSL document.
	TaskPlan TaskKind = "plan"
	// TaskText renders a fixed fallback text card.
	TaskText TaskKind = "text"
)

// FallbackDirective renders fixed safety text instead of a plan.
type FallbackDirective struct {
	Text        string `json:"text"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// RenderTask wraps an event plus exactly one of a plan or a fallback
// directive. Consumers switch on Kind; Plan is non-nil iff Kind == TaskPlan.
type RenderTask struct {
	Event    DonationEvent
	Kind     TaskKind
	Plan     *canvas.Document
	Fallback FallbackDirective
	NSFW     bool
}

// PlanTask builds a plan-backed task.
func PlanTask(event DonationEvent, plan *canvas.Document) RenderTask {
	return RenderTask{Event: event, Kind: TaskPlan, Plan: plan}
}

// TextTask builds a fallback-text task.
func TextTask(event DonationEvent, directive FallbackDirective, nsfw bool) RenderTask {
	return RenderTask{Event: event, Kind: TaskText, Fallback: directive, NSFW: nsfw}
}

// Caption returns the viewer-facing caption for the task.
func (t RenderTask) Caption() string {
	if t.Kind == TaskPlan && t.Plan != nil && t.Plan.Caption != "" {
		return t.Plan.Caption
	}
	return "All for you"
}

// QueueEntry is an enqueued event. Seq is the arrival sequence number and is
// the authoritative FIFO order, regardless of event timestamps.
type QueueEntry struct {
	Seq   uint64        `json:"seq"`
	Event DonationEvent `json:"event"`
}

// Phase names the renderer state machine position.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseHolding Phase = "holding"
)

// TaskSummary is the wire-facing view of a task for the control surface.
type TaskSummary struct {
	ID        string `json:"id"`
	Donor     string `json:"donor,omitempty"`
	Message   string `json:"message"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Kind      string `json:"kind"`
	NSFW      bool   `json:"nsfw,omitempty"`
}

// Summarize flattens a task for API responses.
func (t RenderTask) Summarize() TaskSummary {
	return TaskSummary{
		ID:        t.Event.ID,
		Donor:     t.Event.Donor,
		Message:   t.Event.Message,
		Amount:    t.Event.Amount.String(),
		Currency:  t.Event.Currency,
		Timestamp: t.Event.Timestamp.UTC().Format(time.RFC3339),
		Kind:      string(t.Kind),
		NSFW:      t.NSFW,
	}
}

// EntrySummary is the wire-facing view of a pending queue entry.
type EntrySummary struct {
	Seq      uint64  `json:"seq"`
	ID       string  `json:"id"`
	Donor    string  `json:"donor,omitempty"`
	Message  string  `json:"message"`
	Amount   string  `json:"amount"`
	Currency string  `json:"currency"`
	ETASec   float64 `json:"eta_sec"`
}

// Summarize flattens a queue entry; eta is filled in by the caller.
func (e QueueEntry) Summarize(etaSec float64) EntrySummary {
	return EntrySummary{
		Seq:      e.Seq,
		ID:       e.Event.ID,
		Donor:    e.Event.Donor,
		Message:  e.Event.Message,
		Amount:   e.Event.Amount.String(),
		Currency: e.Event.Currency,
		ETASec:   etaSec,
	}
}
