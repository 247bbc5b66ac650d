package server

import (
	"drawstream/internal/domain"
	"drawstream/internal/renderer"
)

// QueueStatusBody is the GET /queue payload.
type QueueStatusBody struct {
	Phase            string                `json:"phase" example:"running"`
	Active           *domain.TaskSummary   `json:"active,omitempty"`
	Caption          string                `json:"caption,omitempty" example:"All for you"`
	StepIndex        int                   `json:"step_index"`
	StepCount        int                   `json:"step_count"`
	Progress         float64               `json:"progress" example:"0.42"`
	HoldRemainingSec float64               `json:"hold_remaining_sec,omitempty"`
	QueueSize        int                   `json:"queue_size"`
	NextUp           []domain.EntrySummary `json:"next_up,omitempty"`
	FPS              float64               `json:"fps"`
	LastError        string                `json:"last_error,omitempty"`
}

func queueStatusBody(snap renderer.Snapshot) QueueStatusBody {
	return QueueStatusBody{
		Phase:            string(snap.Phase),
		Active:           snap.Active,
		Caption:          snap.Caption,
		StepIndex:        snap.StepIndex,
		StepCount:        snap.StepCount,
		Progress:         snap.Progress,
		HoldRemainingSec: snap.HoldRemainingSec,
		QueueSize:        snap.QueueLen,
		NextUp:           snap.NextUp,
		FPS:              snap.FPS,
		LastError:        snap.LastError,
	}
}

// DonateRequest is the POST /commands/donate payload.
type DonateRequest struct {
	Donor    string `json:"donor,omitempty" example:"tester"`
	Message  string `json:"message" example:"draw a red fox"`
	Amount   string `json:"amount,omitempty" example:"5.00"`
	Currency string `json:"currency,omitempty" example:"USD"`
}

// DonateBody acknowledges an injected donation.
type DonateBody struct {
	ID     string `json:"id" example:"8b0f4a3e-0f7d-4a87-9a54-2f8a4f9f1c2a"`
	Status string `json:"status" example:"accepted"`
}

// SkipBody acknowledges a skip request.
type SkipBody struct {
	Status string `json:"status" example:"ok"`
}

// ClearBody reports how many pending entries were removed.
type ClearBody struct {
	Removed int `json:"removed" example:"3"`
}
