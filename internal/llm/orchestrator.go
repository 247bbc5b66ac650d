// Package llm orchestrates plan generation against the external
// text-completion backend: prompt construction, bounded-timeout calls,
// response validation, retries, and the failure reason handed to the
// fallback path.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"drawstream/internal/canvas"
	"drawstream/internal/config"
	"drawstream/internal/domain"
)

const systemPrompt = `You are a pixel artist driving a %dx%d canvas.
For each donation, respond with ONLY a JSON object matching the Canvas-DSL schema:
{"version":"1.0","canvas":{"w":%d,"h":%d,"bg":"#RRGGBB"},"caption":string,
 "palette":[up to 16 hex colors],"seed":integer,
 "steps":[{"op":"rect|circle|line|polygon|pixels|text|group",...,
   "animate":{"mode":"stroke|fill|pixel_reveal","duration_ms":int,"delay_ms":int,"ease":"linear|ease_in_out"}}]}
Colors are "#RGB"/"#RRGGBB" or palette references "p0".."p15".
Draw what the donor asks for, background first, details last. No prose, no markdown.`

// ErrPlanGeneration wraps the final failure after all attempts; the worker
// degrades to the fixed fallback card when it sees this.
var ErrPlanGeneration = errors.New("plan generation failed")

// Orchestrator generates validated Canvas-DSL plans for donation events.
// It keeps no state between calls.
type Orchestrator struct {
	cfg     config.LLM
	canvasW int
	canvasH int
	client  *http.Client
	log     *slog.Logger

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration)
}

// New builds an orchestrator for the configured backend and canvas size.
func New(cfg config.LLM, canvasW, canvasH int, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		canvasW: canvasW,
		canvasH: canvasH,
		client:  &http.Client{},
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Generate calls the backend and returns a schema- and semantics-validated
// plan. Transient transport and schema failures are retried with backoff up
// to the configured attempt count; the final error carries the last reason.
func (o *Orchestrator) Generate(ctx context.Context, event domain.DonationEvent) (*canvas.Document, error) {
	attempts := o.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			o.sleep(ctx, backoffFor(attempt))
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, ctx.Err())
		}
		doc, err := o.attempt(ctx, event)
		if err == nil {
			o.log.Info("plan generated", "id", event.ID, "attempt", attempt, "steps", len(doc.Steps))
			return doc, nil
		}
		lastErr = err
		o.log.Warn("plan attempt failed", "id", event.ID, "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrPlanGeneration, attempts, lastErr)
}

func backoffFor(attempt int) time.Duration {
	return 500 * time.Millisecond << uint(attempt-2)
}

func (o *Orchestrator) attempt(ctx context.Context, event domain.DonationEvent) (*canvas.Document, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	payload := map[string]any{
		"model": o.cfg.ModelID,
		"messages": []map[string]string{
			{"role": "system", "content": fmt.Sprintf(systemPrompt, o.canvasW, o.canvasH, o.canvasW, o.canvasH)},
			{"role": "user", "content": eventSummary(event)},
		},
		"temperature":     o.cfg.Temperature,
		"max_tokens":      o.cfg.MaxTokens,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend call: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend status %d", res.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	content, err := extractContent(raw)
	if err != nil {
		return nil, err
	}
	doc, err := canvas.Parse([]byte(extractJSON(content)))
	if err != nil {
		return nil, err
	}
	if err := doc.Check(o.canvasW, o.canvasH); err != nil {
		return nil, err
	}
	return doc, nil
}

func eventSummary(event domain.DonationEvent) string {
	donor := event.Donor
	if donor == "" {
		donor = "anonymous"
	}
	return strings.Join([]string{
		"Donation summary:",
		"- donor: " + donor,
		fmt.Sprintf("- amount: %s %s", event.Amount, event.Currency),
		"- message: " + event.Message,
	}, "\n")
}

func extractContent(raw []byte) (string, error) {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("malformed backend envelope: %w", err)
	}
	if len(envelope.Choices) == 0 || envelope.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("backend returned empty content")
	}
	return envelope.Choices[0].Message.Content, nil
}

// extractJSON strips code fences and surrounding prose, keeping the
// outermost JSON object. Anything beyond that counts as a failed attempt.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
