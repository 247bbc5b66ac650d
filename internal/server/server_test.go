package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"drawstream/internal/domain"
	"drawstream/internal/queue"
	"drawstream/internal/renderer"
	"drawstream/internal/status"
)

type fakePipeline struct {
	mu        sync.Mutex
	snap      renderer.Snapshot
	skips     int
	cleared   int
	injected  []domain.DonationEvent
	injectErr error
	events    []status.Event
}

func (f *fakePipeline) Status() renderer.Snapshot { return f.snap }

func (f *fakePipeline) Skip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips++
}

func (f *fakePipeline) Clear() int { return f.cleared }

func (f *fakePipeline) Inject(event domain.DonationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injectErr != nil {
		return f.injectErr
	}
	f.injected = append(f.injected, event)
	return nil
}

func (f *fakePipeline) Events() (<-chan status.Event, func()) {
	ch := make(chan status.Event, len(f.events)+1)
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, func() {}
}

func (f *fakePipeline) Frame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 2, 2))
}

type testServer struct {
	URL      string
	client   *http.Client
	pipeline *fakePipeline
	close    func()
}

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	pipeline := &fakePipeline{
		snap: renderer.Snapshot{Phase: domain.PhaseIdle},
	}
	handler, err := New(Config{
		Pipeline:  pipeline,
		JWTSecret: jwtSecret,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:      "http://" + ln.Addr().String(),
		client:   &http.Client{},
		pipeline: pipeline,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	payload, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, payload
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil || got["status"] != "ok" {
		t.Fatalf("body = %s", body)
	}
}

func TestQueueStatusReflectsSnapshot(t *testing.T) {
	ts := newTestServer(t, "")
	ts.pipeline.snap = renderer.Snapshot{
		Phase:     domain.PhaseRunning,
		Progress:  0.5,
		StepIndex: 2,
		StepCount: 8,
		QueueLen:  3,
		Caption:   "All for you",
	}
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/queue", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	var got QueueStatusBody
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != "running" || got.Progress != 0.5 || got.QueueSize != 3 {
		t.Fatalf("body = %+v", got)
	}
}

func TestSkipAndClear(t *testing.T) {
	ts := newTestServer(t, "")
	ts.pipeline.cleared = 4

	res, _ := doJSON(t, ts.client, http.MethodPost, ts.URL+"/queue/skip", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("skip status = %d", res.StatusCode)
	}
	if ts.pipeline.skips != 1 {
		t.Fatalf("skips = %d", ts.pipeline.skips)
	}

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/queue/clear", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", res.StatusCode)
	}
	var got ClearBody
	if err := json.Unmarshal(body, &got); err != nil || got.Removed != 4 {
		t.Fatalf("body = %s", body)
	}
}

func TestDonateInjectsEvent(t *testing.T) {
	ts := newTestServer(t, "")
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/commands/donate",
		DonateRequest{Donor: "tester", Message: "draw a fox", Amount: "5.50"}, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	var got DonateBody
	if err := json.Unmarshal(body, &got); err != nil || got.ID == "" || got.Status != "accepted" {
		t.Fatalf("body = %s", body)
	}
	if len(ts.pipeline.injected) != 1 {
		t.Fatalf("injected = %d", len(ts.pipeline.injected))
	}
	event := ts.pipeline.injected[0]
	if event.Message != "draw a fox" || event.Amount.String() != "5.5" || event.Currency != "USD" {
		t.Fatalf("event = %+v", event)
	}
}

func TestDonateRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t, "")
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/commands/donate",
		DonateRequest{Donor: "tester"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	if !bytes.Contains(body, []byte("bad_request")) {
		t.Fatalf("body = %s", body)
	}
}

func TestDonateReportsQueueFull(t *testing.T) {
	ts := newTestServer(t, "")
	ts.pipeline.injectErr = queue.ErrCapacityExceeded
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/commands/donate",
		DonateRequest{Message: "draw"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	if !bytes.Contains(body, []byte("queue_full")) {
		t.Fatalf("body = %s", body)
	}
}

func TestAuthGuardsMutatingRoutes(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, secret)

	// reads stay open
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/queue", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unauthenticated read status = %d", res.StatusCode)
	}

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/queue/skip", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated skip status = %d: %s", res.StatusCode, body)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "operator"}).
		SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/queue/skip", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated skip status = %d: %s", res.StatusCode, body)
	}

	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/queue/skip", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", res.StatusCode)
	}
}

func TestFrameServesPNG(t *testing.T) {
	ts := newTestServer(t, "")
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/frame", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got := res.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("content-type = %q", got)
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Fatalf("body is not a png (%d bytes)", len(body))
	}
}

func TestEventsStreamsStatusUpdates(t *testing.T) {
	ts := newTestServer(t, "")
	ts.pipeline.events = []status.Event{
		{Type: "status", Payload: map[string]any{"phase": "running"}},
	}
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/events", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}
	if !bytes.Contains(body, []byte("running")) {
		t.Fatalf("stream = %s", body)
	}
}
