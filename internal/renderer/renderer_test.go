package renderer

import (
	"context"
	"image/color"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"drawstream/internal/canvas"
	"drawstream/internal/config"
	"drawstream/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRendererConfig() config.Renderer {
	return config.Renderer{
		CanvasW:             8,
		CanvasH:             8,
		WindowScale:         2,
		FrameRate:           60,
		DefaultStepDuration: 100 * time.Millisecond,
		ShowDuration:        200 * time.Millisecond,
	}
}

func planDoc(steps ...canvas.Step) *canvas.Document {
	return &canvas.Document{
		Version: "1.0",
		Canvas:  &canvas.Spec{W: 8, H: 8, BG: "#000000"},
		Steps:   steps,
	}
}

func rectStep(fill, outline string, a *canvas.Animation) canvas.Step {
	return canvas.Step{Rect: &canvas.RectStep{X: 1, Y: 1, W: 4, H: 3, Fill: fill, Outline: outline, Animate: a}}
}

func planEvent(id string) domain.DonationEvent {
	return domain.DonationEvent{
		ID:        id,
		Donor:     "tester",
		Message:   "draw",
		Amount:    decimal.NewFromInt(5),
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}
}

type fakeQueue struct {
	entries []domain.QueueEntry
}

func (f *fakeQueue) Preview(n int) []domain.QueueEntry {
	if n > len(f.entries) {
		n = len(f.entries)
	}
	return f.entries[:n]
}

func (f *fakeQueue) Len() int { return len(f.entries) }

func TestSurfaceSetClipsOutOfBounds(t *testing.T) {
	s := NewSurface(4, 4, color.RGBA{A: 0xFF})
	red := color.RGBA{R: 0xFF, A: 0xFF}
	s.Set(-1, 0, red)
	s.Set(0, 4, red)
	s.Set(2, 2, red)
	if got := s.At(2, 2); got != red {
		t.Fatalf("pixel = %v", got)
	}
	if got := s.At(-1, 0); got != (color.RGBA{}) {
		t.Fatalf("out-of-bounds read = %v", got)
	}
}

func TestSurfaceUpscaleKeepsHardEdges(t *testing.T) {
	s := NewSurface(2, 2, color.RGBA{A: 0xFF})
	red := color.RGBA{R: 0xFF, A: 0xFF}
	s.Set(0, 0, red)
	up := s.Upscale(3)
	if up.Bounds().Dx() != 6 || up.Bounds().Dy() != 6 {
		t.Fatalf("bounds = %v", up.Bounds())
	}
	if got := up.RGBAAt(2, 2); got != red {
		t.Fatalf("upscaled pixel = %v", got)
	}
	if got := up.RGBAAt(3, 3); got == red {
		t.Fatalf("edge bled into neighbor quadrant")
	}
}

func TestCompileFillIsScanlineOrdered(t *testing.T) {
	doc := planDoc(rectStep("#ff0000", "", nil))
	steps := compilePlan(doc, 8, 8, 100*time.Millisecond)
	if len(steps) != 1 || steps[0].err != nil {
		t.Fatalf("compile: %+v", steps)
	}
	px := steps[0].pixels
	if len(px) != 4*3 {
		t.Fatalf("pixel count = %d", len(px))
	}
	if px[0].X != 1 || px[0].Y != 1 {
		t.Fatalf("first pixel = %d,%d", px[0].X, px[0].Y)
	}
	for i := 1; i < len(px); i++ {
		if px[i].Y < px[i-1].Y {
			t.Fatalf("rows not monotonic at %d", i)
		}
	}
}

func TestCompileStrokeTracesPerimeterFirst(t *testing.T) {
	a := &canvas.Animation{Mode: canvas.ModeStroke}
	doc := planDoc(rectStep("#00ff00", "#ff0000", a))
	steps := compilePlan(doc, 8, 8, 100*time.Millisecond)
	px := steps[0].pixels

	red := color.RGBA{R: 0xFF, A: 0xFF}
	if px[0] != (pixel{X: 1, Y: 1, C: red}) {
		t.Fatalf("stroke starts at %+v", px[0])
	}
	// full perimeter of a 4x3 rect is 10 pixels; fill comes after
	for i := 0; i < 10; i++ {
		if px[i].C != red {
			t.Fatalf("pixel %d is fill-colored before the outline finished", i)
		}
	}
}

func TestCompilePixelRevealShuffleIsSeedDeterministic(t *testing.T) {
	seed := int64(42)
	points := make([][2]int, 0, 16)
	for i := 0; i < 16; i++ {
		points = append(points, [2]int{i % 8, i / 8})
	}
	step := canvas.Step{Pixels: &canvas.PixelsStep{
		Points:  points,
		Color:   "#ffffff",
		Animate: &canvas.Animation{Mode: canvas.ModePixelReveal},
	}}

	mk := func(s *int64) []pixel {
		doc := planDoc(step)
		doc.Seed = s
		return compilePlan(doc, 8, 8, time.Millisecond)[0].pixels
	}
	a, b := mk(&seed), mk(&seed)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different order at %d", i)
		}
	}
	unseeded := mk(nil)
	for i, pt := range points {
		if unseeded[i].X != pt[0] || unseeded[i].Y != pt[1] {
			t.Fatalf("unseeded reveal reordered point %d", i)
		}
	}
}

func TestStepDurationPrecedence(t *testing.T) {
	def := 700 * time.Millisecond
	cases := []struct {
		name string
		a    *canvas.Animation
		want time.Duration
	}{
		{"explicit duration wins", &canvas.Animation{DurationMs: 250, SpeedPxPerS: 10}, 250 * time.Millisecond},
		{"speed over pixel count", &canvas.Animation{SpeedPxPerS: 50}, 2 * time.Second},
		{"default fallback", nil, def},
	}
	for _, tc := range cases {
		if got := stepDuration(tc.a, 100, def); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLinePixelsFollowTravelOrder(t *testing.T) {
	doc := planDoc()
	px, err := linePixels(doc, &canvas.LineStep{X1: 0, Y1: 0, X2: 3, Y2: 3, Color: "#ffffff"})
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	if len(px) != 4 {
		t.Fatalf("pixel count = %d", len(px))
	}
	for i, p := range px {
		if p.X != i || p.Y != i {
			t.Fatalf("pixel %d = %d,%d", i, p.X, p.Y)
		}
	}
}

func TestPolygonFillStaysInsideTriangle(t *testing.T) {
	doc := planDoc()
	px, err := polygonPixels(doc, &canvas.PolygonStep{
		Points: [][2]int{{0, 0}, {6, 0}, {3, 5}},
		Fill:   "#ffffff",
	}, nil)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	if len(px) == 0 {
		t.Fatal("empty fill")
	}
	for _, p := range px {
		if p.Y < 0 || p.Y > 5 || p.X < 0 || p.X > 6 {
			t.Fatalf("pixel %d,%d outside bounding box", p.X, p.Y)
		}
	}
}

func newTestRuntime(t *testing.T, q QueueView) *Runtime {
	t.Helper()
	return NewRuntime(testRendererConfig(), q, nil, testLogger())
}

// drive advances the runtime one tick at the given wall offset.
func drive(r *Runtime, base time.Time, offset time.Duration) {
	r.tick(base.Add(offset))
}

func TestRuntimePlanLifecycle(t *testing.T) {
	r := newTestRuntime(t, &fakeQueue{})
	doc := planDoc(rectStep("#ff0000", "", &canvas.Animation{Mode: canvas.ModeFill, DurationMs: 1000}))
	task := domain.PlanTask(planEvent("run-1"), doc)

	go func() {
		if _, err := r.Submit(context.Background(), task); err != nil {
			t.Errorf("submit: %v", err)
		}
	}()

	base := time.Now()
	for i := 0; r.Snapshot().Phase == domain.PhaseIdle && i < 100; i++ {
		drive(r, base, time.Duration(i)*time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	if r.Snapshot().Phase != domain.PhaseRunning {
		t.Fatalf("phase = %s, want running", r.Snapshot().Phase)
	}

	// half the step duration in: partial reveal, progress strictly inside (0,1)
	drive(r, base, 500*time.Millisecond)
	snap := r.Snapshot()
	if snap.Progress <= 0 || snap.Progress >= 1 {
		t.Fatalf("mid-step progress = %v", snap.Progress)
	}

	// past the step duration: committed, next tick holds
	drive(r, base, 1600*time.Millisecond)
	drive(r, base, 1610*time.Millisecond)
	if got := r.Snapshot().Phase; got != domain.PhaseHolding {
		t.Fatalf("phase = %s, want holding", got)
	}

	// the surface now carries the committed rect
	if got := r.play.base.At(1, 1); got != (color.RGBA{R: 0xFF, A: 0xFF}) {
		t.Fatalf("committed pixel = %v", got)
	}

	// hold expires
	drive(r, base, 2000*time.Millisecond)
	if got := r.Snapshot().Phase; got != domain.PhaseIdle {
		t.Fatalf("phase = %s, want idle after hold", got)
	}
}

func TestRuntimeSkipBypassesHold(t *testing.T) {
	r := newTestRuntime(t, &fakeQueue{})
	doc := planDoc(rectStep("#ff0000", "", &canvas.Animation{Mode: canvas.ModeFill, DurationMs: 10_000}))
	task := domain.PlanTask(planEvent("skip-1"), doc)

	var done <-chan struct{}
	ready := make(chan struct{})
	go func() {
		d, err := r.Submit(context.Background(), task)
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done = d
		close(ready)
	}()

	base := time.Now()
	for i := 0; r.Snapshot().Phase == domain.PhaseIdle && i < 100; i++ {
		drive(r, base, time.Duration(i)*time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	<-ready

	r.Skip()
	select {
	case <-done:
		t.Fatal("done closed before the tick boundary")
	default:
	}

	drive(r, base, 200*time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after skip tick")
	}
	if got := r.Snapshot().Phase; got != domain.PhaseIdle {
		t.Fatalf("phase = %s, want idle", got)
	}
}

func TestRuntimeStaleSkipDoesNotCancelNextTask(t *testing.T) {
	r := newTestRuntime(t, &fakeQueue{})
	doc := planDoc(rectStep("#ff0000", "", &canvas.Animation{Mode: canvas.ModeFill, DurationMs: 10_000}))
	task := domain.PlanTask(planEvent("stale-1"), doc)

	var done <-chan struct{}
	ready := make(chan struct{})
	go func() {
		d, err := r.Submit(context.Background(), task)
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done = d
		close(ready)
	}()

	// skip before every tick: whichever tick picks the task up must not
	// consume the stale request against it
	base := time.Now()
	for i := 0; r.Snapshot().Phase == domain.PhaseIdle && i < 100; i++ {
		r.Skip()
		drive(r, base, time.Duration(i)*time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	<-ready

	if got := r.Snapshot().Phase; got != domain.PhaseRunning {
		t.Fatalf("phase = %s, want running", got)
	}
	select {
	case <-done:
		t.Fatal("stale skip cancelled a task the operator never saw")
	default:
	}
}

func TestRuntimePlanHoldHonorsDocumentDuration(t *testing.T) {
	r := newTestRuntime(t, &fakeQueue{})
	doc := planDoc(rectStep("#ff0000", "", &canvas.Animation{Mode: canvas.ModeFill, DurationMs: 10}))
	doc.DurationSec = 5
	task := domain.PlanTask(planEvent("hold-1"), doc)

	go r.Submit(context.Background(), task)
	base := time.Now()
	for i := 0; r.Snapshot().Phase == domain.PhaseIdle && i < 100; i++ {
		drive(r, base, time.Duration(i)*time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	drive(r, base, 200*time.Millisecond)
	drive(r, base, 210*time.Millisecond)

	snap := r.Snapshot()
	if snap.Phase != domain.PhaseHolding {
		t.Fatalf("phase = %s, want holding", snap.Phase)
	}
	if snap.HoldRemainingSec <= testRendererConfig().ShowDuration.Seconds() {
		t.Fatalf("hold remaining = %v, want the document override, not the default", snap.HoldRemainingSec)
	}
}

func TestRuntimeTextTaskHoldsForDirective(t *testing.T) {
	r := newTestRuntime(t, &fakeQueue{})
	task := domain.TextTask(planEvent("text-1"), domain.FallbackDirective{Text: "You are too small", DurationSec: 1}, true)

	go r.Submit(context.Background(), task)
	base := time.Now()
	for i := 0; r.Snapshot().Phase == domain.PhaseIdle && i < 100; i++ {
		drive(r, base, time.Duration(i)*time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	snap := r.Snapshot()
	if snap.Phase != domain.PhaseHolding {
		t.Fatalf("phase = %s, want holding", snap.Phase)
	}
	if snap.HoldRemainingSec <= 0 || snap.HoldRemainingSec > 1 {
		t.Fatalf("hold remaining = %v", snap.HoldRemainingSec)
	}
	if snap.Active == nil || !snap.Active.NSFW {
		t.Fatalf("active summary = %+v", snap.Active)
	}
}

func TestRuntimeSkipsBrokenStepsAndKeepsDrawing(t *testing.T) {
	// bypasses Check on purpose: the runtime must tolerate a step that fails
	// to compile and still draw the rest
	doc := planDoc(
		canvas.Step{Rect: &canvas.RectStep{X: 0, Y: 0, W: 2, H: 2, Fill: "p9"}},
		rectStep("#ff0000", "", &canvas.Animation{DurationMs: 10}),
	)
	r := newTestRuntime(t, &fakeQueue{})
	task := domain.PlanTask(planEvent("broken-1"), doc)

	go r.Submit(context.Background(), task)
	base := time.Now()
	for i := 0; r.Snapshot().Phase == domain.PhaseIdle && i < 100; i++ {
		drive(r, base, time.Duration(i)*time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	drive(r, base, 200*time.Millisecond)
	drive(r, base, 210*time.Millisecond)

	snap := r.Snapshot()
	if snap.LastError == "" {
		t.Fatal("broken step left no error marker")
	}
	if snap.Phase != domain.PhaseHolding {
		t.Fatalf("phase = %s, want holding after surviving step", snap.Phase)
	}
}

func TestSnapshotETAGrowsWithQueuePosition(t *testing.T) {
	q := &fakeQueue{}
	for i := 0; i < 6; i++ {
		q.entries = append(q.entries, domain.QueueEntry{Seq: uint64(i + 1), Event: planEvent("q")})
	}
	r := newTestRuntime(t, q)
	snap := r.Snapshot()
	if len(snap.NextUp) != 5 {
		t.Fatalf("next up = %d entries, want 5", len(snap.NextUp))
	}
	for i := 1; i < len(snap.NextUp); i++ {
		if snap.NextUp[i].ETASec <= snap.NextUp[i-1].ETASec {
			t.Fatalf("eta not increasing at %d", i)
		}
	}
	if snap.QueueLen != 6 {
		t.Fatalf("queue len = %d", snap.QueueLen)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three", 7)
	if len(lines) != 2 || lines[0] != "one two" || lines[1] != "three" {
		t.Fatalf("lines = %q", lines)
	}
	long := wrapText("abcdefghij", 4)
	if len(long) != 3 || long[0] != "abcd" {
		t.Fatalf("hard split = %q", long)
	}
}

func TestComposeFrameIncludesOverlayStrip(t *testing.T) {
	s := NewSurface(8, 8, color.RGBA{A: 0xFF})
	img := composeFrame(s, Snapshot{Phase: domain.PhaseIdle}, 2)
	if img.Bounds().Dx() != 16 {
		t.Fatalf("width = %d", img.Bounds().Dx())
	}
	if img.Bounds().Dy() <= 16 {
		t.Fatalf("no overlay strip, height = %d", img.Bounds().Dy())
	}
}
