package renderer

import (
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"time"

	"github.com/tanema/gween/ease"

	"drawstream/internal/canvas"
)

// pixel is one revealed point of a compiled step.
type pixel struct {
	X, Y int
	C    color.RGBA
}

// preparedStep is a leaf step compiled to its full reveal sequence. The
// runtime commits pixels[0:n] where n follows the eased progress; revealed
// pixels are never taken back.
type preparedStep struct {
	op       string
	pixels   []pixel
	duration time.Duration
	delay    time.Duration
	easeFn   ease.TweenFunc
	err      error // compile failure; the step is skipped at play time
}

func (p *preparedStep) revealCount(progress float64) int {
	if progress >= 1 {
		return len(p.pixels)
	}
	if progress <= 0 {
		return 0
	}
	eased := float64(p.easeFn(float32(progress), 0, 1, 1))
	n := int(math.Ceil(eased * float64(len(p.pixels))))
	if n > len(p.pixels) {
		n = len(p.pixels)
	}
	return n
}

// applyTo commits the first n reveal pixels onto the surface.
func (p *preparedStep) applyTo(s *Surface, n int) {
	if n > len(p.pixels) {
		n = len(p.pixels)
	}
	for _, px := range p.pixels[:n] {
		s.Set(px.X, px.Y, px.C)
	}
}

// compilePlan flattens the document and compiles every leaf step. Compile
// failures do not abort the plan: the broken step carries its error and the
// runtime skips it, keeping the rest of the drawing.
func compilePlan(doc *canvas.Document, w, h int, defaultDuration time.Duration) []*preparedStep {
	leaves := doc.Flatten()
	rng := planRand(doc)
	out := make([]*preparedStep, 0, len(leaves))
	for _, leaf := range leaves {
		out = append(out, compileStep(doc, leaf, w, h, defaultDuration, rng))
	}
	return out
}

// planRand derives the shuffle source for pixel_reveal steps. Without a plan
// seed the declaration order stands and no shuffling happens.
func planRand(doc *canvas.Document) *rand.Rand {
	if doc.Seed == nil {
		return nil
	}
	return rand.New(rand.NewSource(*doc.Seed))
}

func compileStep(doc *canvas.Document, s canvas.Step, w, h int, defaultDuration time.Duration, rng *rand.Rand) *preparedStep {
	p := &preparedStep{op: s.Op(), easeFn: ease.Linear}
	a := s.Animate()

	var err error
	switch {
	case s.Rect != nil:
		p.pixels, err = rectPixels(doc, s.Rect, a)
	case s.Circle != nil:
		p.pixels, err = circlePixels(doc, s.Circle, a)
	case s.Line != nil:
		p.pixels, err = linePixels(doc, s.Line)
	case s.Polygon != nil:
		p.pixels, err = polygonPixels(doc, s.Polygon, a)
	case s.Pixels != nil:
		p.pixels, err = pointPixels(doc, s.Pixels)
	case s.Text != nil:
		p.pixels, err = textStepPixels(doc, s.Text, w, h)
	default:
		err = fmt.Errorf("step %q has no raster form", s.Op())
	}
	if err != nil {
		p.err = err
		return p
	}

	if a != nil {
		p.delay = time.Duration(a.DelayMs) * time.Millisecond
		if a.Ease == canvas.EaseInOut {
			p.easeFn = ease.InOutQuad
		}
		if a.Mode == canvas.ModePixelReveal && rng != nil {
			rng.Shuffle(len(p.pixels), func(i, j int) {
				p.pixels[i], p.pixels[j] = p.pixels[j], p.pixels[i]
			})
		}
	}
	p.duration = stepDuration(a, len(p.pixels), defaultDuration)
	return p
}

// stepDuration resolves timing precedence: explicit duration_ms, then
// speed_px_per_s over the pixel count, then the configured default.
func stepDuration(a *canvas.Animation, points int, def time.Duration) time.Duration {
	if a != nil {
		if a.DurationMs > 0 {
			return time.Duration(a.DurationMs) * time.Millisecond
		}
		if a.SpeedPxPerS > 0 {
			return time.Duration(float64(points) / a.SpeedPxPerS * float64(time.Second))
		}
	}
	return def
}

// fillFirst reports whether the reveal should lead with area coverage. Stroke
// mode traces the outline first; everything else paints the fill first so the
// outline lands on top last.
func fillFirst(a *canvas.Animation) bool {
	return a == nil || a.Mode != canvas.ModeStroke
}

func rectPixels(doc *canvas.Document, r *canvas.RectStep, a *canvas.Animation) ([]pixel, error) {
	var fill, outline []pixel
	if r.Fill != "" {
		c, err := doc.ResolveColor(r.Fill)
		if err != nil {
			return nil, err
		}
		// scanline order, top to bottom
		for y := r.Y; y < r.Y+r.H; y++ {
			for x := r.X; x < r.X+r.W; x++ {
				fill = append(fill, pixel{X: x, Y: y, C: c})
			}
		}
	}
	if r.Outline != "" {
		c, err := doc.ResolveColor(r.Outline)
		if err != nil {
			return nil, err
		}
		outline = rectPerimeter(r.X, r.Y, r.W, r.H, c)
	}
	if fillFirst(a) {
		return append(fill, outline...), nil
	}
	return append(outline, fill...), nil
}

// rectPerimeter walks the border clockwise from the top-left corner, so a
// stroke animation traces a continuous path.
func rectPerimeter(x, y, w, h int, c color.RGBA) []pixel {
	if w <= 0 || h <= 0 {
		return nil
	}
	var out []pixel
	for px := x; px < x+w; px++ {
		out = append(out, pixel{X: px, Y: y, C: c})
	}
	for py := y + 1; py < y+h; py++ {
		out = append(out, pixel{X: x + w - 1, Y: py, C: c})
	}
	if h > 1 {
		for px := x + w - 2; px >= x; px-- {
			out = append(out, pixel{X: px, Y: y + h - 1, C: c})
		}
	}
	if w > 1 {
		for py := y + h - 2; py > y; py-- {
			out = append(out, pixel{X: x, Y: py, C: c})
		}
	}
	return out
}

func circlePixels(doc *canvas.Document, cs *canvas.CircleStep, a *canvas.Animation) ([]pixel, error) {
	var fill, outline []pixel
	if cs.Fill != "" {
		c, err := doc.ResolveColor(cs.Fill)
		if err != nil {
			return nil, err
		}
		for y := cs.CY - cs.R; y <= cs.CY+cs.R; y++ {
			dy := y - cs.CY
			dx := int(math.Sqrt(float64(cs.R*cs.R - dy*dy)))
			for x := cs.CX - dx; x <= cs.CX+dx; x++ {
				fill = append(fill, pixel{X: x, Y: y, C: c})
			}
		}
	}
	if cs.Outline != "" {
		c, err := doc.ResolveColor(cs.Outline)
		if err != nil {
			return nil, err
		}
		outline = circlePerimeter(cs.CX, cs.CY, cs.R, c)
	}
	if fillFirst(a) {
		return append(fill, outline...), nil
	}
	return append(outline, fill...), nil
}

// circlePerimeter sweeps the rim in angle order starting at 12 o'clock, with
// enough samples that adjacent pixels touch. Duplicate samples are dropped.
func circlePerimeter(cx, cy, r int, c color.RGBA) []pixel {
	if r == 0 {
		return []pixel{{X: cx, Y: cy, C: c}}
	}
	samples := int(math.Ceil(2 * math.Pi * float64(r) * 2))
	seen := make(map[[2]int]bool, samples)
	var out []pixel
	for i := 0; i < samples; i++ {
		theta := -math.Pi/2 + 2*math.Pi*float64(i)/float64(samples)
		x := cx + int(math.Round(float64(r)*math.Cos(theta)))
		y := cy + int(math.Round(float64(r)*math.Sin(theta)))
		key := [2]int{x, y}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, pixel{X: x, Y: y, C: c})
	}
	return out
}

func linePixels(doc *canvas.Document, l *canvas.LineStep) ([]pixel, error) {
	c, err := doc.ResolveColor(l.Color)
	if err != nil {
		return nil, err
	}
	width := l.Width
	if width < 1 {
		width = 1
	}
	path := bresenham(l.X1, l.Y1, l.X2, l.Y2)
	if width == 1 {
		out := make([]pixel, len(path))
		for i, pt := range path {
			out[i] = pixel{X: pt[0], Y: pt[1], C: c}
		}
		return out, nil
	}
	// thick lines stamp a square brush along the path, first touch wins
	half := width / 2
	seen := make(map[[2]int]bool)
	var out []pixel
	for _, pt := range path {
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				key := [2]int{pt[0] + dx, pt[1] + dy}
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, pixel{X: key[0], Y: key[1], C: c})
			}
		}
	}
	return out, nil
}

// bresenham returns the integer line from (x1,y1) to (x2,y2) in travel order.
func bresenham(x1, y1, x2, y2 int) [][2]int {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy
	var out [][2]int
	x, y := x1, y1
	for {
		out = append(out, [2]int{x, y})
		if x == x2 && y == y2 {
			return out
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func polygonPixels(doc *canvas.Document, pg *canvas.PolygonStep, a *canvas.Animation) ([]pixel, error) {
	var fill, outline []pixel
	if pg.Fill != "" {
		c, err := doc.ResolveColor(pg.Fill)
		if err != nil {
			return nil, err
		}
		fill = polygonFill(pg.Points, c)
	}
	if pg.Outline != "" {
		c, err := doc.ResolveColor(pg.Outline)
		if err != nil {
			return nil, err
		}
		outline = polygonPerimeter(pg.Points, c)
	}
	if fillFirst(a) {
		return append(fill, outline...), nil
	}
	return append(outline, fill...), nil
}

// polygonPerimeter chains the edges in vertex order, closing back to the
// first vertex, skipping the duplicated joint pixel at each corner.
func polygonPerimeter(points [][2]int, c color.RGBA) []pixel {
	var out []pixel
	n := len(points)
	for i := 0; i < n; i++ {
		a, b := points[i], points[(i+1)%n]
		edge := bresenham(a[0], a[1], b[0], b[1])
		if len(edge) > 1 {
			edge = edge[:len(edge)-1]
		}
		for _, pt := range edge {
			out = append(out, pixel{X: pt[0], Y: pt[1], C: c})
		}
	}
	return out
}

// polygonFill runs an even-odd scanline over the vertex list, rows emitted
// top to bottom.
func polygonFill(points [][2]int, c color.RGBA) []pixel {
	minY, maxY := points[0][1], points[0][1]
	for _, pt := range points {
		if pt[1] < minY {
			minY = pt[1]
		}
		if pt[1] > maxY {
			maxY = pt[1]
		}
	}
	var out []pixel
	n := len(points)
	for y := minY; y <= maxY; y++ {
		var xs []float64
		for i := 0; i < n; i++ {
			a, b := points[i], points[(i+1)%n]
			y1, y2 := float64(a[1]), float64(b[1])
			if y1 == y2 {
				continue
			}
			fy := float64(y)
			if (fy >= y1 && fy < y2) || (fy >= y2 && fy < y1) {
				t := (fy - y1) / (y2 - y1)
				xs = append(xs, float64(a[0])+t*float64(b[0]-a[0]))
			}
		}
		sortFloats(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			for x := int(math.Ceil(xs[i])); x <= int(math.Floor(xs[i+1])); x++ {
				out = append(out, pixel{X: x, Y: y, C: c})
			}
		}
	}
	return out
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

func pointPixels(doc *canvas.Document, ps *canvas.PixelsStep) ([]pixel, error) {
	c, err := doc.ResolveColor(ps.Color)
	if err != nil {
		return nil, err
	}
	out := make([]pixel, len(ps.Points))
	for i, pt := range ps.Points {
		out[i] = pixel{X: pt[0], Y: pt[1], C: c}
	}
	return out, nil
}

func textStepPixels(doc *canvas.Document, t *canvas.TextStep, w, h int) ([]pixel, error) {
	c := color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	if t.Color != "" {
		var err error
		if c, err = doc.ResolveColor(t.Color); err != nil {
			return nil, err
		}
	}
	// (x, y) is the glyph box top-left; the face baseline sits Ascent below
	return textPixels(w, h, t.X, t.Y+textAscent, t.Value, c), nil
}
