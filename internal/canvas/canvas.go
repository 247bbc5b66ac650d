// Package canvas defines the Canvas-DSL document exchanged between the plan
// orchestrator and the renderer runtime. A document is either a drawing plan
// (canvas + ordered steps) or the text special form {render_text,
// duration_sec}. Parsing validates against an embedded JSON schema first,
// then against semantic constraints the schema cannot express.
package canvas

import (
	"encoding/json"
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// MaxGroupDepth bounds step nesting; deeper trees are rejected at parse time.
const MaxGroupDepth = 4

// Animation is the optional per-step animation block.
type Animation struct {
	Mode        string  `json:"mode"`
	SpeedPxPerS float64 `json:"speed_px_per_s,omitempty"`
	DurationMs  int     `json:"duration_ms,omitempty"`
	DelayMs     int     `json:"delay_ms,omitempty"`
	Ease        string  `json:"ease,omitempty"`
}

// Animation modes and easing curves.
const (
	ModeStroke      = "stroke"
	ModeFill        = "fill"
	ModePixelReveal = "pixel_reveal"

	EaseLinear = "linear"
	EaseInOut  = "ease_in_out"
)

type RectStep struct {
	X       int        `json:"x"`
	Y       int        `json:"y"`
	W       int        `json:"w"`
	H       int        `json:"h"`
	Fill    string     `json:"fill,omitempty"`
	Outline string     `json:"outline,omitempty"`
	Animate *Animation `json:"animate,omitempty"`
}

type CircleStep struct {
	CX      int        `json:"cx"`
	CY      int        `json:"cy"`
	R       int        `json:"r"`
	Fill    string     `json:"fill,omitempty"`
	Outline string     `json:"outline,omitempty"`
	Animate *Animation `json:"animate,omitempty"`
}

type LineStep struct {
	X1      int        `json:"x1"`
	Y1      int        `json:"y1"`
	X2      int        `json:"x2"`
	Y2      int        `json:"y2"`
	Width   int        `json:"width,omitempty"`
	Color   string     `json:"color"`
	Animate *Animation `json:"animate,omitempty"`
}

type PolygonStep struct {
	Points  [][2]int   `json:"points"`
	Fill    string     `json:"fill,omitempty"`
	Outline string     `json:"outline,omitempty"`
	Animate *Animation `json:"animate,omitempty"`
}

type PixelsStep struct {
	Points  [][2]int   `json:"points"`
	Color   string     `json:"color"`
	Animate *Animation `json:"animate,omitempty"`
}

type TextStep struct {
	X       int        `json:"x"`
	Y       int        `json:"y"`
	Value   string     `json:"value"`
	Size    int        `json:"size,omitempty"`
	Color   string     `json:"color,omitempty"`
	Animate *Animation `json:"animate,omitempty"`
}

type GroupStep struct {
	Steps   []Step     `json:"steps"`
	Animate *Animation `json:"animate,omitempty"`
}

// Step is a closed union over the drawing primitives, discriminated by the
// "op" field on the wire. Exactly one variant is non-nil.
type Step struct {
	Rect    *RectStep
	Circle  *CircleStep
	Line    *LineStep
	Polygon *PolygonStep
	Pixels  *PixelsStep
	Text    *TextStep
	Group   *GroupStep
}

// Op returns the wire discriminator for the populated variant.
func (s Step) Op() string {
	switch {
	case s.Rect != nil:
		return "rect"
	case s.Circle != nil:
		return "circle"
	case s.Line != nil:
		return "line"
	case s.Polygon != nil:
		return "polygon"
	case s.Pixels != nil:
		return "pixels"
	case s.Text != nil:
		return "text"
	case s.Group != nil:
		return "group"
	}
	return ""
}

// Animate returns the animation block of the populated variant, if any.
func (s Step) Animate() *Animation {
	switch {
	case s.Rect != nil:
		return s.Rect.Animate
	case s.Circle != nil:
		return s.Circle.Animate
	case s.Line != nil:
		return s.Line.Animate
	case s.Polygon != nil:
		return s.Polygon.Animate
	case s.Pixels != nil:
		return s.Pixels.Animate
	case s.Text != nil:
		return s.Text.Animate
	case s.Group != nil:
		return s.Group.Animate
	}
	return nil
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var probe struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Op {
	case "rect":
		s.Rect = &RectStep{}
		return json.Unmarshal(data, s.Rect)
	case "circle":
		s.Circle = &CircleStep{}
		return json.Unmarshal(data, s.Circle)
	case "line":
		s.Line = &LineStep{}
		return json.Unmarshal(data, s.Line)
	case "polygon":
		s.Polygon = &PolygonStep{}
		return json.Unmarshal(data, s.Polygon)
	case "pixels":
		s.Pixels = &PixelsStep{}
		return json.Unmarshal(data, s.Pixels)
	case "text":
		s.Text = &TextStep{}
		return json.Unmarshal(data, s.Text)
	case "group":
		s.Group = &GroupStep{}
		return json.Unmarshal(data, s.Group)
	case "":
		return fmt.Errorf("step is missing op")
	}
	return fmt.Errorf("unknown step op %q", probe.Op)
}

func (s Step) MarshalJSON() ([]byte, error) {
	var variant any
	switch {
	case s.Rect != nil:
		variant = s.Rect
	case s.Circle != nil:
		variant = s.Circle
	case s.Line != nil:
		variant = s.Line
	case s.Polygon != nil:
		variant = s.Polygon
	case s.Pixels != nil:
		variant = s.Pixels
	case s.Text != nil:
		variant = s.Text
	case s.Group != nil:
		variant = s.Group
	default:
		return nil, fmt.Errorf("step has no variant set")
	}
	body, err := json.Marshal(variant)
	if err != nil {
		return nil, err
	}
	// Splice the discriminator in front of the variant fields.
	out := []byte(`{"op":"` + s.Op() + `"`)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:len(body)-1]...)
	}
	out = append(out, '}')
	return out, nil
}

// Spec holds canvas dimensions and background color.
type Spec struct {
	W  int    `json:"w"`
	H  int    `json:"h"`
	BG string `json:"bg,omitempty"`
}

// Document is the top-level Canvas-DSL artifact.
type Document struct {
	Version     string   `json:"version,omitempty"`
	Canvas      *Spec    `json:"canvas,omitempty"`
	Caption     string   `json:"caption,omitempty"`
	Palette     []string `json:"palette,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Steps       []Step   `json:"steps,omitempty"`
	RenderText  string   `json:"render_text,omitempty"`
	DurationSec int      `json:"duration_sec,omitempty"`
}

// IsText reports whether the document is the text special form.
func (d *Document) IsText() bool { return d.RenderText != "" }

// Marshal serializes the document deterministically. Serialize → Parse →
// Marshal is byte-stable.
func (d *Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// ParseHexColor decodes #RGB or #RRGGBB into an opaque RGBA color.
func ParseHexColor(s string) (color.RGBA, error) {
	if len(s) != 4 && len(s) != 7 || !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("color %q must be #RGB or #RRGGBB", s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q is not valid hex", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, nil
}

// ResolveColor resolves an explicit hex color or a palette reference of the
// form "p0".."pN" against the document palette.
func (d *Document) ResolveColor(s string) (color.RGBA, error) {
	if strings.HasPrefix(s, "p") && !strings.HasPrefix(s, "#") {
		idx, err := strconv.Atoi(s[1:])
		if err != nil || idx < 0 || idx >= len(d.Palette) {
			return color.RGBA{}, fmt.Errorf("palette reference %q does not resolve", s)
		}
		return ParseHexColor(d.Palette[idx])
	}
	return ParseHexColor(s)
}
