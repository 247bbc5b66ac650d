package canvas

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

var planSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("canvas.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("canvas: add schema resource: %v", err))
	}
	return c.MustCompile("canvas.schema.json")
}

// SchemaError marks a document that failed syntactic or semantic validation.
// The orchestrator retries on it; it never reaches the renderer.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "invalid canvas document: " + e.Reason }

func schemaErrf(format string, args ...any) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes and schema-validates a raw Canvas-DSL document. It performs
// no semantic checks; call Document.Check for those.
func Parse(raw []byte) (*Document, error) {
	var loose any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, schemaErrf("not valid JSON: %v", err)
	}
	if err := planSchema.Validate(loose); err != nil {
		return nil, schemaErrf("schema violation: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schemaErrf("decode: %v", err)
	}
	return &doc, nil
}

// Check enforces the semantic constraints the JSON schema cannot express:
// the canvas matches the configured surface size, every color reference
// resolves, geometry stays within sane bounds, and group nesting is capped.
func (d *Document) Check(wantW, wantH int) error {
	if d.IsText() {
		if len(d.Steps) > 0 {
			return schemaErrf("document has both render_text and steps")
		}
		return nil
	}
	if d.Canvas == nil {
		return schemaErrf("document is missing canvas")
	}
	if len(d.Steps) == 0 {
		return schemaErrf("plan has no steps")
	}
	if d.Canvas.W != wantW || d.Canvas.H != wantH {
		return schemaErrf("canvas %dx%d does not match configured %dx%d", d.Canvas.W, d.Canvas.H, wantW, wantH)
	}
	if d.Canvas.BG != "" {
		if _, err := d.ResolveColor(d.Canvas.BG); err != nil {
			return schemaErrf("canvas bg: %v", err)
		}
	}
	for i, p := range d.Palette {
		if _, err := ParseHexColor(p); err != nil {
			return schemaErrf("palette[%d]: %v", i, err)
		}
	}
	for i := range d.Steps {
		if err := d.checkStep(&d.Steps[i], 1); err != nil {
			return schemaErrf("steps[%d]: %v", i, err)
		}
	}
	return nil
}

func (d *Document) checkStep(s *Step, depth int) error {
	if depth > MaxGroupDepth {
		return fmt.Errorf("group nesting exceeds depth %d", MaxGroupDepth)
	}
	if a := s.Animate(); a != nil {
		if a.SpeedPxPerS < 0 || a.DurationMs < 0 || a.DelayMs < 0 {
			return fmt.Errorf("animate has negative timing")
		}
	}
	limit := d.Canvas.W * 4 // generous off-canvas slack; clipping handles the rest
	switch {
	case s.Rect != nil:
		if s.Rect.W < 0 || s.Rect.H < 0 {
			return fmt.Errorf("rect has negative size")
		}
		return d.checkColors(s.Rect.Fill, s.Rect.Outline)
	case s.Circle != nil:
		if s.Circle.R < 0 || s.Circle.R > limit {
			return fmt.Errorf("circle radius %d out of range", s.Circle.R)
		}
		return d.checkColors(s.Circle.Fill, s.Circle.Outline)
	case s.Line != nil:
		if s.Line.Width < 0 {
			return fmt.Errorf("line has negative width")
		}
		return d.checkColors(s.Line.Color)
	case s.Polygon != nil:
		if len(s.Polygon.Points) < 3 {
			return fmt.Errorf("polygon needs at least 3 points")
		}
		return d.checkColors(s.Polygon.Fill, s.Polygon.Outline)
	case s.Pixels != nil:
		if len(s.Pixels.Points) == 0 {
			return fmt.Errorf("pixels step has no points")
		}
		return d.checkColors(s.Pixels.Color)
	case s.Text != nil:
		if s.Text.Value == "" {
			return fmt.Errorf("text step has empty value")
		}
		return d.checkColors(s.Text.Color)
	case s.Group != nil:
		if len(s.Group.Steps) == 0 {
			return fmt.Errorf("group has no steps")
		}
		for i := range s.Group.Steps {
			if err := d.checkStep(&s.Group.Steps[i], depth+1); err != nil {
				return fmt.Errorf("group[%d]: %w", i, err)
			}
		}
		return nil
	}
	return fmt.Errorf("step has no recognized primitive")
}

func (d *Document) checkColors(colors ...string) error {
	for _, c := range colors {
		if c == "" {
			continue
		}
		if _, err := d.ResolveColor(c); err != nil {
			return err
		}
	}
	return nil
}

// Flatten expands group steps into a leaf-only sequence in declaration
// order, so the interpreter iterates instead of recursing.
func (d *Document) Flatten() []Step {
	var out []Step
	var walk func(steps []Step)
	walk = func(steps []Step) {
		for _, s := range steps {
			if s.Group != nil {
				walk(s.Group.Steps)
				continue
			}
			out = append(out, s)
		}
	}
	walk(d.Steps)
	return out
}
