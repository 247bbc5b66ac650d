package renderer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"drawstream/internal/domain"
)

// Face7x13 metrics.
const (
	glyphWidth = 7
	lineHeight = 13
	overlayPad = 4
)

// overlayHeight is the strip below the canvas reserved for status text.
const overlayHeight = 8*lineHeight + 2*overlayPad

var (
	overlayBG   = color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xFF}
	overlayFG   = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	overlayDim  = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF}
	overlayWarn = color.RGBA{R: 0xE0, G: 0x60, B: 0x40, A: 0xFF}
)

// composeFrame builds the output image: the upscaled canvas on top, the
// status strip below it.
func composeFrame(s *Surface, snap Snapshot, scale int) *image.RGBA {
	canvasImg := s.Upscale(scale)
	cw := canvasImg.Bounds().Dx()
	ch := canvasImg.Bounds().Dy()

	out := image.NewRGBA(image.Rect(0, 0, cw, ch+overlayHeight))
	draw.Draw(out, canvasImg.Bounds(), canvasImg, image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, ch, cw, ch+overlayHeight), image.NewUniform(overlayBG), image.Point{}, draw.Src)

	maxCols := (cw - 2*overlayPad) / glyphWidth
	y := ch + overlayPad + textAscent
	put := func(line string, c color.RGBA) {
		drawText(out, overlayPad, y, clip(line, maxCols), c)
		y += lineHeight
	}

	switch snap.Phase {
	case domain.PhaseIdle:
		put("idle - waiting for donations", overlayDim)
	case domain.PhaseRunning:
		put(activeLine(snap), overlayFG)
		put(fmt.Sprintf("drawing step %d/%d (%3.0f%%)", snap.StepIndex+1, snap.StepCount, snap.Progress*100), overlayFG)
	case domain.PhaseHolding:
		put(activeLine(snap), overlayFG)
		put(fmt.Sprintf("holding %.0fs - %s", snap.HoldRemainingSec, snap.Caption), overlayFG)
	}
	if snap.LastError != "" {
		put("! "+snap.LastError, overlayWarn)
	}

	put(fmt.Sprintf("queue %d  fps %.0f", snap.QueueLen, snap.FPS), overlayDim)
	for i, entry := range snap.NextUp {
		put(fmt.Sprintf("%d. %s: %s (~%.0fs)", i+1, displayName(entry.Donor), entry.Message, entry.ETASec), overlayDim)
	}
	return out
}

func activeLine(snap Snapshot) string {
	if snap.Active == nil {
		return ""
	}
	return fmt.Sprintf("%s donated %s %s: %s",
		displayName(snap.Active.Donor), snap.Active.Amount, snap.Active.Currency, snap.Active.Message)
}

func displayName(donor string) string {
	if donor == "" {
		return "anonymous"
	}
	return donor
}

func clip(s string, maxCols int) string {
	if maxCols > 3 && len(s) > maxCols {
		return s[:maxCols-3] + "..."
	}
	return s
}

// wrapText breaks a string into lines of at most maxCols characters on word
// boundaries; an overlong word is hard-split.
func wrapText(s string, maxCols int) []string {
	if maxCols < 1 {
		maxCols = 1
	}
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(s) {
		for len(word) > maxCols {
			if cur.Len() > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			lines = append(lines, word[:maxCols])
			word = word[maxCols:]
		}
		switch {
		case cur.Len() == 0:
			cur.WriteString(word)
		case cur.Len()+1+len(word) <= maxCols:
			cur.WriteByte(' ')
			cur.WriteString(word)
		default:
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(word)
		}
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}
