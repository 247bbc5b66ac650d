// Package renderer interprets validated Canvas-DSL plans frame-by-frame on a
// small raster surface: step compilation, animation timing, the hold phase,
// and the composed upscaled output with the status overlay.
package renderer

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Surface is the fixed-size drawing raster. It is owned by the runtime
// goroutine; readers only ever see upscaled copies.
type Surface struct {
	W, H int
	img  *image.RGBA
}

// NewSurface allocates a surface filled with the background color.
func NewSurface(w, h int, bg color.RGBA) *Surface {
	s := &Surface{W: w, H: h, img: image.NewRGBA(image.Rect(0, 0, w, h))}
	s.Fill(bg)
	return s
}

// Fill floods the whole surface.
func (s *Surface) Fill(c color.RGBA) {
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			s.img.SetRGBA(x, y, c)
		}
	}
}

// Set writes one pixel, clipping out-of-bounds coordinates.
func (s *Surface) Set(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= s.W || y >= s.H {
		return
	}
	s.img.SetRGBA(x, y, c)
}

// At reads one pixel; out-of-bounds reads return zero.
func (s *Surface) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= s.W || y >= s.H {
		return color.RGBA{}
	}
	return s.img.RGBAAt(x, y)
}

// Clone deep-copies the surface.
func (s *Surface) Clone() *Surface {
	out := &Surface{W: s.W, H: s.H, img: image.NewRGBA(s.img.Rect)}
	copy(out.img.Pix, s.img.Pix)
	return out
}

// CopyFrom overwrites this surface with the contents of src.
func (s *Surface) CopyFrom(src *Surface) {
	copy(s.img.Pix, src.img.Pix)
}

// Upscale magnifies by an integer factor with nearest-neighbor sampling,
// preserving hard pixel edges.
func (s *Surface) Upscale(scale int) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, s.W*scale, s.H*scale))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), s.img, s.img.Bounds(), xdraw.Src, nil)
	return dst
}

// Image exposes the raw raster for tests and composition.
func (s *Surface) Image() *image.RGBA { return s.img }

// textAscent is the baseline offset of the built-in face.
const textAscent = 11

// drawText renders a string with the built-in bitmap face. (x, y) is the
// baseline origin in surface coordinates.
func drawText(dst *image.RGBA, x, y int, value string, c color.RGBA) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(value)
}

// textPixels rasterizes a string offscreen and returns its lit pixels in
// reading order, for animated text steps.
func textPixels(w, h, x, y int, value string, c color.RGBA) []pixel {
	tmp := image.NewRGBA(image.Rect(0, 0, w, h))
	drawText(tmp, x, y, value, c)
	var out []pixel
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			if _, _, _, a := tmp.At(px, py).RGBA(); a > 0 {
				out = append(out, pixel{X: px, Y: py, C: c})
			}
		}
	}
	return out
}
