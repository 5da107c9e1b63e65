// Package watermark overlays tiled, translucent, rotated text on served
// image bytes to deter redistribution. It is best-effort by contract:
// any decode or encode failure returns the original bytes, because a
// watermarking fault must never fail the request that triggered it.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // registered so Decode can name the format
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	tileSize     = 200
	rotationRad  = -30 * math.Pi / 180
	jpegQuality  = 85
	defaultText  = "Protected"
	defaultAlpha = 0.15
)

// Tiled repeats a rotated text stamp across the whole image.
type Tiled struct {
	text    string
	opacity float64
}

func NewTiled(text string, opacity float64) *Tiled {
	if text == "" {
		text = defaultText
	}
	if opacity <= 0 || opacity > 1 {
		opacity = defaultAlpha
	}
	return &Tiled{text: text, opacity: opacity}
}

// Apply returns the watermarked bytes, or the original bytes with a
// non-nil error when the image can't be processed (unsupported format,
// corrupt data). Callers should log the error and serve the bytes either
// way.
func (t *Tiled) Apply(data []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, fmt.Errorf("decode image: %w", err)
	}

	// Animated gifs would flatten to one frame and webp has no stdlib
	// encoder; both pass through untouched.
	if format != "png" && format != "jpeg" {
		return data, fmt.Errorf("unsupported watermark format %q", format)
	}

	bounds := src.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, src, bounds.Min, draw.Src)

	tile := t.stamp()
	for y := bounds.Min.Y; y < bounds.Max.Y; y += tileSize {
		for x := bounds.Min.X; x < bounds.Max.X; x += tileSize {
			r := image.Rect(x, y, x+tileSize, y+tileSize).Intersect(bounds)
			draw.Draw(out, r, tile, image.Point{}, draw.Over)
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, out)
	case "jpeg":
		err = jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return data, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// stamp renders one tile: the text centered, rotated, white at the
// configured opacity.
func (t *Tiled) stamp() *image.RGBA {
	flat := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))

	alpha := uint8(math.Round(t.opacity * 255))
	face := basicfont.Face7x13
	width := font.MeasureString(face, t.text).Ceil()

	d := font.Drawer{
		Dst:  flat,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: alpha}),
		Face: face,
		Dot: fixed.P(
			(tileSize-width)/2,
			tileSize/2+face.Metrics().Ascent.Ceil()/2,
		),
	}
	d.DrawString(t.text)

	return rotate(flat, rotationRad)
}

// rotate maps dst pixels back through the inverse rotation around the
// tile center, nearest neighbor. Pixels falling outside the source stay
// transparent.
func rotate(src *image.RGBA, radians float64) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	cx := float64(b.Dx()) / 2
	cy := float64(b.Dy()) / 2
	sin, cos := math.Sincos(-radians)

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			fx := float64(x) - cx
			fy := float64(y) - cy
			sx := int(math.Round(fx*cos - fy*sin + cx))
			sy := int(math.Round(fx*sin + fy*cos + cy))
			if sx >= 0 && sx < b.Dx() && sy >= 0 && sy < b.Dy() {
				dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
			}
		}
	}
	return dst
}
