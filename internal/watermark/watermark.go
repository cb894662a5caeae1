// Package watermark burns a provenance strip (capture time and coordinates)
// into the bottom of a frame. Compose is pure in its inputs: the same frame,
// tag and timestamp always produce the same pixels, which is what makes the
// watermark verifiable rather than client-asserted metadata.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
)

const (
	// UnavailableLabel is rendered in the coordinate slot when no fix was
	// acquired before the shutter fired.
	UnavailableLabel = "GPS unavailable"

	timeLayout = "02 Jan 2006 15:04:05 MST"

	stripFraction = 0.06
	minStripPx    = 28
	minFontPt     = 12.0
)

var (
	timeColor  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	geoColor   = color.NRGBA{R: 96, G: 220, B: 128, A: 255}
	stripColor = color.NRGBA{A: 140}
)

type CompositionError struct {
	Reason string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed: %s", e.Reason)
}

var stripFont *truetype.Font

func init() {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic("watermark: parse embedded font: " + err.Error())
	}
	stripFont = f
}

// LocationLabel is the exact text Compose renders in the coordinate slot.
func LocationLabel(tag models.GeoTag) string {
	if !tag.OK {
		return UnavailableLabel
	}
	return fmt.Sprintf("%.6f, %.6f", tag.Latitude, tag.Longitude)
}

// TimeLabel is the exact text Compose renders in the timestamp slot.
func TimeLabel(now time.Time) string {
	return now.Format(timeLayout)
}

// Compose draws frame unmodified, overlays a semi-transparent strip across
// the bottom ~6% of its height, renders the capture timestamp left-aligned
// and the coordinate label right-aligned inside it, and returns the result
// encoded as JPEG. A frame with no pixels fails with *CompositionError.
func Compose(frame image.Image, tag models.GeoTag, now time.Time) ([]byte, error) {
	if frame == nil {
		return nil, &CompositionError{Reason: "nil frame"}
	}
	w, h := frame.Bounds().Dx(), frame.Bounds().Dy()
	if w <= 0 || h <= 0 {
		return nil, &CompositionError{Reason: "zero-sized frame"}
	}

	canvas := imaging.Clone(frame)

	stripH := int(float64(h) * stripFraction)
	if stripH < minStripPx {
		stripH = minStripPx
	}
	if stripH > h {
		stripH = h
	}
	strip := image.Rect(0, h-stripH, w, h)
	draw.Draw(canvas, strip, image.NewUniform(stripColor), image.Point{}, draw.Over)

	// Font tracks the strip so the text stays legible at any resolution.
	size := float64(stripH) * 0.5
	if size < minFontPt {
		size = minFontPt
	}
	face := truetype.NewFace(stripFont, &truetype.Options{Size: size})
	defer face.Close()

	ascent := face.Metrics().Ascent.Ceil()
	baseline := h - stripH + (stripH+ascent)/2
	pad := stripH / 4

	d := &font.Drawer{Dst: canvas, Face: face}

	d.Src = image.NewUniform(timeColor)
	d.Dot = fixed.P(pad, baseline)
	d.DrawString(TimeLabel(now))

	right := LocationLabel(tag)
	col := geoColor
	if !tag.OK {
		col = timeColor
	}
	d.Src = image.NewUniform(col)
	d.Dot = fixed.Point26_6{X: fixed.I(w-pad) - d.MeasureString(right), Y: fixed.I(baseline)}
	d.DrawString(right)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, &CompositionError{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}
