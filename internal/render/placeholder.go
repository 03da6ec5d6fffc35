package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/sushil32/Neura/internal/motion"
	"github.com/sushil32/Neura/internal/viseme"
)

// Placeholder renders flat-color frames with a schematic mouth driven by
// the blend-shape channels. Deterministic for a given input, so repeated
// runs of the same job produce identical bytes. Used when the neural
// service stays unreachable after retries.
type Placeholder struct {
	Background color.RGBA
	MouthColor color.RGBA
}

// NewPlaceholder returns a placeholder renderer with the default palette.
func NewPlaceholder() *Placeholder {
	return &Placeholder{
		Background: color.RGBA{R: 0x2b, G: 0x2d, B: 0x42, A: 0xff},
		MouthColor: color.RGBA{R: 0xd9, G: 0x4a, B: 0x5a, A: 0xff},
	}
}

// RenderClip renders every frame of the timeline as a PNG image.
func (p *Placeholder) RenderClip(ctx context.Context, req ClipRequest) (*Clip, error) {
	w, h := dims(req.Width, req.Height)
	out := make([][]byte, 0, len(req.Frames))
	for i, f := range req.Frames {
		if i%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		img, err := p.encodeFrame(f, w, h)
		if err != nil {
			return nil, fmt.Errorf("render frame %d: %w", i, err)
		}
		out = append(out, img)
	}
	return &Clip{Frames: out, Width: w, Height: h, FPS: req.FPS, Placeholder: true}, nil
}

// RenderFrame renders one frame as a PNG image.
func (p *Placeholder) RenderFrame(ctx context.Context, fp FrameParams) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	w, h := dims(fp.Width, fp.Height)
	return p.encodeFrame(fp.Frame, w, h)
}

func (p *Placeholder) encodeFrame(f motion.Frame, w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		switch i % 4 {
		case 0:
			img.Pix[i] = p.Background.R
		case 1:
			img.Pix[i] = p.Background.G
		case 2:
			img.Pix[i] = p.Background.B
		case 3:
			img.Pix[i] = 0xff
		}
	}

	// Mouth rectangle centered in the lower third, sized by the opening
	// and widening channels.
	open := f.BlendShapes[viseme.MouthOpen]
	wide := f.BlendShapes[viseme.MouthWide]
	mw := int(float64(w) * (0.15 + 0.25*wide))
	mh := int(float64(h) * 0.2 * open)
	if mh < 2 {
		mh = 2 // closed lips still draw a line
	}
	cx, cy := w/2, h*3/4
	fill(img, cx-mw/2, cy-mh/2, cx+mw/2, cy+mh/2, p.MouthColor)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fill(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	b := img.Bounds()
	for y := max(y0, b.Min.Y); y < min(y1, b.Max.Y); y++ {
		for x := max(x0, b.Min.X); x < min(x1, b.Max.X); x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func dims(w, h int) (int, int) {
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 360
	}
	return w, h
}
