// Package preprocess turns uploaded image bytes into the float tensor the
// moderation model expects.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyImage    = errors.New("image has zero width or height")
	ErrTooManyPixels = errors.New("image exceeds the pixel limit")
)

// Error reports a failure to turn an upload into a tensor. It is always the
// caller's input that is at fault.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error during image preprocessing: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Tensor struct {
	Shape []int64
	Data  []float32
}

func (t *Tensor) Len() int { return len(t.Data) }

// Preprocessor is safe for concurrent use; it holds no per-call state.
type Preprocessor struct {
	opts   Options
	interp resize.InterpolationFunction
}

func New(opts Options) (*Preprocessor, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid preprocess options: %w", err)
	}
	if opts.MaxPixels == 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	interp, _ := opts.interpolationFunc()
	return &Preprocessor{opts: opts, interp: interp}, nil
}

func (p *Preprocessor) Options() Options { return p.opts }

// Preprocess decodes r and converts it to a normalized tensor. The header is
// checked against MaxPixels before the pixels are decoded.
func (p *Preprocessor) Preprocess(r io.Reader) (*Tensor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.opts.MaxPixels {
		return nil, &Error{Op: "decode", Err: fmt.Errorf("%w: %dx%d is over %d pixels",
			ErrTooManyPixels, cfg.Width, cfg.Height, p.opts.MaxPixels)}
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	return p.FromImage(img)
}

// FromImage converts an already decoded image.
func (p *Preprocessor) FromImage(img image.Image) (*Tensor, error) {
	if img == nil {
		return nil, &Error{Op: "convert", Err: ErrEmptyImage}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &Error{Op: "convert", Err: ErrEmptyImage}
	}

	rgb := toRGB(img)

	size := p.opts.Size
	resized := resize.Resize(uint(size), uint(size), rgb, p.interp)
	rb := resized.Bounds()
	if rb.Dx() != size || rb.Dy() != size {
		return nil, &Error{Op: "resize", Err: fmt.Errorf("got %dx%d, want %dx%d", rb.Dx(), rb.Dy(), size, size)}
	}

	return &Tensor{
		Shape: p.opts.Shape(),
		Data:  p.normalize(resized),
	}, nil
}

// toRGB drops alpha without compositing, keeping the stored color of every
// pixel, and expands gray, paletted and CMYK images to three channels.
func toRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func (p *Preprocessor) normalize(img image.Image) []float32 {
	size := p.opts.Size
	plane := size * size
	out := make([]float32, 3*plane)
	b := img.Bounds()

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl := pixelAt(img, b.Min.X+x, b.Min.Y+y)
			px := [3]float32{float32(r), float32(g), float32(bl)}
			idx := y*size + x
			for c := 0; c < 3; c++ {
				v := p.scale(px[c], c)
				if p.opts.Layout == LayoutNCHW {
					out[c*plane+idx] = v
				} else {
					out[idx*3+c] = v
				}
			}
		}
	}
	return out
}

func (p *Preprocessor) scale(v float32, channel int) float32 {
	switch p.opts.Normalization {
	case NormUnit:
		return v / 255
	case NormTF:
		return v/127.5 - 1
	case NormImageNet:
		return (v/255 - imagenetMean[channel]) / imagenetStd[channel]
	default:
		return v
	}
}

func pixelAt(img image.Image, x, y int) (r, g, b uint8) {
	switch m := img.(type) {
	case *image.RGBA:
		i := m.PixOffset(x, y)
		return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
	case *image.NRGBA:
		i := m.PixOffset(x, y)
		return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
	}
	r32, g32, b32, _ := img.At(x, y).RGBA()
	return uint8(r32 >> 8), uint8(g32 >> 8), uint8(b32 >> 8)
}
