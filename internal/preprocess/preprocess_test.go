package preprocess

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newPreprocessor(t *testing.T, mutate func(*Options)) *Preprocessor {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestPreprocess_DefaultShape(t *testing.T) {
	p := newPreprocessor(t, nil)

	tensor, err := p.Preprocess(bytes.NewReader(solidPNG(t, 37, 91, color.NRGBA{R: 255, A: 255})))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 240, 240, 3}, tensor.Shape)
	require.Equal(t, 240*240*3, tensor.Len())

	// Uniform images stay uniform after resampling; efficientnet keeps raw values.
	for i := 0; i < tensor.Len(); i += 3 {
		require.Equal(t, float32(255), tensor.Data[i])
		require.Equal(t, float32(0), tensor.Data[i+1])
		require.Equal(t, float32(0), tensor.Data[i+2])
	}
}

func TestPreprocess_DropsAlphaWithoutCompositing(t *testing.T) {
	p := newPreprocessor(t, func(o *Options) { o.Interpolation = InterpolationNearest })

	tensor, err := p.Preprocess(bytes.NewReader(solidPNG(t, 8, 8, color.NRGBA{R: 10, G: 20, B: 30, A: 0})))
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 20, 30}, tensor.Data[:3])
	assert.Equal(t, []float32{10, 20, 30}, tensor.Data[tensor.Len()-3:])
}

func TestFromImage_GrayExpandsToThreeChannels(t *testing.T) {
	p := newPreprocessor(t, func(o *Options) { o.Interpolation = InterpolationNearest })

	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}

	tensor, err := p.FromImage(gray)
	require.NoError(t, err)
	assert.Equal(t, []float32{128, 128, 128}, tensor.Data[:3])
}

func TestPreprocess_NCHWUnit(t *testing.T) {
	p := newPreprocessor(t, func(o *Options) {
		o.Size = 16
		o.Layout = LayoutNCHW
		o.Normalization = NormUnit
		o.Interpolation = InterpolationNearest
	})

	tensor, err := p.Preprocess(bytes.NewReader(solidPNG(t, 3, 5, color.NRGBA{R: 255, B: 51, A: 255})))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 16, 16}, tensor.Shape)

	plane := 16 * 16
	assert.Equal(t, float32(1), tensor.Data[0])
	assert.Equal(t, float32(1), tensor.Data[plane-1])
	assert.Equal(t, float32(0), tensor.Data[plane])
	assert.InDelta(t, 0.2, tensor.Data[2*plane], 1e-6)
}

func TestPreprocess_Normalizations(t *testing.T) {
	tests := []struct {
		name string
		norm Normalization
		want [3]float32
	}{
		{"efficientnet", NormEfficientNet, [3]float32{255, 0, 0}},
		{"unit", NormUnit, [3]float32{1, 0, 0}},
		{"tf", NormTF, [3]float32{1, -1, -1}},
		{"imagenet", NormImageNet, [3]float32{
			(1 - 0.485) / 0.229,
			(0 - 0.456) / 0.224,
			(0 - 0.406) / 0.225,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPreprocessor(t, func(o *Options) {
				o.Size = 4
				o.Normalization = tt.norm
				o.Interpolation = InterpolationNearest
			})
			tensor, err := p.Preprocess(bytes.NewReader(solidPNG(t, 2, 2, color.NRGBA{R: 255, A: 255})))
			require.NoError(t, err)
			for c := 0; c < 3; c++ {
				assert.InDelta(t, tt.want[c], tensor.Data[c], 1e-5)
			}
		})
	}
}

func TestPreprocess_CorruptInput(t *testing.T) {
	p := newPreprocessor(t, nil)

	for name, data := range map[string][]byte{
		"garbage":   []byte("definitely not an image"),
		"empty":     {},
		"truncated": solidPNG(t, 10, 10, color.White)[:40],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Preprocess(bytes.NewReader(data))
			require.Error(t, err)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "decode", perr.Op)
			assert.True(t, strings.HasPrefix(err.Error(), "Error during image preprocessing: "))
		})
	}
}

func TestFromImage_ZeroSize(t *testing.T) {
	p := newPreprocessor(t, nil)

	_, err := p.FromImage(image.NewRGBA(image.Rect(0, 0, 0, 10)))
	require.ErrorIs(t, err, ErrEmptyImage)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "convert", perr.Op)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := []func(*Options){
		func(o *Options) { o.Size = 0 },
		func(o *Options) { o.Layout = "HWC" },
		func(o *Options) { o.Normalization = "caffe" },
		func(o *Options) { o.Interpolation = "area" },
		func(o *Options) { o.MaxPixels = -1 },
	}
	for _, mutate := range bad {
		opts := DefaultOptions()
		mutate(&opts)
		assert.Error(t, opts.Validate())
		_, err := New(opts)
		assert.Error(t, err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring an 8-bit gray
// image of w by h pixels, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestPreprocess_RejectsDeclaredOversize(t *testing.T) {
	p := newPreprocessor(t, nil)

	_, err := p.Preprocess(bytes.NewReader(pngHeader(40000, 40000)))
	require.ErrorIs(t, err, ErrTooManyPixels)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "decode", perr.Op)
	assert.Contains(t, err.Error(), "40000x40000")
}

func TestPreprocess_MaxPixelsBoundary(t *testing.T) {
	p := newPreprocessor(t, func(o *Options) { o.MaxPixels = 100 })

	_, err := p.Preprocess(bytes.NewReader(solidPNG(t, 10, 10, color.White)))
	require.NoError(t, err)

	_, err = p.Preprocess(bytes.NewReader(solidPNG(t, 10, 11, color.White)))
	require.ErrorIs(t, err, ErrTooManyPixels)
}

func TestNew_DefaultsMaxPixels(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPixels = 0

	p, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxPixels), p.Options().MaxPixels)
}

func TestPreprocess_WebP(t *testing.T) {
	p := newPreprocessor(t, nil)

	for _, name := range []string{"gopher.lossless.webp", "gradient.lossy.webp"} {
		t.Run(name, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join("testdata", name))
			require.NoError(t, err)

			tensor, err := p.Preprocess(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 240, 240, 3}, tensor.Shape)
			assert.Equal(t, 240*240*3, tensor.Len())
		})
	}
}
