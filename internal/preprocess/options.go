package preprocess

import (
	"fmt"

	"github.com/nfnt/resize"
)

// Layout is the memory order of the model input tensor.
type Layout string

const (
	LayoutNHWC Layout = "NHWC"
	LayoutNCHW Layout = "NCHW"
)

// Normalization selects the per-channel scaling a model family was trained with.
type Normalization string

const (
	// NormEfficientNet keeps pixels in [0, 255]. Keras EfficientNet graphs
	// carry their own rescaling layers.
	NormEfficientNet Normalization = "efficientnet"
	// NormUnit scales pixels to [0, 1].
	NormUnit Normalization = "unit"
	// NormTF scales pixels to [-1, 1].
	NormTF Normalization = "tf"
	// NormImageNet scales to [0, 1] then applies the ImageNet mean and std.
	NormImageNet Normalization = "imagenet"
)

type Interpolation string

const (
	InterpolationNearest  Interpolation = "nearest"
	InterpolationBilinear Interpolation = "bilinear"
	InterpolationBicubic  Interpolation = "bicubic"
	InterpolationLanczos3 Interpolation = "lanczos3"
)

const (
	DefaultImageSize = 240
	// DefaultMaxPixels rejects decompression bombs before any pixel is decoded.
	DefaultMaxPixels = 89_478_485
)

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

type Options struct {
	Size          int
	Layout        Layout
	Normalization Normalization
	Interpolation Interpolation
	// MaxPixels bounds width*height of an upload. Zero means DefaultMaxPixels.
	MaxPixels int64
}

// DefaultOptions matches the EfficientNetB1 moderation model.
func DefaultOptions() Options {
	return Options{
		Size:          DefaultImageSize,
		Layout:        LayoutNHWC,
		Normalization: NormEfficientNet,
		Interpolation: InterpolationBicubic,
		MaxPixels:     DefaultMaxPixels,
	}
}

func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("image size must be positive, got %d", o.Size)
	}
	switch o.Layout {
	case LayoutNHWC, LayoutNCHW:
	default:
		return fmt.Errorf("unknown layout %q", o.Layout)
	}
	switch o.Normalization {
	case NormEfficientNet, NormUnit, NormTF, NormImageNet:
	default:
		return fmt.Errorf("unknown normalization %q", o.Normalization)
	}
	if o.MaxPixels < 0 {
		return fmt.Errorf("max pixels must not be negative, got %d", o.MaxPixels)
	}
	if _, err := o.interpolationFunc(); err != nil {
		return err
	}
	return nil
}

// Shape returns the tensor shape produced for these options, batch dimension included.
func (o Options) Shape() []int64 {
	size := int64(o.Size)
	if o.Layout == LayoutNCHW {
		return []int64{1, 3, size, size}
	}
	return []int64{1, size, size, 3}
}

func (o Options) interpolationFunc() (resize.InterpolationFunction, error) {
	switch o.Interpolation {
	case InterpolationNearest:
		return resize.NearestNeighbor, nil
	case InterpolationBilinear:
		return resize.Bilinear, nil
	case InterpolationBicubic, "":
		return resize.Bicubic, nil
	case InterpolationLanczos3:
		return resize.Lanczos3, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", o.Interpolation)
}
