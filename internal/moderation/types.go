package moderation

import (
	"context"
	"fmt"
	"io"

	"github.com/Brownie44l1/image-moderation/internal/preprocess"
)

// Label is a class of the moderation model. The value is the output index.
type Label int

const (
	LabelSafe Label = iota
	LabelUnsafe
)

// ClassNames lists the model classes in output order.
var ClassNames = []string{"Safe", "Unsafe"}

func (l Label) String() string {
	if l < 0 || int(l) >= len(ClassNames) {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return ClassNames[l]
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LabelFromIndex maps an output index to a label.
func LabelFromIndex(i int) (Label, error) {
	if i < 0 || i >= len(ClassNames) {
		return 0, fmt.Errorf("class index %d out of range [0,%d)", i, len(ClassNames))
	}
	return Label(i), nil
}

const (
	ResultOK    = "ok"
	ResultFalse = "false"
)

// Verdict is the aggregated outcome of one batch.
type Verdict struct {
	Result      string `json:"result"`
	SafeCount   int    `json:"safe_count"`
	UnsafeCount int    `json:"unsafe_count"`
}

func (v Verdict) Total() int { return v.SafeCount + v.UnsafeCount }

// Classification is the model's answer for one image.
type Classification struct {
	Label      Label
	Confidence float32
	Scores     []float32
}

// Image is one uploaded file. Open is called once per classification.
type Image struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Classifier runs the moderation model on a preprocessed tensor.
type Classifier interface {
	Classify(ctx context.Context, tensor *preprocess.Tensor) (*Classification, error)
}

// Recorder receives moderation events. All methods must be safe for concurrent use.
type Recorder interface {
	ObserveClassification(label string, seconds float64)
	ObserveVerdict(result string, images int)
	ObservePreprocessFailure()
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(string, float64) {}
func (nopRecorder) ObserveVerdict(string, int)            {}
func (nopRecorder) ObservePreprocessFailure()             {}
