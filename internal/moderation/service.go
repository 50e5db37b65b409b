// Package moderation classifies uploaded images and folds the per-image labels
// into a batch verdict.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/image-moderation/internal/preprocess"
)

type Service struct {
	classifier   Classifier
	preprocessor *preprocess.Preprocessor
	maxImages    int
	recorder     Recorder
	log          logrus.FieldLogger
}

type Option func(*Service)

// WithMaxImages caps the batch size. Zero disables the cap.
func WithMaxImages(n int) Option {
	return func(s *Service) { s.maxImages = n }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService wires the classifier loaded at startup. The classifier is never
// replaced for the lifetime of the service.
func NewService(classifier Classifier, preprocessor *preprocess.Preprocessor, opts ...Option) (*Service, error) {
	if classifier == nil {
		return nil, errors.New("moderation: classifier is required")
	}
	if preprocessor == nil {
		return nil, errors.New("moderation: preprocessor is required")
	}

	s := &Service{
		classifier:   classifier,
		preprocessor: preprocessor,
		recorder:     nopRecorder{},
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ModerateBatch classifies every image and returns the majority verdict.
// A single bad image fails the whole batch; no partial counts are returned.
func (s *Service) ModerateBatch(ctx context.Context, images []Image) (*Verdict, error) {
	if len(images) == 0 {
		return nil, ErrNoFiles
	}
	if s.maxImages > 0 && len(images) > s.maxImages {
		return nil, &InputError{
			Message: fmt.Sprintf("Too many images in the request (max %d)", s.maxImages),
			Err:     ErrTooManyImages,
		}
	}

	labels := make([]Label, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("moderation aborted after %d of %d images: %w", i, len(images), err)
		}

		result, err := s.ClassifyImage(ctx, img)
		if err != nil {
			return nil, err
		}
		labels = append(labels, result.Label)
	}

	verdict := Tally(labels)
	s.recorder.ObserveVerdict(verdict.Result, verdict.Total())
	s.log.WithFields(logrus.Fields{
		"result":       verdict.Result,
		"safe_count":   verdict.SafeCount,
		"unsafe_count": verdict.UnsafeCount,
	}).Debug("[Moderation] Batch moderated")

	return &verdict, nil
}

// ClassifyImage preprocesses and classifies a single image.
func (s *Service) ClassifyImage(ctx context.Context, img Image) (*Classification, error) {
	if img.Open == nil {
		return nil, fmt.Errorf("image %q: no content", img.Name)
	}

	rc, err := img.Open()
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", img.Name, err)
	}
	tensor, err := s.preprocessor.Preprocess(rc)
	rc.Close()
	if err != nil {
		var perr *preprocess.Error
		if errors.As(err, &perr) {
			s.recorder.ObservePreprocessFailure()
			s.log.WithField("image", img.Name).Debug("[Moderation] Couldn't preprocess image: ", err.Error())
			return nil, &InputError{Message: perr.Error(), Err: perr}
		}
		return nil, fmt.Errorf("preprocess image %q: %w", img.Name, err)
	}

	return s.Classify(ctx, tensor)
}

// Classify runs one forward pass on an already preprocessed tensor.
func (s *Service) Classify(ctx context.Context, tensor *preprocess.Tensor) (*Classification, error) {
	start := time.Now()
	result, err := s.classifier.Classify(ctx, tensor)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if result == nil {
		return nil, errors.New("classify: empty result")
	}
	if _, err := LabelFromIndex(int(result.Label)); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	s.recorder.ObserveClassification(result.Label.String(), time.Since(start).Seconds())
	return result, nil
}

// Tally counts labels and applies the majority rule; a tie is "ok".
func Tally(labels []Label) Verdict {
	var v Verdict
	for _, l := range labels {
		if l == LabelSafe {
			v.SafeCount++
		} else {
			v.UnsafeCount++
		}
	}
	if v.SafeCount >= v.UnsafeCount {
		v.Result = ResultOK
	} else {
		v.Result = ResultFalse
	}
	return v
}
