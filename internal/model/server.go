package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/image-moderation/internal/moderation"
	"github.com/Brownie44l1/image-moderation/internal/preprocess"
)

// Server owns one ONNX Runtime session. The session is bound to a single
// input/output tensor pair, so inference calls are serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	log          logrus.FieldLogger
}

type Config struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default search.
	LibraryPath string
}

func NewServer(cfg Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	s := &Server{Metadata: *metadata, log: log}

	s.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	s.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(cfg.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{s.inputTensor}, []ort.ArbitraryTensor{s.outputTensor},
		nil)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.WithFields(logrus.Fields{
		"model":       cfg.ModelPath,
		"input_shape": metadata.InputShape,
		"classes":     metadata.Classes,
	}).Info("[Model] Loaded")

	return s, nil
}

// Predict runs one forward pass. The input length must match the model input.
func (s *Server) Predict(inputData []float32) (*Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("model session is closed")
	}

	in := s.inputTensor.GetData()
	if len(inputData) != len(in) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(in), len(inputData))
	}
	copy(in, inputData)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, len(s.outputTensor.GetData()))
	copy(scores, s.outputTensor.GetData())

	return newPrediction(scores, s.Metadata.Classes)
}

// Classify implements moderation.Classifier.
func (s *Server) Classify(ctx context.Context, tensor *preprocess.Tensor) (*moderation.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.Predict(tensor.Data)
	if err != nil {
		return nil, err
	}

	label, err := moderation.LabelFromIndex(p.Index)
	if err != nil {
		return nil, err
	}
	return &moderation.Classification{
		Label:      label,
		Confidence: p.Confidence,
		Scores:     p.Scores,
	}, nil
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		s.log.Warn("[Model] Couldn't destroy ONNX environment: ", err.Error())
	}
}

func newPrediction(scores []float32, classes []string) (*Prediction, error) {
	if len(scores) < len(classes) || len(classes) == 0 {
		return nil, fmt.Errorf("model returned %d scores for %d classes", len(scores), len(classes))
	}

	scores = scores[:len(classes)]
	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("model returned non-finite score %v for class %s", v, classes[i])
		}
	}
	idx := argmax(scores)
	predictions := make(map[string]float32, len(classes))
	for i, c := range classes {
		predictions[c] = scores[i]
	}

	return &Prediction{
		Class:       classes[idx],
		Index:       idx,
		Confidence:  scores[idx],
		Scores:      scores,
		Predictions: predictions,
	}, nil
}

// argmax returns the index of the highest score; ties keep the lowest index.
func argmax(scores []float32) int {
	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx
}

var _ moderation.Classifier = (*Server)(nil)
