package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/Brownie44l1/image-moderation/internal/moderation"
	"github.com/Brownie44l1/image-moderation/internal/preprocess"
)

// Metadata describes the exported model and the input it was trained on.
type Metadata struct {
	InputName     string                   `json:"input_name"`
	OutputName    string                   `json:"output_name"`
	InputShape    []int64                  `json:"input_shape"`
	OutputShape   []int64                  `json:"output_shape"`
	Classes       []string                 `json:"classes"`
	ImageSize     int                      `json:"image_size"`
	Layout        preprocess.Layout        `json:"layout"`
	Normalization preprocess.Normalization `json:"normalization"`
	Interpolation preprocess.Interpolation `json:"interpolation"`
}

type Prediction struct {
	Class       string             `json:"class"`
	Index       int                `json:"-"`
	Confidence  float32            `json:"confidence"`
	Scores      []float32          `json:"-"`
	Predictions map[string]float32 `json:"predictions"`
}

// LoadMetadata reads, defaults and validates a metadata file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return &m, nil
}

func (m *Metadata) applyDefaults() {
	def := preprocess.DefaultOptions()
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.ImageSize == 0 {
		m.ImageSize = def.Size
	}
	if m.Layout == "" {
		m.Layout = def.Layout
	}
	if m.Normalization == "" {
		m.Normalization = def.Normalization
	}
	if m.Interpolation == "" {
		m.Interpolation = def.Interpolation
	}
	if len(m.InputShape) == 0 {
		m.InputShape = m.PreprocessOptions().Shape()
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
}

// PreprocessOptions returns the preprocessing the model input requires, with
// the default pixel limit.
func (m *Metadata) PreprocessOptions() preprocess.Options {
	return preprocess.Options{
		Size:          m.ImageSize,
		Layout:        m.Layout,
		Normalization: m.Normalization,
		Interpolation: m.Interpolation,
		MaxPixels:     preprocess.DefaultMaxPixels,
	}
}

// Validate checks that the artifact matches what the moderation pipeline feeds it.
func (m *Metadata) Validate() error {
	if !slices.Equal(m.Classes, moderation.ClassNames) {
		return fmt.Errorf("classes must be %v, got %v", moderation.ClassNames, m.Classes)
	}

	opts := m.PreprocessOptions()
	if err := opts.Validate(); err != nil {
		return err
	}
	if want := opts.Shape(); !slices.Equal(m.InputShape, want) {
		return fmt.Errorf("input shape %v does not match %s image of size %d (want %v)",
			m.InputShape, m.Layout, m.ImageSize, want)
	}
	if n := elements(m.OutputShape); n != int64(len(m.Classes)) {
		return fmt.Errorf("output shape %v holds %d scores, want %d", m.OutputShape, n, len(m.Classes))
	}
	return nil
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
