package model

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
)

// Classifier runs a loaded image classification model. Implementations are
// safe for concurrent use.
type Classifier interface {
	Predict(input []float32) (*Prediction, error)
	Metadata() Metadata
	Close() error
}

const (
	BackendAuto   = "auto"
	BackendONNX   = "onnx"
	BackendTFLite = "tflite"
)

type Options struct {
	ModelPath    string
	LabelsPath   string
	MetadataPath string
	Backend      string
	LibraryPath  string
	ImageSize    int
	NumThreads   int
	TopK         int
}

// Open loads the labels, optional metadata and model artifact and returns a
// ready classifier for the configured backend.
func Open(opts Options) (Classifier, error) {
	backend, err := ResolveBackend(opts.Backend, opts.ModelPath)
	if err != nil {
		return nil, err
	}

	var metadata Metadata
	if opts.MetadataPath != "" {
		if metadata, err = LoadMetadata(opts.MetadataPath); err != nil {
			return nil, err
		}
	}

	labels := metadata.Classes
	if opts.LabelsPath != "" {
		if labels, err = LoadLabels(opts.LabelsPath); err != nil {
			return nil, err
		}
	}
	if len(labels) == 0 {
		return nil, ErrEmptyLabels
	}
	metadata.Classes = labels
	if metadata.ImageSize == 0 {
		metadata.ImageSize = opts.ImageSize
	}

	switch backend {
	case BackendONNX:
		c, err := NewONNX(opts.ModelPath, metadata, opts.LibraryPath, opts.TopK)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendTFLite:
		return newTFLite(opts.ModelPath, metadata, opts.NumThreads, opts.TopK)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
}

// ResolveBackend maps "auto" to a concrete backend by model file extension.
func ResolveBackend(backend, modelPath string) (string, error) {
	switch b := strings.ToLower(backend); b {
	case BackendONNX, BackendTFLite:
		return b, nil
	case "", BackendAuto:
		switch strings.ToLower(filepath.Ext(modelPath)) {
		case ".onnx":
			return BackendONNX, nil
		case ".tflite":
			return BackendTFLite, nil
		}
		return "", fmt.Errorf("%w: cannot infer backend from %q", ErrUnknownBackend, modelPath)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}

// completeMetadata fills shape-derived fields once the model's input and
// output shapes are known.
func completeMetadata(m *Metadata, inputShape, outputShape []int64) error {
	if len(m.InputShape) == 0 {
		m.InputShape = append([]int64(nil), inputShape...)
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = append([]int64(nil), outputShape...)
	}
	if m.Layout == "" {
		m.Layout = guessLayout(m.InputShape)
	}
	if err := imageSizeFromShape(m); err != nil {
		return err
	}
	fixDynamicDims(m)

	if n := shapeSize(m.OutputShape); n != len(m.Classes) {
		return fmt.Errorf("%w: %d outputs, %d labels", ErrLabelMismatch, n, len(m.Classes))
	}
	return nil
}

// imageSizeFromShape lets fixed spatial dimensions of the model override the
// configured image size, which then only fills dynamic dimensions.
func imageSizeFromShape(m *Metadata) error {
	if len(m.InputShape) != 4 {
		return nil
	}
	hIdx, wIdx, cIdx := 1, 2, 3
	if m.Layout == LayoutNCHW {
		hIdx, wIdx, cIdx = 2, 3, 1
	}

	h, w := m.InputShape[hIdx], m.InputShape[wIdx]
	switch {
	case h > 0 && w > 0:
		if h != w {
			return fmt.Errorf("%w: non-square model input %dx%d", ErrInputSize, w, h)
		}
		m.ImageSize = int(h)
	case h > 0:
		m.ImageSize = int(h)
	case w > 0:
		m.ImageSize = int(w)
	}
	if m.InputShape[cIdx] <= 0 {
		m.InputShape[cIdx] = 3
	}
	return nil
}

func guessLayout(shape []int64) Layout {
	if len(shape) == 4 && shape[1] == 3 && shape[3] != 3 {
		return LayoutNCHW
	}
	return LayoutNHWC
}

// fixDynamicDims pins the batch dimension to 1 and unknown spatial
// dimensions to the configured image size.
func fixDynamicDims(m *Metadata) {
	for i, d := range m.InputShape {
		if d > 0 {
			continue
		}
		if i == 0 {
			m.InputShape[i] = 1
		} else {
			m.InputShape[i] = int64(m.ImageSize)
		}
	}
	for i, d := range m.OutputShape {
		if d <= 0 {
			m.OutputShape[i] = 1
		}
	}
}

// Decode turns a probability vector into a Prediction. Ties resolve to the
// lowest index.
func Decode(probs []float32, labels []string, topK int, softmax bool) *Prediction {
	n := len(probs)
	if len(labels) < n {
		n = len(labels)
	}
	scores := probs[:n]
	if softmax {
		scores = Softmax(scores)
	}

	maxIdx := 0
	predictions := make(map[string]float32, n)
	for i, val := range scores {
		predictions[labels[i]] = val
		if val > scores[maxIdx] {
			maxIdx = i
		}
	}

	pred := &Prediction{
		Index:       maxIdx,
		Predictions: predictions,
		Top:         topScores(scores, labels, topK),
	}
	if n > 0 {
		pred.Class = labels[maxIdx]
		pred.Confidence = scores[maxIdx]
	}
	return pred
}

func topScores(scores []float32, labels []string, k int) []ClassScore {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	if k <= 0 || k > len(idx) {
		k = len(idx)
	}
	top := make([]ClassScore, k)
	for i := 0; i < k; i++ {
		top[i] = ClassScore{Class: labels[idx[i]], Probability: scores[idx[i]]}
	}
	return top
}

func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
