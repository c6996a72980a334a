package model

import "errors"

var (
	ErrEmptyLabels    = errors.New("label list is empty")
	ErrLabelMismatch  = errors.New("model output does not match label count")
	ErrUnknownBackend = errors.New("unknown model backend")
	ErrInputSize      = errors.New("input tensor has wrong size")
)

// Layout is the pixel ordering the model expects for its input tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	Layout      Layout   `json:"layout"`
	// Softmax is set when the model emits logits instead of probabilities.
	Softmax bool `json:"softmax"`
}

// InputSize is the number of float32 values one inference consumes.
func (m Metadata) InputSize() int {
	return shapeSize(m.InputShape)
}

type ClassScore struct {
	Class       string  `json:"class"`
	Probability float32 `json:"probability"`
}

type Prediction struct {
	ID          string             `json:"id"`
	Class       string             `json:"class"`
	Index       int                `json:"index"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
	Top         []ClassScore       `json:"top"`
}

func shapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
