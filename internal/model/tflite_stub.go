//go:build !tflite

package model

import "fmt"

func newTFLite(modelPath string, _ Metadata, _, _ int) (Classifier, error) {
	return nil, fmt.Errorf("%w: %s needs a binary built with -tags tflite", ErrUnknownBackend, modelPath)
}
