//go:build tflite

package model

import (
	"fmt"
	"sync"

	"github.com/mattn/go-tflite"
)

// TFLiteClassifier runs a TensorFlow Lite model. The interpreter is not
// reentrant, so Predict calls are serialized.
type TFLiteClassifier struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	metadata    Metadata
	topK        int
}

func newTFLite(modelPath string, metadata Metadata, threads, topK int) (Classifier, error) {
	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, fmt.Errorf("failed to load tflite model %s", modelPath)
	}

	options := tflite.NewInterpreterOptions()
	if threads > 0 {
		options.SetNumThread(threads)
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("failed to create tflite interpreter")
	}

	c := &TFLiteClassifier{
		model:       model,
		options:     options,
		interpreter: interpreter,
		topK:        topK,
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		c.Close()
		return nil, fmt.Errorf("failed to allocate tensors: status %d", status)
	}

	input := interpreter.GetInputTensor(0)
	output := interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		c.Close()
		return nil, fmt.Errorf("model %s has no inputs or outputs", modelPath)
	}
	if input.Type() != tflite.Float32 || output.Type() != tflite.Float32 {
		c.Close()
		return nil, fmt.Errorf("model %s: only float32 tensors are supported", modelPath)
	}

	metadata.InputName = input.Name()
	metadata.OutputName = output.Name()
	if err := completeMetadata(&metadata, tensorShape(input), tensorShape(output)); err != nil {
		c.Close()
		return nil, err
	}
	c.metadata = metadata
	return c, nil
}

func tensorShape(t *tflite.Tensor) []int64 {
	shape := make([]int64, t.NumDims())
	for i := range shape {
		shape[i] = int64(t.Dim(i))
	}
	return shape
}

func (c *TFLiteClassifier) Metadata() Metadata {
	return c.metadata
}

func (c *TFLiteClassifier) Predict(input []float32) (*Prediction, error) {
	if want := c.metadata.InputSize(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputSize, want, len(input))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.interpreter.GetInputTensor(0).Float32s(), input)
	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("inference failed: status %d", status)
	}

	probs := append([]float32(nil), c.interpreter.GetOutputTensor(0).Float32s()...)
	return Decode(probs, c.metadata.Classes, c.topK, c.metadata.Softmax), nil
}

func (c *TFLiteClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.options != nil {
		c.options.Delete()
		c.options = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
	return nil
}
