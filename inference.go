package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/Tutortoise/damage-inspection-service/config"
	"github.com/Tutortoise/damage-inspection-service/detections"
	ort "github.com/yalue/onnxruntime_go"
)

func initSession(modelPath string, m config.ModelConfig, threads int) (*detections.ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options.SetIntraOpNumThreads(threads)
	options.SetInterOpNumThreads(threads)

	attrs := 4 + m.Classes
	inputShape := ort.NewShape(1, 3, int64(m.InputSize), int64(m.InputSize))
	outputShape := ort.NewShape(1, int64(attrs), int64(m.Anchors))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	var (
		outputTensor *ort.Tensor[float32]
		halfTensor   *ort.CustomDataTensor
		output       ort.ArbitraryTensor
	)
	if m.Half {
		halfTensor, err = ort.NewCustomDataTensor(outputShape, make([]byte, 2*attrs*m.Anchors), ort.TensorElementDataTypeFloat16)
		output = halfTensor
	} else {
		outputTensor, err = ort.NewEmptyTensor[float32](outputShape)
		output = outputTensor
	}
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{m.Input},
		[]string{m.Output},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	if m.Half {
		return detections.NewHalfModelSession(session, inputTensor, halfTensor, m.Anchors), nil
	}
	return detections.NewModelSession(session, inputTensor, outputTensor, m.Anchors), nil
}

// onnxModel runs inference on sessions leased from a pool.
type onnxModel struct {
	pool *ModelSessionPool
}

func (m *onnxModel) Infer(ctx context.Context, input []float32, fn func(detections.Tensor) error) error {
	session, err := m.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	var out detections.Tensor
	err = detections.Retry(ctx, func() error {
		var err error
		out, err = session.Run(input)
		return err
	})
	if err != nil {
		// A session that keeps failing at runtime is not trusted again.
		if brokenSession(ctx, err) {
			m.pool.Discard(session)
		} else {
			m.pool.Release(session)
		}
		return err
	}
	defer m.pool.Release(session)
	return fn(out)
}

func brokenSession(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, detections.ErrTensorShape)
}
