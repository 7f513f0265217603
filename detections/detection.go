package detections

import (
	"context"
	"errors"
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelSession owns one ONNX Runtime session and its bound tensors. A session
// is not safe for concurrent use; sessions are shared through a pool.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
	// HalfOutput replaces Output for models exported with float16 heads.
	HalfOutput *ort.CustomDataTensor
	Anchors    int

	widened []float32
}

func NewModelSession(session *ort.AdvancedSession, input, output *ort.Tensor[float32], anchors int) *ModelSession {
	return &ModelSession{
		Session: session,
		Input:   input,
		Output:  output,
		Anchors: anchors,
	}
}

func NewHalfModelSession(session *ort.AdvancedSession, input *ort.Tensor[float32], output *ort.CustomDataTensor, anchors int) *ModelSession {
	return &ModelSession{
		Session:    session,
		Input:      input,
		HalfOutput: output,
		Anchors:    anchors,
		widened:    make([]float32, len(output.GetData())/2),
	}
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
	if m.HalfOutput != nil {
		m.HalfOutput.Destroy()
	}
}

// Run copies input into the bound input tensor and runs the model. The
// returned tensor aliases session memory and is only valid until the next Run.
func (m *ModelSession) Run(input []float32) (Tensor, error) {
	if m.Session == nil || m.Input == nil {
		return Tensor{}, &ProcessingError{Message: "model session not initialized"}
	}

	data := m.Input.GetData()
	if len(input) != len(data) {
		return Tensor{}, fmt.Errorf("%w: input has %d values, model expects %d", ErrTensorShape, len(input), len(data))
	}
	copy(data, input)

	if err := m.Session.Run(); err != nil {
		return Tensor{}, &ProcessingError{Message: "model inference", Cause: err}
	}

	if m.HalfOutput != nil {
		if err := HalfToFloat(m.widened, m.HalfOutput.GetData()); err != nil {
			return Tensor{}, err
		}
		return NewTensor(m.widened, m.Anchors), nil
	}
	return NewTensor(m.Output.GetData(), m.Anchors), nil
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Retry runs fn up to RetryAttempts times, backing off linearly between
// attempts. Shape errors are returned immediately since retrying cannot fix them.
func Retry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTensorShape) {
			return err
		}
		lastErr = err

		if attempt < RetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * RetryDelayMs * time.Millisecond):
			}
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return errors.New("unknown error")
}
