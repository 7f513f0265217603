package detections

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/x448/float16"
)

var ErrTensorShape = errors.New("detection tensor shape mismatch")

// Tensor is a raw detection output laid out as [attributes][anchors]. The value
// of attribute c for anchor i lives at c*Anchors+i.
type Tensor struct {
	Data    []float32
	Anchors int
}

func NewTensor(data []float32, anchors int) Tensor {
	return Tensor{Data: data, Anchors: anchors}
}

// Attributes is 4 box coordinates plus one column per class.
func (t Tensor) Attributes() int {
	if t.Anchors <= 0 {
		return 0
	}
	return len(t.Data) / t.Anchors
}

func (t Tensor) Validate() error {
	if t.Anchors <= 0 {
		return fmt.Errorf("%w: anchors must be positive, got %d", ErrTensorShape, t.Anchors)
	}
	if len(t.Data)%t.Anchors != 0 {
		return fmt.Errorf("%w: length %d is not a multiple of %d anchors", ErrTensorShape, len(t.Data), t.Anchors)
	}
	if attrs := t.Attributes(); attrs < 5 {
		return fmt.Errorf("%w: need at least 5 attributes, got %d", ErrTensorShape, attrs)
	}
	return nil
}

// At decodes anchor i. The confidence is the highest class score, which is
// just column 4 for single class models.
func (t Tensor) At(i int) models.Detection {
	n := t.Anchors
	attrs := t.Attributes()

	class := 0
	confidence := t.Data[4*n+i]
	for c := 5; c < attrs; c++ {
		if score := t.Data[c*n+i]; score > confidence {
			confidence = score
			class = c - 4
		}
	}

	return models.Detection{
		Box: models.Box{
			X: t.Data[i],
			Y: t.Data[n+i],
			W: t.Data[2*n+i],
			H: t.Data[3*n+i],
		},
		Confidence: confidence,
		Anchor:     i,
		Class:      class,
	}
}

// Decode returns one detection per anchor in anchor order.
func Decode(t Tensor) ([]models.Detection, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	out := make([]models.Detection, t.Anchors)
	for i := range out {
		out[i] = t.At(i)
	}
	return out, nil
}

// DecodeAbove keeps every anchor whose confidence is strictly above threshold
// and whose area is at least minArea. Results are sorted by confidence, ties
// by anchor index.
func DecodeAbove(t Tensor, threshold, minArea float32) ([]models.Detection, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	const chunkSize = 512
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []models.Detection, numWorkers)

	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local []models.Detection

			for start := range jobs {
				end := start + chunkSize
				if end > t.Anchors {
					end = t.Anchors
				}
				for i := start; i < end; i++ {
					det := t.At(i)
					if det.Confidence > threshold && det.Box.Area() >= minArea {
						local = append(local, det)
					}
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < t.Anchors; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	detections := make([]models.Detection, 0, 16)
	for chunk := range results {
		detections = append(detections, chunk...)
	}

	sortDetectionsByConfidence(detections)
	return detections, nil
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Confidence != detections[j].Confidence {
			return detections[i].Confidence > detections[j].Confidence
		}
		return detections[i].Anchor < detections[j].Anchor
	})
}

// HalfToFloat widens a little endian IEEE 754 half precision buffer into dst.
func HalfToFloat(dst []float32, src []byte) error {
	if len(src) != 2*len(dst) {
		return fmt.Errorf("%w: %d half bytes for %d floats", ErrTensorShape, len(src), len(dst))
	}
	for i := range dst {
		bits := uint16(src[2*i]) | uint16(src[2*i+1])<<8
		dst[i] = float16.Frombits(bits).Float32()
	}
	return nil
}
