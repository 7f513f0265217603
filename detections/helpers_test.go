package detections

import "github.com/Tutortoise/damage-inspection-service/models"

// anchor is one injected prediction for a synthetic tensor.
type anchor struct {
	index  int
	box    models.Box
	scores []float32
}

func newTensor(anchors, classes int, preds ...anchor) Tensor {
	attrs := 4 + classes
	data := make([]float32, attrs*anchors)
	for _, p := range preds {
		data[p.index] = p.box.X
		data[anchors+p.index] = p.box.Y
		data[2*anchors+p.index] = p.box.W
		data[3*anchors+p.index] = p.box.H
		for c, s := range p.scores {
			data[(4+c)*anchors+p.index] = s
		}
	}
	return NewTensor(data, anchors)
}
