// Package pipeline runs the per-frame detection cycle and the loop that feeds
// it from a video source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/Tutortoise/damage-inspection-service/blueprint"
	"github.com/Tutortoise/damage-inspection-service/detections"
	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/Tutortoise/damage-inspection-service/render"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// Inferer runs one model on a preprocessed CHW input. The tensor handed to fn
// is only valid for the duration of the call; model resources are held until
// fn returns.
type Inferer interface {
	Infer(ctx context.Context, input []float32, fn func(detections.Tensor) error) error
}

type Stage struct {
	Name     string
	Model    Inferer
	Selector detections.Selector
}

type Config struct {
	// Stages is 1 (damage model on the full frame) or 2 (vehicle, then damage
	// on the vehicle crop).
	Stages  int
	Vehicle Stage
	Damage  Stage
	Mapper  blueprint.Mapper
	// InputSize is the square model input resolution.
	InputSize int
	// Cluster merges overlapping single stage boxes before drawing.
	Cluster bool
	Logger  logrus.FieldLogger
}

// Pipeline is safe for concurrent use as long as its Inferers are. It keeps
// no per-session state.
type Pipeline struct {
	cfg Config
	pre *detections.Preprocessor
	log logrus.FieldLogger
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Stages != 1 && cfg.Stages != 2 {
		return nil, fmt.Errorf("stage count must be 1 or 2, got %d", cfg.Stages)
	}
	if cfg.Damage.Model == nil {
		return nil, errors.New("damage stage has no model")
	}
	if cfg.Stages == 2 && cfg.Vehicle.Model == nil {
		return nil, errors.New("vehicle stage has no model")
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = detections.InputWidth
	}
	if cfg.Mapper == nil {
		cfg.Mapper = blueprint.New(blueprint.YBanded)
	}
	if cfg.Vehicle.Name == "" {
		cfg.Vehicle.Name = "vehicle"
	}
	if cfg.Damage.Name == "" {
		cfg.Damage.Name = "damage"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &Pipeline{
		cfg: cfg,
		pre: detections.NewPreprocessor(cfg.InputSize, cfg.InputSize),
		log: cfg.Logger,
	}, nil
}

func (p *Pipeline) Stages() int {
	return p.cfg.Stages
}

// Process runs every stage on frame. When canvas is non-nil the frame and its
// overlay boxes are drawn on it. A frame without detections is not an error;
// the report simply has no Damage.
func (p *Pipeline) Process(ctx context.Context, frame image.Image, canvas *render.Canvas) (models.FrameReport, error) {
	start := time.Now()
	timings := &models.ProcessingTimings{}
	report := models.FrameReport{Timestamp: start, Timings: timings, Panels: models.PanelSet{}}

	bounds := frame.Bounds()
	width, height := float32(bounds.Dx()), float32(bounds.Dy())

	resizeStart := time.Now()
	resized := imaging.Resize(frame, p.cfg.InputSize, p.cfg.InputSize, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	var err error
	if p.cfg.Stages == 1 {
		err = p.singleStage(ctx, resized, &report)
	} else {
		err = p.twoStage(ctx, frame, resized, &report)
	}
	if err != nil {
		timings.Total = time.Since(start)
		return report, err
	}

	for i := range report.Boxes {
		report.Boxes[i].Rect = report.Boxes[i].Box.Pixels(width, height)
	}

	if report.DamagePoint != nil {
		mapStart := time.Now()
		report.Panels = p.cfg.Mapper.Map(report.DamagePoint.X, report.DamagePoint.Y)
		timings.Mapping = time.Since(mapStart)
	}

	if canvas != nil {
		renderStart := time.Now()
		canvas.Resize(bounds.Dx(), bounds.Dy())
		canvas.DrawFrame(frame)
		canvas.Paint(func(dst *image.RGBA) {
			drawOverlay(dst, report.Boxes)
		})
		timings.Render = time.Since(renderStart)
	}

	timings.Total = time.Since(start)
	return report, nil
}

func drawOverlay(dst draw.Image, boxes []models.OverlayBox) {
	for _, ob := range boxes {
		render.Overlay(dst, ob)
	}
}

// runStage leases an input buffer for the stage and gives it back once the
// model is done with it, whatever the outcome.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, img image.Image, t *models.ProcessingTimings, infer *time.Duration, fn func(detections.Tensor) error) error {
	buf := p.pre.Acquire()
	defer p.pre.Release(buf)

	preStart := time.Now()
	p.pre.Process(img, buf)
	t.Preprocess += time.Since(preStart)

	inferStart := time.Now()
	err := stage.Model.Infer(ctx, buf.Data, fn)
	*infer += time.Since(inferStart)
	if err != nil {
		return &detections.ProcessingError{Message: stage.Name + " stage", Cause: err}
	}
	return nil
}

func (p *Pipeline) singleStage(ctx context.Context, resized image.Image, report *models.FrameReport) error {
	sel := p.cfg.Damage.Selector

	var (
		best  models.Detection
		found bool
		all   []models.Detection
	)

	err := p.runStage(ctx, p.cfg.Damage, resized, report.Timings, &report.Timings.Inference, func(t detections.Tensor) error {
		postStart := time.Now()
		defer func() { report.Timings.Postprocess += time.Since(postStart) }()

		var err error
		best, found, err = sel.Select(t)
		if err != nil || !found {
			return err
		}
		all, err = detections.DecodeAbove(t, sel.Threshold, sel.MinArea)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if p.cfg.Cluster {
		all = detections.ClusterBoxes(all)
	}
	for _, det := range all {
		report.Boxes = append(report.Boxes, models.OverlayBox{
			Kind:       models.OverlayDamage,
			Box:        det.Box,
			Confidence: det.Confidence,
		})
	}

	report.Damage = &best
	point := best.Box.Center()
	report.DamagePoint = &point
	return nil
}

func (p *Pipeline) twoStage(ctx context.Context, frame, resized image.Image, report *models.FrameReport) error {
	var (
		car   models.Detection
		found bool
	)

	err := p.runStage(ctx, p.cfg.Vehicle, resized, report.Timings, &report.Timings.Inference, func(t detections.Tensor) error {
		var err error
		car, found, err = p.cfg.Vehicle.Selector.Select(t)
		return err
	})
	if err != nil || !found {
		return err
	}

	report.Vehicle = &car
	report.Boxes = append(report.Boxes, models.OverlayBox{
		Kind:       models.OverlayVehicle,
		Box:        car.Box,
		Confidence: car.Confidence,
	})

	cropStart := time.Now()
	crop := detections.Crop(frame, car.Box, p.cfg.InputSize)
	report.Timings.Crop = time.Since(cropStart)

	var damage models.Detection
	err = p.runStage(ctx, p.cfg.Damage, crop, report.Timings, &report.Timings.DamageInfer, func(t detections.Tensor) error {
		var err error
		damage, found, err = p.cfg.Damage.Selector.Select(t)
		return err
	})
	if err != nil || !found {
		return err
	}

	// Damage boxes come back relative to the crop.
	damage.Box = detections.ToFrameBox(car.Box, damage.Box)
	report.Damage = &damage
	point := damage.Box.Center()
	report.DamagePoint = &point
	report.Boxes = append(report.Boxes, models.OverlayBox{
		Kind:       models.OverlayDamage,
		Box:        damage.Box,
		Confidence: damage.Confidence,
	})
	return nil
}
