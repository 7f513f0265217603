package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/damage-inspection-service/blueprint"
	"github.com/Tutortoise/damage-inspection-service/metrics"
	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/Tutortoise/damage-inspection-service/render"
	"github.com/sirupsen/logrus"
)

const DefaultRefreshRate = 60

var (
	ErrNotRunning  = errors.New("session is not running")
	ErrNotPausable = errors.New("source cannot be paused")
)

// Source yields frames until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Paused() bool
	Close() error
}

// Recorder captures the rendered overlay. Close must be safe to call more
// than once.
type Recorder interface {
	Capture(img image.Image, at time.Time) error
	Close() error
	Ready() bool
}

// Pauser is implemented by sources that can be paused from outside the loop.
type Pauser interface {
	Pause()
}

// Processor turns one frame into a report, drawing on canvas.
type Processor interface {
	Process(ctx context.Context, frame image.Image, canvas *render.Canvas) (models.FrameReport, error)
}

type Options struct {
	ID string
	// RefreshRate is the tick rate in Hz.
	RefreshRate float64
	MissPolicy  blueprint.MissPolicy
	Sink        Sink
	Logger      logrus.FieldLogger
}

// Stats counts frames for one orchestrator over its whole life.
type Stats struct {
	Frames     int64           `json:"frames"`
	Skipped    int64           `json:"skipped"`
	Errors     int64           `json:"errors"`
	Detections int64           `json:"detections"`
	Latency    metrics.Summary `json:"latency"`
}

// Orchestrator drives one session: it ticks at the refresh rate, keeps at
// most one frame in flight, and owns the board, canvas and recorder.
type Orchestrator struct {
	id       string
	proc     Processor
	interval time.Duration
	sink     Sink
	log      logrus.FieldLogger

	board   *blueprint.Board
	canvas  *render.Canvas
	slot    *FrameSlot
	latency *metrics.Window

	frames     atomic.Int64
	skipped    atomic.Int64
	errorCount atomic.Int64
	detections atomic.Int64

	mu    sync.Mutex
	state State
	src   Source
	rec   Recorder
	run   *run
}

// run is the control block of one Running period.
type run struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (r *run) signal() {
	r.stopOnce.Do(func() { close(r.stop) })
}

type result struct {
	seq    uint64
	at     time.Time
	report models.FrameReport
	err    error
}

func NewOrchestrator(proc Processor, opts Options) *Orchestrator {
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = DefaultRefreshRate
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Orchestrator{
		id:       opts.ID,
		proc:     proc,
		interval: time.Duration(float64(time.Second) / opts.RefreshRate),
		sink:     opts.Sink,
		log:      opts.Logger.WithField("session", opts.ID),
		board:    blueprint.NewBoard(opts.MissPolicy),
		canvas:   render.NewCanvas(1, 1),
		slot:     NewFrameSlot(),
		latency:  metrics.NewWindow(metrics.DefaultWindowSize),
		state:    Idle,
	}
}

func (o *Orchestrator) ID() string {
	return o.id
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Frames:     o.frames.Load(),
		Skipped:    o.skipped.Load(),
		Errors:     o.errorCount.Load(),
		Detections: o.detections.Load(),
		Latency:    o.latency.Summary(),
	}
}

// Frames is the live overlay feed.
func (o *Orchestrator) Frames() *FrameSlot {
	return o.slot
}

func (o *Orchestrator) Board() *blueprint.Board {
	return o.board
}

// Recorder returns the recorder of the current or last run, if any.
func (o *Orchestrator) Recorder() Recorder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rec
}

// Attach binds a source and an optional recorder. It is valid from Idle and
// Stopped and resets the highlight.
func (o *Orchestrator) Attach(src Source, rec Recorder) error {
	if src == nil {
		return errors.New("attach: nil source")
	}

	o.mu.Lock()
	if err := transition(o.state, SourceReady); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state = SourceReady
	o.src = src
	o.rec = rec
	o.mu.Unlock()

	o.board.Clear()
	o.pushBoard()
	o.sink.Status(StatusReady)
	o.log.Debug("source attached")
	return nil
}

// Start launches the frame loop in its own goroutine.
func (o *Orchestrator) Start(ctx context.Context) error {
	r, src, rec, err := o.begin()
	if err != nil {
		return err
	}
	go o.loop(ctx, r, src, rec)
	return nil
}

// Run is Start followed by Wait.
func (o *Orchestrator) Run(ctx context.Context) error {
	r, src, rec, err := o.begin()
	if err != nil {
		return err
	}
	o.loop(ctx, r, src, rec)
	return nil
}

func (o *Orchestrator) begin() (*run, Source, Recorder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := transition(o.state, Running); err != nil {
		return nil, nil, nil, err
	}
	o.state = Running
	o.run = &run{stop: make(chan struct{}), done: make(chan struct{})}
	return o.run, o.src, o.rec, nil
}

// Stop ends the current run and blocks until the recorder is finalized and
// the source closed. Stopping a session that is not running is a no-op
// unless a source is attached but was never started.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	switch o.state {
	case Running:
		r := o.run
		o.mu.Unlock()
		r.signal()
		<-r.done
	case SourceReady:
		src, rec := o.src, o.rec
		o.state = Stopped
		o.mu.Unlock()
		o.release(src, rec)
		o.sink.Status(StatusStopped)
	default:
		o.mu.Unlock()
	}
}

// Pause pauses the running source. The loop sees it on its next tick and
// finishes the scan as complete, finalizing the recording.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	state, src := o.state, o.src
	o.mu.Unlock()

	if state != Running {
		return fmt.Errorf("%w: %s", ErrNotRunning, state)
	}
	p, ok := src.(Pauser)
	if !ok {
		return ErrNotPausable
	}
	p.Pause()
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

// Swap replaces the source. The old one is stopped and closed before the
// new one is attached and started.
func (o *Orchestrator) Swap(ctx context.Context, src Source, rec Recorder) error {
	o.Stop()
	if err := o.Attach(src, rec); err != nil {
		return fmt.Errorf("swap source: %w", err)
	}
	return o.Start(ctx)
}

func (o *Orchestrator) loop(ctx context.Context, r *run, src Source, rec Recorder) {
	o.sink.Status(StatusActive)
	o.log.WithField("interval", o.interval).Info("frame loop started")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	results := make(chan result, 1)
	inFlight := false
	recording := rec != nil
	recordFailed := false
	var seq uint64
	status := StatusStopped

	handle := func(res result) {
		inFlight = false
		o.handle(res)
		// A failed frame never reached the canvas.
		if !recording || res.err != nil {
			return
		}
		if err := rec.Capture(o.canvas.Snapshot(), res.at); err != nil {
			o.log.WithError(err).Warn("recording disabled")
			recording = false
			recordFailed = true
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-r.stop:
			break loop
		case res := <-results:
			handle(res)
		case <-ticker.C:
			if inFlight {
				o.skipped.Add(1)
				continue
			}
			if src.Paused() {
				status = StatusComplete
				break loop
			}

			frame, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				status = StatusComplete
				break loop
			}
			if err != nil {
				if ctx.Err() != nil {
					break loop
				}
				o.errorCount.Add(1)
				o.log.WithError(err).Error("reading frame")
				status = StatusSourceFailure
				break loop
			}

			seq++
			inFlight = true
			go func(seq uint64, frame image.Image) {
				at := time.Now()
				report, err := o.proc.Process(ctx, frame, o.canvas)
				report.Seq = seq
				results <- result{seq: seq, at: at, report: report, err: err}
			}(seq, frame)
		}
	}

	// The in-flight frame still owns the canvas.
	if inFlight {
		handle(<-results)
	}

	o.release(src, rec)
	if status == StatusComplete && rec != nil && (recordFailed || !rec.Ready()) {
		status = StatusNoRecording
	}

	o.mu.Lock()
	o.state = Stopped
	o.mu.Unlock()

	o.sink.Status(status)
	o.slot.Publish(o.canvas.Snapshot())
	o.log.WithField("frames", o.frames.Load()).
		WithField("skipped", o.skipped.Load()).
		Info("frame loop stopped")
	close(r.done)
}

func (o *Orchestrator) release(src Source, rec Recorder) {
	if rec != nil {
		if err := rec.Close(); err != nil {
			o.log.WithError(err).Warn("finalizing recording")
		}
	}
	if src != nil {
		if err := src.Close(); err != nil {
			o.log.WithError(err).Warn("closing source")
		}
	}
}

func (o *Orchestrator) handle(res result) {
	o.frames.Add(1)
	if res.report.Timings != nil {
		o.latency.Observe(res.report.Timings.Total)
		LogTimings(o.log.WithField("seq", res.seq), res.report.Timings)
	}

	if res.err != nil {
		o.errorCount.Add(1)
		o.log.WithError(res.err).WithField("seq", res.seq).Warn("frame failed")
		o.board.Miss()
	} else if res.report.Damaged() {
		o.detections.Add(1)
		o.board.Apply(res.report.Panels)
	} else {
		o.board.Miss()
	}

	o.pushBoard()
	o.slot.Publish(o.canvas.Snapshot())
}

func (o *Orchestrator) pushBoard() {
	count := o.board.Count()
	o.sink.Highlight(o.board.Current())
	o.sink.Summary(count, o.board.Summary())
	o.sink.Alert(count > 0)
}

// LogTimings writes the per-stage breakdown of one frame at debug level.
func LogTimings(log logrus.FieldLogger, t *models.ProcessingTimings) {
	log.Debugf("RequestID: %s - Processing times:\n"+
		"\tImage Decode: %v\n"+
		"\tResize:       %v\n"+
		"\tPreprocess:   %v\n"+
		"\tInference:    %v\n"+
		"\tCrop:         %v\n"+
		"\tDamage Infer: %v\n"+
		"\tPostprocess:  %v\n"+
		"\tMapping:      %v\n"+
		"\tRender:       %v\n"+
		"\tTotal:        %v",
		t.RequestID,
		t.ImageDecode,
		t.Resize,
		t.Preprocess,
		t.Inference,
		t.Crop,
		t.DamageInfer,
		t.Postprocess,
		t.Mapping,
		t.Render,
		t.Total)
}
