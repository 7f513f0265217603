package main

import (
	"fmt"

	"github.com/Tutortoise/damage-inspection-service/blueprint"
	"github.com/Tutortoise/damage-inspection-service/config"
	"github.com/Tutortoise/damage-inspection-service/detections"
	"github.com/Tutortoise/damage-inspection-service/pipeline"
	"github.com/sirupsen/logrus"
)

// Engine is the loaded model stack shared by every request and session.
type Engine struct {
	Pipeline *pipeline.Pipeline
	Pools    map[string]*ModelSessionPool
}

func (e *Engine) Destroy() {
	for _, p := range e.Pools {
		p.Destroy()
	}
}

func selectorFor(m config.ModelConfig) (detections.Selector, error) {
	policy, err := detections.ParsePolicy(m.Policy)
	if err != nil {
		return detections.Selector{}, err
	}
	return detections.Selector{Policy: policy, Threshold: m.Confidence, MinArea: m.MinArea}, nil
}

// pipelineConfig maps settings onto a pipeline. Models are filled in by the
// caller.
func pipelineConfig(cfg *config.Config, log logrus.FieldLogger) (pipeline.Config, error) {
	strategy, err := blueprint.ParseStrategy(cfg.Pipeline.Strategy)
	if err != nil {
		return pipeline.Config{}, err
	}
	damageSel, err := selectorFor(cfg.Models.Damage)
	if err != nil {
		return pipeline.Config{}, err
	}
	vehicleSel, err := selectorFor(cfg.Models.Vehicle)
	if err != nil {
		return pipeline.Config{}, err
	}

	return pipeline.Config{
		Stages:    cfg.Pipeline.Stages,
		Vehicle:   pipeline.Stage{Name: "vehicle", Selector: vehicleSel},
		Damage:    pipeline.Stage{Name: "damage", Selector: damageSel},
		Mapper:    blueprint.New(strategy),
		InputSize: cfg.Models.Damage.InputSize,
		Cluster:   cfg.Pipeline.Cluster,
		Logger:    log,
	}, nil
}

func newPool(cfg *config.Config, name string, m config.ModelConfig, log logrus.FieldLogger) (*ModelSessionPool, error) {
	path := cfg.ModelPath(m)
	factory := func() (*detections.ModelSession, error) {
		session, err := initSession(path, m, cfg.Runtime.Threads)
		if err != nil {
			return nil, err
		}
		if err := warmUp(session); err != nil {
			session.Destroy()
			return nil, fmt.Errorf("warm-up %s: %w", name, err)
		}
		return session, nil
	}

	pool, err := NewModelSessionPool(name, factory, cfg.Runtime.PoolSize)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"model": name, "path": path, "sessions": cfg.Runtime.PoolSize}).
		Info("model session pool ready")
	return pool, nil
}

// loadEngine initializes the runtime once and builds a pool per model stage.
func loadEngine(cfg *config.Config, log logrus.FieldLogger) (*Engine, error) {
	if err := initRuntime(cfg.Runtime.LibraryPath, log); err != nil {
		return nil, err
	}

	pc, err := pipelineConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	engine := &Engine{Pools: make(map[string]*ModelSessionPool)}

	damage, err := newPool(cfg, "damage", cfg.Models.Damage, log)
	if err != nil {
		return nil, err
	}
	engine.Pools["damage"] = damage
	pc.Damage.Model = &onnxModel{pool: damage}

	if cfg.Pipeline.Stages == 2 {
		vehicle, err := newPool(cfg, "vehicle", cfg.Models.Vehicle, log)
		if err != nil {
			engine.Destroy()
			return nil, err
		}
		engine.Pools["vehicle"] = vehicle
		pc.Vehicle.Model = &onnxModel{pool: vehicle}
	}

	engine.Pipeline, err = pipeline.New(pc)
	if err != nil {
		engine.Destroy()
		return nil, err
	}
	return engine, nil
}
