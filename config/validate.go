package config

import (
	"errors"
	"fmt"

	"github.com/Tutortoise/damage-inspection-service/blueprint"
	"github.com/Tutortoise/damage-inspection-service/detections"
	"github.com/Tutortoise/damage-inspection-service/emitter"
	"github.com/Tutortoise/damage-inspection-service/recording"
	"github.com/Tutortoise/damage-inspection-service/source"
)

// Validate checks cross-field constraints and that every enum parses.
func Validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Runtime.PoolSize <= 0 {
		return fmt.Errorf("runtime.pool_size must be positive, got %d", cfg.Runtime.PoolSize)
	}
	if cfg.Pipeline.Stages != 1 && cfg.Pipeline.Stages != 2 {
		return fmt.Errorf("pipeline.stages must be 1 or 2, got %d", cfg.Pipeline.Stages)
	}
	if cfg.Pipeline.RefreshHz <= 0 {
		return fmt.Errorf("pipeline.refresh_hz must be positive, got %v", cfg.Pipeline.RefreshHz)
	}
	if _, err := blueprint.ParseStrategy(cfg.Pipeline.Strategy); err != nil {
		return fmt.Errorf("pipeline.strategy: %w", err)
	}
	if _, err := blueprint.ParseMissPolicy(cfg.Pipeline.MissPolicy); err != nil {
		return fmt.Errorf("pipeline.miss_policy: %w", err)
	}

	if err := validateModel("models.damage", cfg.Models.Damage); err != nil {
		return err
	}
	if cfg.Pipeline.Stages == 2 {
		if err := validateModel("models.vehicle", cfg.Models.Vehicle); err != nil {
			return err
		}
		if cfg.Models.Vehicle.InputSize != cfg.Models.Damage.InputSize {
			return fmt.Errorf("models.vehicle.input_size (%d) and models.damage.input_size (%d) must match",
				cfg.Models.Vehicle.InputSize, cfg.Models.Damage.InputSize)
		}
	}

	if _, err := source.ParseFacing(cfg.Camera.Facing); err != nil {
		return fmt.Errorf("camera.facing: %w", err)
	}
	if _, err := recording.ParseFormat(cfg.Recording.Format); err != nil {
		return fmt.Errorf("recording.format: %w", err)
	}
	switch cfg.MQTT.Codec {
	case "", emitter.CodecJSON, emitter.CodecMsgpack:
	default:
		return fmt.Errorf("mqtt.codec must be %s or %s, got %q", emitter.CodecJSON, emitter.CodecMsgpack, cfg.MQTT.Codec)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return nil
}

func validateModel(name string, m ModelConfig) error {
	if m.Path == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	if m.Input == "" || m.Output == "" {
		return fmt.Errorf("%s input and output names are required", name)
	}
	if m.InputSize <= 0 || m.Anchors <= 0 || m.Classes <= 0 {
		return fmt.Errorf("%s: input_size, anchors and classes must be positive", name)
	}
	if m.Confidence <= 0 || m.Confidence >= 1 {
		return fmt.Errorf("%s.confidence must be in (0, 1), got %v", name, m.Confidence)
	}
	if m.MinArea < 0 {
		return fmt.Errorf("%s.min_area must not be negative", name)
	}
	if _, err := detections.ParsePolicy(m.Policy); err != nil {
		return fmt.Errorf("%s.policy: %w", name, err)
	}
	return nil
}
