// Package config loads service settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Models    ModelsConfig    `yaml:"models"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Camera    CameraConfig    `yaml:"camera"`
	Recording RecordingConfig `yaml:"recording"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Debug     bool            `yaml:"debug"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	Port          string `yaml:"port"`
	ReadTimeoutS  int    `yaml:"read_timeout_s"`
	WriteTimeoutS int    `yaml:"write_timeout_s"` // 0 disables, needed for MJPEG streams
	UploadDir     string `yaml:"upload_dir"`
	MaxUploadMB   int64  `yaml:"max_upload_mb"`
}

type RuntimeConfig struct {
	LibraryPath string `yaml:"library_path"` // empty picks the per-OS default
	Threads     int    `yaml:"threads"`      // 0 uses every CPU
	PoolSize    int    `yaml:"pool_size"`
}

type ModelsConfig struct {
	Dir     string      `yaml:"dir"`
	Vehicle ModelConfig `yaml:"vehicle"`
	Damage  ModelConfig `yaml:"damage"`
}

// ModelConfig describes one YOLO detector export.
type ModelConfig struct {
	Path       string  `yaml:"path"` // relative paths resolve against ModelsConfig.Dir
	Input      string  `yaml:"input"`
	Output     string  `yaml:"output"`
	InputSize  int     `yaml:"input_size"`
	Anchors    int     `yaml:"anchors"`
	Classes    int     `yaml:"classes"`
	Confidence float32 `yaml:"confidence"`
	MinArea    float32 `yaml:"min_area"`
	Half       bool    `yaml:"half"`   // float16 output head
	Policy     string  `yaml:"policy"` // best_of, first_above
}

type PipelineConfig struct {
	Stages      int     `yaml:"stages"`
	Strategy    string  `yaml:"strategy"`    // y_banded, x_only
	MissPolicy  string  `yaml:"miss_policy"` // clear, keep
	RefreshHz   float64 `yaml:"refresh_hz"`
	Cluster     bool    `yaml:"cluster"`
	MaxSessions int     `yaml:"max_sessions"`
}

type CameraConfig struct {
	EnvironmentDevice int    `yaml:"environment_device"`
	UserDevice        int    `yaml:"user_device"`
	Facing            string `yaml:"facing"`
}

type RecordingConfig struct {
	Enabled bool    `yaml:"enabled"`
	Dir     string  `yaml:"dir"`
	Prefix  string  `yaml:"prefix"`
	Format  string  `yaml:"format"` // mp4, webm
	FPS     float64 `yaml:"fps"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables the emitter
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Codec       string `yaml:"codec"` // json, msgpack
	QoS         byte   `yaml:"qos"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1",
			Port:          "8080",
			ReadTimeoutS:  60,
			WriteTimeoutS: 0,
			UploadDir:     filepath.Join(os.TempDir(), "damage-inspection"),
			MaxUploadMB:   256,
		},
		Runtime: RuntimeConfig{
			PoolSize: 4,
		},
		Models: ModelsConfig{
			Dir: "../models",
			Vehicle: ModelConfig{
				Path:       "vehicle.onnx",
				Input:      "images",
				Output:     "output0",
				InputSize:  640,
				Anchors:    8400,
				Classes:    80,
				Confidence: 0.45,
				Policy:     "best_of",
			},
			Damage: ModelConfig{
				Path:       "damage.onnx",
				Input:      "images",
				Output:     "output0",
				InputSize:  640,
				Anchors:    8400,
				Classes:    1,
				Confidence: 0.45,
				MinArea:    0.002,
				Policy:     "first_above",
			},
		},
		Pipeline: PipelineConfig{
			Stages:      2,
			Strategy:    "y_banded",
			MissPolicy:  "clear",
			RefreshHz:   60,
			MaxSessions: 8,
		},
		Camera: CameraConfig{
			EnvironmentDevice: 0,
			UserDevice:        1,
			Facing:            "environment",
		},
		Recording: RecordingConfig{
			Enabled: true,
			Dir:     filepath.Join(os.TempDir(), "damage-inspection", "recordings"),
			Prefix:  "Damage_Report",
			Format:  "mp4",
			FPS:     30,
		},
		MQTT: MQTTConfig{
			ClientID:    "damage-inspection",
			TopicPrefix: "inspection",
			Codec:       "json",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Models.Dir = getEnv("MODELS_DIR", c.Models.Dir)
	c.Runtime.LibraryPath = getEnv("ORT_LIB_PATH", c.Runtime.LibraryPath)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	if v, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		c.Debug = v
	}
}

// ModelPath resolves a model path against the models directory.
func (c *Config) ModelPath(m ModelConfig) string {
	if filepath.IsAbs(m.Path) {
		return m.Path
	}
	return filepath.Join(c.Models.Dir, m.Path)
}

// ListenAddr is the address the HTTP server binds.
func (c *Config) ListenAddr() string {
	return c.Server.Addr + ":" + c.Server.Port
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
