// Package config loads runtime settings from FACEGATE_* environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/embed"
	"github.com/andresmejia3/facegate/internal/frame"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. FACEGATE_DATABASE_URL.
const Prefix = "facegate"

type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:""`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Embedding
	EngineKind      string `envconfig:"ENGINE" default:"onnx"`
	ModelPath       string `envconfig:"MODEL_PATH" default:"mobile_face_net.onnx"`
	OnnxLibraryPath string `envconfig:"ONNX_LIBRARY_PATH"`
	OnnxInputName   string `envconfig:"ONNX_INPUT_NAME" default:"input"`
	OnnxOutputName  string `envconfig:"ONNX_OUTPUT_NAME" default:"embeddings"`
	OnnxLayout      string `envconfig:"ONNX_LAYOUT" default:"nhwc"`
	WorkerScript    string `envconfig:"WORKER_SCRIPT" default:"python/embed_worker.py"`
	InputSize       int    `envconfig:"INPUT_SIZE" default:"112"`
	EmbeddingDim    int    `envconfig:"EMBEDDING_DIM" default:"192"`

	// Matching and pipeline
	MatchThresholdPercent float64 `envconfig:"MATCH_THRESHOLD" default:"90"`
	MinFaceWidth          int     `envconfig:"MIN_FACE_WIDTH" default:"10"`
	DecodeMode            string  `envconfig:"DECODE_MODE" default:"direct"`

	// Detector subprocess
	DetectorScript     string  `envconfig:"DETECTOR_SCRIPT" default:"python/detect_worker.py"`
	DetectionThreshold float64 `envconfig:"DETECTION_THRESHOLD" default:"0.5"`

	// Remote display
	MQTTBroker string `envconfig:"MQTT_BROKER"`
	MQTTTopic  string `envconfig:"MQTT_TOPIC" default:"facegate/frames"`
}

var engineKinds = map[string]bool{"onnx": true, "worker": true, "hash": true}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// postgresURLFromEnv builds a connection string from the conventional POSTGRES_*
// variables, falling back to a local default.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/facegate"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

func (c *Config) Validate() error {
	if c.MatchThresholdPercent <= 0 || c.MatchThresholdPercent > 100 {
		return fmt.Errorf("match threshold must be in (0, 100], got %v", c.MatchThresholdPercent)
	}
	if c.InputSize < 1 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("embedding dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.MinFaceWidth < 0 {
		return fmt.Errorf("min face width must not be negative, got %d", c.MinFaceWidth)
	}
	if !engineKinds[c.EngineKind] {
		return fmt.Errorf("unknown engine %q (use onnx, worker or hash)", c.EngineKind)
	}
	if _, err := frame.ParseMode(c.DecodeMode); err != nil {
		return err
	}
	if _, err := embed.ParseLayout(c.OnnxLayout); err != nil {
		return err
	}
	return nil
}

func (c *Config) Mode() frame.Mode {
	m, _ := frame.ParseMode(c.DecodeMode)
	return m
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
