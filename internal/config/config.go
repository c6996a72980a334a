package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string `yaml:"port"`
	ModelPath    string `yaml:"model_path"`
	LabelsPath   string `yaml:"labels_path"`
	MetadataPath string `yaml:"metadata_path"`
	Backend      string `yaml:"backend"`
	ORTLibrary   string `yaml:"onnxruntime_lib"`
	ImageSize    int    `yaml:"image_size"`
	NumThreads   int    `yaml:"num_threads"`
	TopK         int    `yaml:"top_k"`
	FeedbackPath string `yaml:"feedback_path"`
	MaxUploadMB  int    `yaml:"max_upload_mb"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		Port:         "8080",
		ModelPath:    "model/mobilenetv2_finetuned.onnx",
		LabelsPath:   "model/class_names.txt",
		Backend:      "auto",
		ImageSize:    224,
		NumThreads:   2,
		TopK:         3,
		FeedbackPath: "logs/feedback.csv",
		MaxUploadMB:  10,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing precedence. A .env file in the working directory
// is loaded into the environment first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.LabelsPath = getEnv("LABELS_PATH", c.LabelsPath)
	c.MetadataPath = getEnv("METADATA_PATH", c.MetadataPath)
	c.Backend = getEnv("MODEL_BACKEND", c.Backend)
	c.ORTLibrary = getEnv("ONNXRUNTIME_LIB", c.ORTLibrary)
	c.FeedbackPath = getEnv("FEEDBACK_PATH", c.FeedbackPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	ints := []struct {
		key string
		dst *int
	}{
		{"IMAGE_SIZE", &c.ImageSize},
		{"NUM_THREADS", &c.NumThreads},
		{"TOP_K", &c.TopK},
		{"MAX_UPLOAD_MB", &c.MaxUploadMB},
	}
	for _, v := range ints {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", v.key, err)
		}
		*v.dst = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}
	if c.LabelsPath == "" && c.MetadataPath == "" {
		return fmt.Errorf("labels_path or metadata_path is required")
	}
	if c.ImageSize < 1 || c.ImageSize > 4096 {
		return fmt.Errorf("image_size must be between 1 and 4096")
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be positive")
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if c.FeedbackPath == "" {
		return fmt.Errorf("feedback_path cannot be empty")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	level, _ := c.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
