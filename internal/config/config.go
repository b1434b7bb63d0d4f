package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Storage  StorageConfig
	Server   ServerConfig
	Detector DetectorConfig
	Events   EventsConfig
	Training TrainingConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// StorageConfig holds the video/dataset storage root.
type StorageConfig struct {
	Root string
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string
}

// DetectorConfig selects and tunes the object detector.
type DetectorConfig struct {
	Mode      string   // "local" (onnx) or "remote"
	ModelPath string   `mapstructure:"model_path"`
	OrtLib    string   `mapstructure:"ort_lib"` // path to the onnxruntime shared library
	RemoteURL string   `mapstructure:"remote_url"`
	InputSize int      `mapstructure:"input_size"`
	MinConf   float64  `mapstructure:"min_conf"`
	IoU       float64  `mapstructure:"iou"`
	Classes   []string
}

// EventsConfig holds optional kafka settings. Empty brokers disables publishing.
type EventsConfig struct {
	Brokers []string
	Topic   string
}

// TrainingConfig holds trainer invocation and model registry settings.
type TrainingConfig struct {
	Command       string
	Epochs        int
	RegistryURL   string `mapstructure:"registry_url"`
	RegistryToken string `mapstructure:"registry_token"`
}

// Load reads configuration from file and env. Env var overrides use prefix FRAMELABEL_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "framelabel", "framelabel.db"))
	v.SetDefault("storage.root", filepath.Join(os.Getenv("HOME"), ".local", "share", "framelabel", "storage"))
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("detector.mode", "local")
	v.SetDefault("detector.model_path", "")
	v.SetDefault("detector.ort_lib", "")
	v.SetDefault("detector.remote_url", "")
	v.SetDefault("detector.input_size", 640)
	v.SetDefault("detector.min_conf", 0.25)
	v.SetDefault("detector.iou", 0.45)
	v.SetDefault("detector.classes", []string{})
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "framelabel.activity")
	v.SetDefault("training.command", "")
	v.SetDefault("training.epochs", 1)
	v.SetDefault("training.registry_url", "")
	v.SetDefault("training.registry_token", "")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("FRAMELABEL_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "framelabel"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FRAMELABEL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if needed.
// The registry token is stored in plain text; encourage users to prefer env vars.
func Save(cfg Config) error {
	path := os.Getenv("FRAMELABEL_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "framelabel", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("storage.root", cfg.Storage.Root)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("detector.mode", cfg.Detector.Mode)
	v.Set("detector.model_path", cfg.Detector.ModelPath)
	v.Set("detector.ort_lib", cfg.Detector.OrtLib)
	v.Set("detector.remote_url", cfg.Detector.RemoteURL)
	v.Set("detector.input_size", cfg.Detector.InputSize)
	v.Set("detector.min_conf", cfg.Detector.MinConf)
	v.Set("detector.iou", cfg.Detector.IoU)
	v.Set("detector.classes", cfg.Detector.Classes)
	v.Set("events.brokers", cfg.Events.Brokers)
	v.Set("events.topic", cfg.Events.Topic)
	v.Set("training.command", cfg.Training.Command)
	v.Set("training.epochs", cfg.Training.Epochs)
	v.Set("training.registry_url", cfg.Training.RegistryURL)
	v.Set("training.registry_token", cfg.Training.RegistryToken)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
