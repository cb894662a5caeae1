package models

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`

	// Directory the frame-grabber camera reads from. Empty means the host has
	// no live camera capability and sessions fall back to the file picker.
	CameraFrameDir string `yaml:"camera_frame_dir"`

	GeoProviderURL    string `yaml:"geo_provider_url"`
	GeoTimeoutSeconds int    `yaml:"geo_timeout_seconds"`
}

// GeoTimeout is the bounded wait for a single position acquisition.
func (c *Config) GeoTimeout() time.Duration {
	if c.GeoTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.GeoTimeoutSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
