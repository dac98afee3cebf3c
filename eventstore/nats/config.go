package nats

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	natsgo "github.com/nats-io/nats.go"
)

// Config locates a NATS server with JetStream enabled and names the JetStream
// stream holding the event streams.
type Config struct {
	URL string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	// Stream is the JetStream stream every event stream is stored in.
	Stream string `env:"NATS_STREAM" envDefault:"EVENTSTREAM"`
	// SubjectPrefix prefixes the subject of each event stream.
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"eventstream"`
	// MemoryStorage keeps the JetStream stream in memory only.
	MemoryStorage bool `env:"NATS_MEMORY_STORAGE"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = natsgo.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = "EVENTSTREAM"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "eventstream"
	}
	return c
}
