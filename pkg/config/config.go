/*
Copyright 2024 The SmartIP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the engine configuration from the environment,
// mirroring the knobs of the CDC job it replaces.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the engine needs to connect and to bound its state.
type Config struct {
	// KafkaBrokers is a comma separated list of bootstrap servers.
	KafkaBrokers string `mapstructure:"KAFKA_BOOTSTRAP"`
	// Topic carries the intervention change events.
	Topic string `mapstructure:"CDC_TOPIC"`
	// ConsumerGroup for the sarama consumer group session.
	ConsumerGroup string `mapstructure:"SIP_CONSUMER_GROUP"`
	// KafkaConfig is an optional YAML blob merged into the sarama config.
	KafkaConfig string `mapstructure:"KAFKA_CONFIG"`

	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     int    `mapstructure:"POSTGRES_PORT"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`

	// AllowedLateness bounds out-of-order arrival admitted by the watermark.
	AllowedLateness time.Duration `mapstructure:"ALLOWED_LATENESS"`
	// SourceIdleTimeout advances the watermark when the topic is quiescent.
	SourceIdleTimeout time.Duration `mapstructure:"SOURCE_IDLE_TIMEOUT"`
	// StateTTL evicts accumulators idle longer than this.
	StateTTL time.Duration `mapstructure:"STATE_TTL"`

	// MetricsPort serves the prometheus endpoint.
	MetricsPort int `mapstructure:"METRICS_PORT"`
}

// PostgresDSN renders the pgx connection string.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB)
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("KAFKA_BOOTSTRAP", "kafka:9092")
	v.SetDefault("CDC_TOPIC", "sip.interventions")
	v.SetDefault("SIP_CONSUMER_GROUP", "intervention-analytics")
	v.SetDefault("KAFKA_CONFIG", "")
	v.SetDefault("POSTGRES_HOST", "db")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_DB", "sip_db")
	v.SetDefault("POSTGRES_USER", "sip_user")
	v.SetDefault("POSTGRES_PASSWORD", "sip_password")
	v.SetDefault("ALLOWED_LATENESS", "5s")
	v.SetDefault("SOURCE_IDLE_TIMEOUT", "5s")
	v.SetDefault("STATE_TTL", "1h")
	v.SetDefault("METRICS_PORT", 2469)
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config from environment, %w", err)
	}
	if cfg.AllowedLateness < 0 {
		return nil, fmt.Errorf("ALLOWED_LATENESS must not be negative, got %v", cfg.AllowedLateness)
	}
	if cfg.StateTTL <= 0 {
		return nil, fmt.Errorf("STATE_TTL must be positive, got %v", cfg.StateTTL)
	}
	return cfg, nil
}
