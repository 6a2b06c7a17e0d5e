// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config declares turbocharger's on-disk configuration shape
// and loads it through the shared Viper/mapstructure loader (spec §6).
package config

import (
	"time"

	"github.com/graze-social/turbocharger/internal/pipeline"
	"github.com/graze-social/turbocharger/pkg/common/config"
)

// EnvPrefix is the environment-variable prefix LoadConfig overlays onto
// the file-based config, e.g. TURBOCHARGER_JETSTREAM_ENDPOINT.
const EnvPrefix = "TURBOCHARGER"

// Config is the root configuration document.
type Config struct {
	Jetstream JetstreamConfig `mapstructure:"jetstream"`
	Bluesky   BlueskyConfig   `mapstructure:"bluesky"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// JetstreamConfig configures the websocket Source.
type JetstreamConfig struct {
	Endpoint          string `mapstructure:"endpoint"`
	WantedCollections string `mapstructure:"wantedCollections"`
}

// BlueskyConfig configures credential sourcing and the API client pool.
type BlueskyConfig struct {
	CredentialAPIBaseURL string `mapstructure:"credentialApiBaseUrl"`
	CredentialSecret     string `mapstructure:"credentialSecret"`
	PoolBandwidth        int    `mapstructure:"poolBandwidth"`
}

// CacheConfig sizes the two hydration LRUs (spec §6).
type CacheConfig struct {
	ProfileCacheSize int `mapstructure:"profileCacheSize"`
	PostCacheSize    int `mapstructure:"postCacheSize"`
}

// PipelineConfig configures batching, admission and sharding (spec §6).
type PipelineConfig struct {
	BatchSize          int `mapstructure:"batchSize"`
	MaxInFlightBatches int `mapstructure:"maxInFlightBatches"`
	Modulo             int `mapstructure:"modulo"`
	Shard              int `mapstructure:"shard"`
}

// SinkConfig configures local durability, rotation and the stream publish.
type SinkConfig struct {
	DBDir            string        `mapstructure:"dbDir"`
	RotationInterval time.Duration `mapstructure:"rotationInterval"`
	S3Bucket         string        `mapstructure:"s3Bucket"`
	StreamName       string        `mapstructure:"streamName"`
	StreamTrimMaxLen int64         `mapstructure:"streamTrimMaxLen"`
}

// RedisConfig configures the downstream stream connection.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig configures the S3 object-store connection.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enable   bool   `mapstructure:"enable"`
	ListenOn string `mapstructure:"listenOn"`
}

// Load reads a turbocharger config file at path, overlaying any
// TURBOCHARGER_-prefixed environment variables (spec "Config" §4.K).
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.LoadConfig(path, EnvPrefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PipelineDriverConfig converts the loaded batching/admission settings into
// the pipeline package's Config shape.
func (c *Config) PipelineDriverConfig() pipeline.Config {
	return pipeline.Config{
		BatchSize:          c.Pipeline.BatchSize,
		MaxInFlightBatches: c.Pipeline.MaxInFlightBatches,
		Modulo:             c.Pipeline.Modulo,
		Shard:              c.Pipeline.Shard,
	}
}
