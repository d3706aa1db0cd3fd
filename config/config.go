/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Configuration interface {
	// Validate validates the configuration.
	// If returns error, the broker will not start.
	Validate() error
}

var validate = validator.New()

// Config is the top-level broker configuration, loaded from a single
// YAML file at startup.
type Config struct {
	Mqtt    Mqtt    `yaml:"mqtt"`
	Log     Log     `yaml:"log"`
	Auth    Auth    `yaml:"auth"`
	Tracing Tracing `yaml:"tracing"`
	Listen  Listen  `yaml:"listen"`
	Runtime Runtime `yaml:"runtime"`
}

// Load reads and validates a Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Log configures the zap/lumberjack logging sink.
type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// File, if set, enables JSON logging to a rotated file alongside
	// the console sink.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"omitempty,gt=0"`
	MaxBackups int    `yaml:"max_backups" validate:"omitempty,gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"omitempty,gte=0"`
	Compress   bool   `yaml:"compress"`
}

// Auth configures the CONNECT authorization hook. When Redis.Addr is
// empty the broker falls back to AllowAll.
type Auth struct {
	Redis RedisAuth `yaml:"redis"`
}

// RedisAuth is the credential-cache connection used by the
// Redis-backed authorizer.
type RedisAuth struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

// Tracing configures the OpenTelemetry exporter for per-packet spans.
type Tracing struct {
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=jaeger zipkin"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Listen configures the transport adapters the broker binds at
// startup.
type Listen struct {
	TCP       string `yaml:"tcp"`
	WebSocket string `yaml:"websocket" validate:"omitempty"`
	WSPath    string `yaml:"websocket_path"`
}

// Runtime configures process-wide goroutine usage.
type Runtime struct {
	// WorkerPoolSize resizes the internal/goroutine pool used for
	// per-connection accept/upgrade dispatch. 0 keeps the built-in
	// default.
	WorkerPoolSize int `yaml:"worker_pool_size" validate:"omitempty,gt=0"`
}

type Mqtt struct {
	// MaxPacketSize is the maximum packet size the broker accepts from
	// a client; larger frames are rejected as malformed.
	MaxPacketSize uint32 `yaml:"max_packet_size" validate:"omitempty,gt=0"`
	// MaxKeepAlive is the keep-alive, in seconds, the transport feeds
	// to ReadTimeout to set every connection's read idle timeout; 0
	// selects 60. The keep-alive a client sends in CONNECT is not
	// consulted for the timeout and is not capped by this value.
	MaxKeepAlive uint16 `yaml:"max_keepalive"`
	// KeepAliveMultiplier is the factor applied to a session's
	// keep-alive to compute the transport's read idle timeout (MQTT
	// 3.1.1 recommends 1.5).
	KeepAliveMultiplier float64 `yaml:"keepalive_multiplier" validate:"omitempty,gte=1"`
	// MaximumQoS is validated to be at most 2 but is not consulted:
	// the handler grants every valid SUBSCRIBE the QoS it requested.
	MaximumQoS uint8 `yaml:"maximum_qos" validate:"lte=2"`
	// AllowZeroLenClientId is loaded but not consulted: the CONNECT
	// decoder always accepts an empty client id when clean_session is
	// true and always rejects it when clean_session is false.
	AllowZeroLenClientId bool `yaml:"allow_zero_len_client_id"`
}

// ReadTimeout is the transport-level idle read timeout derived from a
// keep-alive value (the transport passes MaxKeepAlive), per spec.md's
// "1.5x keep-alive" rule.
func (m Mqtt) ReadTimeout(keepAlive uint16) time.Duration {
	mult := m.KeepAliveMultiplier
	if mult == 0 {
		mult = 1.5
	}
	return time.Duration(float64(keepAlive)*mult) * time.Second
}
