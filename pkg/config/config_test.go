/*
Copyright 2023 The Sluice Authors.

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

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/window"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
pipeline: word-counts
driver:
  tickInterval: 2s
  batchSize: 100
  parallelism: 4
window:
  kind: sliding
  length: 60s
  slide: 10s
  allowedLateness: 5s
filter: 'len(payload) > 0'
combine: count
logLevel: warn
state:
  backend: redis
  redis:
    url: "localhost:6379"
sink:
  kind: blackhole
sources:
  - name: gen
    generator:
      rpu: 10
      msgSize: 16
      duration: 1s
      keyCount: 4
      jitter: 100ms
  - name: events
    kafka:
      brokers:
        - "localhost:9092"
        - "localhost:9093"
      topic: events
      consumerGroup: sluice-events
`)
	s, err := LoadConfig(path, func(err error) { t.Errorf("unexpected reload error: %v", err) })
	assert.NoError(t, err)

	assert.Equal(t, "word-counts", s.PipelineName())
	assert.Equal(t, 2*time.Second, s.Driver().TickInterval)
	assert.Equal(t, int64(100), s.BatchSize())
	assert.Equal(t, 4, s.Driver().Parallelism)
	assert.Equal(t, "len(payload) > 0", s.Filter())
	assert.Equal(t, "count", s.CombineName())
	assert.Equal(t, "warn", s.LogLevel())
	assert.Equal(t, "redis", s.State().Backend)
	assert.Equal(t, "localhost:6379", s.State().Redis.URL)
	assert.Equal(t, "blackhole", s.Sink().Kind)

	srcs := s.Sources()
	assert.Len(t, srcs, 2)
	assert.Equal(t, "gen", srcs[0].Name)
	assert.NotNil(t, srcs[0].Generator)
	assert.Equal(t, int64(10), srcs[0].Generator.RPU)
	assert.Equal(t, int32(16), srcs[0].Generator.MsgSize)
	assert.Equal(t, time.Second, srcs[0].Generator.Duration)
	assert.Equal(t, int32(4), srcs[0].Generator.KeyCount)
	assert.Equal(t, 100*time.Millisecond, srcs[0].Generator.Jitter)
	assert.Equal(t, "events", srcs[1].Name)
	assert.NotNil(t, srcs[1].Kafka)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, srcs[1].Kafka.Brokers)
	assert.Equal(t, "events", srcs[1].Kafka.Topic)
	assert.Equal(t, "sluice-events", srcs[1].Kafka.ConsumerGroup)

	w, err := s.Windower()
	assert.NoError(t, err)
	assert.Equal(t, window.Sliding, w.Strategy())
	assert.Equal(t, 5*time.Second, w.AllowedLateness())
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline: minimal
window:
  length: 10s
sources:
  - name: gen
    generator:
      rpu: 5
`)
	s, err := LoadConfig(path, nil)
	assert.NoError(t, err)

	assert.Equal(t, time.Second, s.Driver().TickInterval)
	assert.Equal(t, int64(500), s.BatchSize())
	assert.Equal(t, 0, s.Driver().Parallelism)
	assert.Equal(t, "sum", s.CombineName())
	assert.Equal(t, "info", s.LogLevel())
	assert.Equal(t, "memory", s.State().Backend)
	assert.Equal(t, "log", s.Sink().Kind)

	w, err := s.Windower()
	assert.NoError(t, err)
	assert.Equal(t, window.Fixed, w.Strategy())
	assert.Equal(t, time.Duration(0), w.AllowedLateness())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SLUICE_DRIVER_BATCHSIZE", "42")
	t.Setenv("SLUICE_LOGLEVEL", "debug")
	path := writeConfig(t, `
pipeline: minimal
window:
  length: 10s
sources:
  - name: gen
    generator:
      rpu: 5
`)
	s, err := LoadConfig(path, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), s.BatchSize())
	assert.Equal(t, "debug", s.LogLevel())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func validConfig() *config {
	return &config{
		Pipeline: "test",
		Window:   &WindowConfig{Kind: "fixed", Length: 10 * time.Second},
		Combine:  "sum",
		Sources: []SourceConfig{
			{Name: "gen", Generator: &GeneratorConfig{RPU: 5}},
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().validate())

	tests := []struct {
		name   string
		mutate func(*config)
	}{
		{"no pipeline name", func(c *config) { c.Pipeline = "" }},
		{"no sources", func(c *config) { c.Sources = nil }},
		{"unnamed source", func(c *config) { c.Sources[0].Name = "" }},
		{"duplicate source names", func(c *config) {
			c.Sources = append(c.Sources, SourceConfig{Name: "gen", Generator: &GeneratorConfig{}})
		}},
		{"source with two kinds", func(c *config) { c.Sources[0].Nats = &NatsConfig{} }},
		{"source with no kind", func(c *config) { c.Sources[0].Generator = nil }},
		{"no window", func(c *config) { c.Window = nil }},
		{"fixed without length", func(c *config) { c.Window.Length = 0 }},
		{"sliding without slide", func(c *config) { c.Window.Kind = "sliding" }},
		{"session without gap", func(c *config) { c.Window.Kind = "session" }},
		{"unknown window kind", func(c *config) { c.Window.Kind = "hopping" }},
		{"unknown combine", func(c *config) { c.Combine = "median" }},
		{"redis without url", func(c *config) { c.State = &StateConfig{Backend: "redis"} }},
		{"unknown state backend", func(c *config) { c.State = &StateConfig{Backend: "etcd"} }},
		{"unknown sink kind", func(c *config) { c.Sink = &SinkConfig{Kind: "jdbc"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.validate())
		})
	}
}

func TestWindowerKinds(t *testing.T) {
	s := &Settings{conf: validConfig(), lock: &sync.RWMutex{}}

	s.conf.Window = &WindowConfig{Kind: "session", Gap: 30 * time.Second}
	w, err := s.Windower()
	assert.NoError(t, err)
	assert.Equal(t, window.Session, w.Strategy())

	s.conf.Window = &WindowConfig{Kind: "bogus"}
	_, err = s.Windower()
	assert.Error(t, err)
}
