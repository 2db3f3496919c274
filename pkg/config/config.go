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

// Package config loads the pipeline definition of a run from a YAML file,
// overlays SLUICE_* environment variables, and keeps the hot-reloadable
// settings fresh while the pipeline runs.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/window"
	"github.com/sluiceproj/sluice/pkg/window/strategy/fixed"
	"github.com/sluiceproj/sluice/pkg/window/strategy/session"
	"github.com/sluiceproj/sluice/pkg/window/strategy/sliding"
)

// Settings is the configuration of one pipeline run. It is populated from
// the config file and kept up to date by a file watcher; every getter takes
// a read lock so a reload never exposes a half-applied config.
type Settings struct {
	conf *config
	lock *sync.RWMutex
	// onReload callbacks run after a successful reload, outside the lock
	onReload []func(*Settings)
}

type config struct {
	Pipeline string         `json:"pipeline"`
	Driver   *DriverConfig  `json:"driver"`
	Window   *WindowConfig  `json:"window"`
	State    *StateConfig   `json:"state"`
	Sources  []SourceConfig `json:"sources"`
	Filter   string         `json:"filter"`
	Combine  string         `json:"combine"`
	Sink     *SinkConfig    `json:"sink"`
	LogLevel string         `json:"logLevel"`
}

type DriverConfig struct {
	TickInterval time.Duration `json:"tickInterval"`
	BatchSize    int64         `json:"batchSize"`
	Parallelism  int           `json:"parallelism"`
}

type WindowConfig struct {
	Kind            string        `json:"kind"`
	Length          time.Duration `json:"length"`
	Slide           time.Duration `json:"slide"`
	Gap             time.Duration `json:"gap"`
	AllowedLateness time.Duration `json:"allowedLateness"`
}

type StateConfig struct {
	Backend string       `json:"backend"`
	Redis   *RedisConfig `json:"redis"`
}

type RedisConfig struct {
	// URL is a comma separated list of redis addresses
	URL      string `json:"url"`
	Password string `json:"password"`
}

type SourceConfig struct {
	Name      string           `json:"name"`
	Generator *GeneratorConfig `json:"generator"`
	Nats      *NatsConfig      `json:"nats"`
	Kafka     *KafkaConfig     `json:"kafka"`
}

type GeneratorConfig struct {
	RPU      int64         `json:"rpu"`
	MsgSize  int32         `json:"msgSize"`
	Duration time.Duration `json:"duration"`
	KeyCount int32         `json:"keyCount"`
	Jitter   time.Duration `json:"jitter"`
}

type NatsConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Queue   string `json:"queue"`
}

type KafkaConfig struct {
	Brokers       []string `json:"brokers"`
	Topic         string   `json:"topic"`
	ConsumerGroup string   `json:"consumerGroup"`
	// Config is an optional sarama config overlay in YAML
	Config string `json:"config"`
}

type SinkConfig struct {
	Kind string `json:"kind"`
}

func (g *Settings) PipelineName() string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.conf.Pipeline
}

func (g *Settings) Driver() DriverConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Driver != nil {
		return *g.conf.Driver
	}
	return DriverConfig{}
}

// BatchSize is the per-source read cap, one of the hot-reloadable settings.
func (g *Settings) BatchSize() int64 {
	return g.Driver().BatchSize
}

// LogLevel is the logging level, one of the hot-reloadable settings.
func (g *Settings) LogLevel() string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.conf.LogLevel
}

func (g *Settings) Sources() []SourceConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	out := make([]SourceConfig, len(g.conf.Sources))
	copy(out, g.conf.Sources)
	return out
}

func (g *Settings) Filter() string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.conf.Filter
}

func (g *Settings) CombineName() string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.conf.Combine
}

func (g *Settings) State() StateConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.State != nil {
		return *g.conf.State
	}
	return StateConfig{Backend: "memory"}
}

func (g *Settings) Sink() SinkConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Sink != nil {
		return *g.conf.Sink
	}
	return SinkConfig{Kind: "log"}
}

// Windower builds the window strategy of the pipeline's grouping stage.
func (g *Settings) Windower() (window.Windower, error) {
	g.lock.RLock()
	w := g.conf.Window
	g.lock.RUnlock()
	if w == nil {
		return nil, fmt.Errorf("window is not specified")
	}
	var opts []window.Option
	if w.AllowedLateness > 0 {
		opts = append(opts, window.WithAllowedLateness(w.AllowedLateness))
	}
	switch w.Kind {
	case "fixed":
		return fixed.NewFixed(w.Length, opts...), nil
	case "sliding":
		return sliding.NewSliding(w.Length, w.Slide, opts...), nil
	case "session":
		return session.NewSession(w.Gap, opts...), nil
	default:
		return nil, fmt.Errorf("unknown window kind %q", w.Kind)
	}
}

// OnReload registers fn to run after every successful config reload.
func (g *Settings) OnReload(fn func(*Settings)) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.onReload = append(g.onReload, fn)
}

func (c *config) validate() error {
	if c.Pipeline == "" {
		return fmt.Errorf("pipeline name is not specified")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	names := make(map[string]bool)
	for _, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("every source needs a name")
		}
		if names[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		names[src.Name] = true
		specified := 0
		if src.Generator != nil {
			specified++
		}
		if src.Nats != nil {
			specified++
		}
		if src.Kafka != nil {
			specified++
		}
		if specified != 1 {
			return fmt.Errorf("source %q must specify exactly one of generator, nats or kafka", src.Name)
		}
	}
	if c.Window == nil {
		return fmt.Errorf("window is not specified")
	}
	switch c.Window.Kind {
	case "fixed":
		if c.Window.Length <= 0 {
			return fmt.Errorf("fixed window needs a positive length")
		}
	case "sliding":
		if c.Window.Length <= 0 {
			return fmt.Errorf("sliding window needs a positive length")
		}
		if c.Window.Slide <= 0 {
			return fmt.Errorf("sliding window needs a positive slide")
		}
	case "session":
		if c.Window.Gap <= 0 {
			return fmt.Errorf("session window needs a positive gap")
		}
	default:
		return fmt.Errorf("unknown window kind %q", c.Window.Kind)
	}
	if _, err := combine.ByName(c.Combine); err != nil {
		return err
	}
	if c.State != nil {
		switch c.State.Backend {
		case "", "memory":
		case "redis":
			if c.State.Redis == nil || c.State.Redis.URL == "" {
				return fmt.Errorf("redis state backend needs a url")
			}
		default:
			return fmt.Errorf("unknown state backend %q", c.State.Backend)
		}
	}
	if c.Sink != nil {
		switch c.Sink.Kind {
		case "", "log", "blackhole":
		default:
			return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
		}
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pipeline")
		v.AddConfigPath("/etc/sluice")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("sluice")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// registering defaults also makes these keys overridable from the
	// environment
	v.SetDefault("pipeline", "")
	v.SetDefault("driver.tickInterval", "1s")
	v.SetDefault("driver.batchSize", 500)
	v.SetDefault("driver.parallelism", 0)
	v.SetDefault("window.kind", "fixed")
	v.SetDefault("state.backend", "memory")
	v.SetDefault("combine", "sum")
	v.SetDefault("sink.kind", "log")
	v.SetDefault("logLevel", "info")
	return v
}

// weaklyTyped lets values overridden through the environment, which always
// arrive as strings, decode into the numeric settings.
func weaklyTyped(dc *mapstructure.DecoderConfig) {
	dc.WeaklyTypedInput = true
}

// LoadConfig reads the pipeline configuration from the given file (or the
// default search path when path is empty) and starts watching it for
// changes. A change that fails to parse or validate is reported through
// onErrorReloading and the previous config stays in effect.
func LoadConfig(path string, onErrorReloading func(error)) (*Settings, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	conf := &config{}
	if err := v.Unmarshal(conf, weaklyTyped); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	r := &Settings{
		conf: conf,
		lock: new(sync.RWMutex),
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		cf := &config{}
		if err := v.Unmarshal(cf, weaklyTyped); err != nil {
			onErrorReloading(err)
			return
		}
		if err := cf.validate(); err != nil {
			onErrorReloading(err)
			return
		}
		r.lock.Lock()
		r.conf = cf
		callbacks := make([]func(*Settings), len(r.onReload))
		copy(callbacks, r.onReload)
		r.lock.Unlock()
		for _, fn := range callbacks {
			fn(r)
		}
	})
	return r, nil
}
