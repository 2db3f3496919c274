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

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sluiceproj/sluice"
	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/config"
	"github.com/sluiceproj/sluice/pkg/driver"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/reduce/state"
	"github.com/sluiceproj/sluice/pkg/reduce/state/memory"
	redisstate "github.com/sluiceproj/sluice/pkg/reduce/state/redis"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	sharedutil "github.com/sluiceproj/sluice/pkg/shared/util"
	"github.com/sluiceproj/sluice/pkg/sinks"
	"github.com/sluiceproj/sluice/pkg/sinks/blackhole"
	"github.com/sluiceproj/sluice/pkg/sinks/logger"
	"github.com/sluiceproj/sluice/pkg/sources"
	"github.com/sluiceproj/sluice/pkg/sources/generator"
	"github.com/sluiceproj/sluice/pkg/sources/kafka"
	"github.com/sluiceproj/sluice/pkg/sources/nats"
	"github.com/sluiceproj/sluice/pkg/substrate/local"
	"github.com/sluiceproj/sluice/pkg/translate"
	"github.com/sluiceproj/sluice/pkg/udf/builtin"
)

func NewRunCommand() *cobra.Command {
	var (
		configPath string
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline from a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("run")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(logging.WithLogger(ctx, log), configPath)
		},
	}
	command.Flags().StringVar(&configPath, "config", "", "Path to the pipeline configuration file, when empty a pipeline.yaml is looked up in . and /etc/sluice")
	return command
}

func run(ctx context.Context, configPath string) error {
	log := logging.FromContext(ctx)
	settings, err := config.LoadConfig(configPath, func(err error) {
		log.Errorw("Configuration reload failed", zap.Error(err))
	})
	if err != nil {
		return err
	}
	if err := logging.SetLevel(settings.LogLevel()); err != nil {
		return err
	}
	log = log.With("pipeline", settings.PipelineName())
	ctx = logging.WithLogger(ctx, log)
	log.Infow("Starting the pipeline", "version", sluice.GetVersion())

	sink, err := buildSink(settings)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	srcs, err := buildSources(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		for name, src := range srcs {
			if cerr := src.Close(); cerr != nil {
				log.Errorw("Failed to close the source", zap.String("source", name), zap.Error(cerr))
			}
		}
	}()

	g, err := buildGraph(settings, sink)
	if err != nil {
		return err
	}

	stores, err := buildStateProvider(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	drv := settings.Driver()
	d, err := driver.New(ctx, settings.PipelineName(), g, local.NewSubstrate(drv.Parallelism), stores, srcs,
		driver.WithLogger(log),
		driver.WithTickInterval(drv.TickInterval),
		driver.WithReadBatchSize(settings.BatchSize()))
	if err != nil {
		return err
	}

	settings.OnReload(func(s *config.Settings) {
		d.SetReadBatchSize(s.BatchSize())
		if lerr := logging.SetLevel(s.LogLevel()); lerr != nil {
			log.Errorw("Ignoring the log level of the reloaded configuration", zap.Error(lerr))
		}
		log.Infow("Applied the reloaded configuration",
			zap.Int64("batchSize", s.BatchSize()), zap.String("logLevel", s.LogLevel()))
	})

	var healthCheckers []metrics.HealthChecker
	if hc, ok := stores.(metrics.HealthChecker); ok {
		healthCheckers = append(healthCheckers, hc)
	}
	metricsOpts := metrics.NewMetricsOptions(ctx, d.Watermarks(), healthCheckers)
	ms := metrics.NewMetricsServer(settings.PipelineName(), metricsOpts...)
	if shutdown, err := ms.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server, error: %w", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	return d.Run(ctx)
}

// buildSources creates and starts one sourcer per configured source, keyed by
// the graph node name it will be bound to.
func buildSources(ctx context.Context, settings *config.Settings) (map[string]sources.Sourcer, error) {
	srcs := make(map[string]sources.Sourcer)
	closeAll := func() {
		for _, src := range srcs {
			_ = src.Close()
		}
	}
	for _, sc := range settings.Sources() {
		switch {
		case sc.Generator != nil:
			gen := sc.Generator
			var opts []generator.Option
			if gen.RPU > 0 {
				opts = append(opts, generator.WithRPU(int(gen.RPU)))
			}
			if gen.MsgSize > 0 {
				opts = append(opts, generator.WithMsgSize(gen.MsgSize))
			}
			if gen.Duration > 0 {
				opts = append(opts, generator.WithTimeUnit(gen.Duration))
			}
			if gen.KeyCount > 0 {
				opts = append(opts, generator.WithKeyCount(int(gen.KeyCount)))
			}
			if gen.Jitter > 0 {
				opts = append(opts, generator.WithJitter(gen.Jitter))
			}
			src, err := generator.NewMemGen(ctx, settings.PipelineName(), sc.Name, opts...)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to create the generator source %q, %w", sc.Name, err)
			}
			srcs[sc.Name] = src
		case sc.Nats != nil:
			nc := sc.Nats
			src, err := nats.New(ctx, settings.PipelineName(), sc.Name, nc.URL, nc.Subject, nc.Queue)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to create the nats source %q, %w", sc.Name, err)
			}
			srcs[sc.Name] = src
		case sc.Kafka != nil:
			kc := sc.Kafka
			var opts []kafka.Option
			if kc.ConsumerGroup != "" {
				opts = append(opts, kafka.WithGroupName(kc.ConsumerGroup))
			}
			if kc.Config != "" {
				saramaConfig, err := sharedutil.GetSaramaConfigFromYAMLString(kc.Config)
				if err != nil {
					closeAll()
					return nil, fmt.Errorf("error reading kafka source config of %q, %w", sc.Name, err)
				}
				opts = append(opts, kafka.WithSaramaConfig(saramaConfig))
			}
			src, err := kafka.NewKafkaSource(ctx, settings.PipelineName(), sc.Name, kc.Brokers, kc.Topic, opts...)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to create the kafka source %q, %w", sc.Name, err)
			}
			if err := src.Start(); err != nil {
				_ = src.Close()
				closeAll()
				return nil, fmt.Errorf("failed to start the kafka source %q, %w", sc.Name, err)
			}
			srcs[sc.Name] = src
		}
	}
	return srcs, nil
}

// buildGraph assembles the configured pipeline: the sources, merged when
// there is more than one, an optional filter, and the windowed aggregation
// feeding the sink.
func buildGraph(settings *config.Settings, sink sinks.Sink) (*translate.Graph, error) {
	windower, err := settings.Windower()
	if err != nil {
		return nil, err
	}
	fn, err := combine.ByName(settings.CombineName())
	if err != nil {
		return nil, err
	}

	g := translate.NewGraph()
	var sourceRefs []translate.Ref
	for _, sc := range settings.Sources() {
		if err := g.Add(&translate.Node{Name: sc.Name, Kind: translate.KindSource}); err != nil {
			return nil, err
		}
		sourceRefs = append(sourceRefs, translate.MainOutput(sc.Name))
	}

	upstream := sourceRefs[0]
	if len(sourceRefs) > 1 {
		if err := g.Add(&translate.Node{Name: "merge", Kind: translate.KindFlatten, Inputs: sourceRefs}); err != nil {
			return nil, err
		}
		upstream = translate.MainOutput("merge")
	}

	if expr := settings.Filter(); expr != "" {
		if err := g.Add(&translate.Node{
			Name:   "filter",
			Kind:   translate.KindParDo,
			Inputs: []translate.Ref{upstream},
			Mapper: builtin.NewFilter(expr),
		}); err != nil {
			return nil, err
		}
		upstream = translate.MainOutput("filter")
	}

	if err := g.Add(&translate.Node{
		Name:     "window",
		Kind:     translate.KindWindowInto,
		Inputs:   []translate.Ref{upstream},
		Windower: windower,
	}); err != nil {
		return nil, err
	}
	if err := g.Add(&translate.Node{
		Name:     "aggregate",
		Kind:     translate.KindGroupByKey,
		Inputs:   []translate.Ref{translate.MainOutput("window")},
		Windower: windower,
		Fn:       fn,
	}); err != nil {
		return nil, err
	}
	if err := g.Add(&translate.Node{
		Name:   "out",
		Kind:   translate.KindSink,
		Inputs: []translate.Ref{translate.MainOutput("aggregate")},
		Sink:   sink,
	}); err != nil {
		return nil, err
	}
	return g, nil
}

func buildSink(settings *config.Settings) (sinks.Sink, error) {
	switch kind := settings.Sink().Kind; kind {
	case "", "log":
		return logger.NewToLog(settings.PipelineName(), "out")
	case "blackhole":
		return blackhole.NewBlackhole(settings.PipelineName(), "out"), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", kind)
	}
}

func buildStateProvider(ctx context.Context, settings *config.Settings) (state.Provider, error) {
	st := settings.State()
	if st.Backend != "redis" {
		return memory.NewProvider(), nil
	}
	log := logging.FromContext(ctx)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(st.Redis.URL, ","),
		Password: st.Redis.Password,
	})
	var err error
	_ = wait.ExponentialBackoffWithContext(ctx, sharedutil.DefaultRetryBackoff, func(ctx context.Context) (bool, error) {
		if err = client.Ping(ctx).Err(); err != nil {
			log.Infow("Redis state backend might not be ready yet, will retry if the limit is not reached", zap.Error(err))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to the redis state backend at %q, %w", st.Redis.URL, err)
	}
	return redisstate.NewProvider(client), nil
}
