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

package metrics

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sluiceproj/sluice/pkg/shared/logging"
	sharedtls "github.com/sluiceproj/sluice/pkg/shared/tls"
	"github.com/sluiceproj/sluice/pkg/shared/util"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

const (
	// DefaultPort is the port the metrics server listens on.
	DefaultPort = 2469

	// EnvDebug or EnvPPROF set to "true" enables the pprof endpoints.
	EnvDebug = "SLUICE_DEBUG"
	EnvPPROF = "SLUICE_PPROF"
	// EnvHealthCheckDisabled set to "true" makes /readyz skip the health
	// check executors.
	EnvHealthCheckDisabled = "SLUICE_HEALTH_CHECK_DISABLED"
)

// metricsServer runs an HTTP server to:
// 1. Expose metrics;
// 2. Serve an endpoint to execute health checks
type metricsServer struct {
	pipelineName string
	port         int
	watermarks   *watermark.Registry
	// refreshInterval is how often the source watermark gauges are refreshed
	// from the registry
	refreshInterval time.Duration
	// Functions that health check executes
	healthCheckExecutors []func() error
}

type Option func(*metricsServer)

// WithPort sets the listen port
func WithPort(port int) Option {
	return func(m *metricsServer) {
		m.port = port
	}
}

// WithWatermarks sets the registry whose source watermarks get exposed
func WithWatermarks(r *watermark.Registry) Option {
	return func(m *metricsServer) {
		m.watermarks = r
	}
}

// WithRefreshInterval sets how often to refresh the watermark information
func WithRefreshInterval(d time.Duration) Option {
	return func(m *metricsServer) {
		m.refreshInterval = d
	}
}

// WithHealthCheckExecutor appends a health check executor
func WithHealthCheckExecutor(f func() error) Option {
	return func(m *metricsServer) {
		m.healthCheckExecutors = append(m.healthCheckExecutors, f)
	}
}

// NewMetricsOptions returns a metrics option list.
func NewMetricsOptions(ctx context.Context, watermarks *watermark.Registry, healthCheckers []HealthChecker) []Option {
	metricsOpts := []Option{
		WithWatermarks(watermarks),
	}

	if util.LookupEnvStringOr(EnvHealthCheckDisabled, "false") != "true" {
		for _, hc := range healthCheckers {
			hc := hc
			metricsOpts = append(metricsOpts, WithHealthCheckExecutor(func() error {
				cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				return hc.IsHealthy(cctx)
			}))
		}
	}
	return metricsOpts
}

// NewMetricsServer returns a Prometheus metrics server instance, which can be used to start an HTTPS service to expose Prometheus metrics.
func NewMetricsServer(pipelineName string, opts ...Option) *metricsServer {
	m := new(metricsServer)
	m.pipelineName = pipelineName
	m.port = DefaultPort
	m.refreshInterval = 5 * time.Second // Default refresh interval
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// exposeWatermarks periodically copies the current watermark of every
// registered source into the exported gauge.
func (ms *metricsServer) exposeWatermarks(ctx context.Context) {
	ticker := time.NewTicker(ms.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, src := range ms.watermarks.Sources() {
				wm := ms.watermarks.Get(src)
				if wm.IsUnknown() {
					continue
				}
				sourceWatermark.WithLabelValues(ms.pipelineName, string(src)).Set(float64(wm.UnixMilli()))
			}
		}
	}
}

// Start function starts the HTTPS service to expose metrics, it returns a shutdown function and an error if any
func (ms *metricsServer) Start(ctx context.Context) (func(ctx context.Context) error, error) {
	log := logging.FromContext(ctx)
	log.Info("Generating self-signed certificate")
	cer, err := sharedtls.GenerateX509KeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate cert: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, ex := range ms.healthCheckExecutors {
			if err := ex(); err != nil {
				log.Errorw("Failed to execute health check", zap.Error(err))
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	pprofEnabled := os.Getenv(EnvDebug) == "true" || os.Getenv(EnvPPROF) == "true"
	if pprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Not enabling pprof debug endpoints")
	}

	if ms.watermarks != nil {
		go ms.exposeWatermarks(ctx)
	}

	httpServer := &http.Server{
		Addr:      fmt.Sprintf(":%d", ms.port),
		Handler:   mux,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{*cer}, MinVersion: tls.VersionTLS12},
	}

	go func() {
		log.Info("Starting metrics HTTPS server")
		if err := httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Failed to listen-and-server on HTTPS", zap.Error(err))
		}
		log.Info("Metrics server shutdown")
	}()
	return httpServer.Shutdown, nil
}
