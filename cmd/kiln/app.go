package main

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/deixis/kiln/internal/assets"
	"github.com/deixis/kiln/internal/config"
	"github.com/deixis/kiln/internal/logging"
	"github.com/deixis/kiln/internal/metrics"
	"github.com/deixis/kiln/internal/pipeline"
	"github.com/deixis/kiln/internal/report"
	"github.com/deixis/kiln/internal/retry"
	"github.com/deixis/kiln/internal/runner"
)

// reportCacheSize is the number of recent runs kept in memory.
const reportCacheSize = 16

// app is the wired set of components behind every command.
type app struct {
	loaded   *config.LoadResult
	log      zerolog.Logger
	registry *prometheus.Registry
	disk     *report.DiskStore
	store    report.Store
	runner   *runner.Runner
	engine   *pipeline.Engine
}

// newApp loads the project configuration and wires the pipeline. Progress
// (banners and command output) goes to out.
func newApp(root *CLI, out io.Writer) (*app, error) {
	log := logging.Init("kiln", root.Verbose)

	loaded, err := loadConfig(root.Config)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	log.Debug().Str("root", loaded.Root).Str("path", loaded.Path).Int("steps", len(cfg.Steps)).Msg("config loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	disk := report.NewDiskStore()
	store := report.NewLRUStore(reportCacheSize, disk)

	r := &runner.Runner{
		Workspace:    loaded.Root,
		PollInterval: cfg.PollInterval(),
		MaxOutput:    cfg.MaxOutputBytes(),
		Output:       out,
		Logger:       &log,
	}

	engine := &pipeline.Engine{
		Config: cfg,
		Runner: r,
		Fetcher: &assets.Fetcher{
			Client:   assets.NewHTTPClient(),
			Policy:   retry.DefaultPolicy(),
			Progress: out,
			Logger:   &log,
		},
		Store:   store,
		Metrics: metrics.NewPrometheusRecorder(registry),
		Logger:  &log,
		Out:     out,
		Root:    loaded.Root,
	}

	return &app{
		loaded:   loaded,
		log:      log,
		registry: registry,
		disk:     disk,
		store:    store,
		runner:   r,
		engine:   engine,
	}, nil
}

func loadConfig(path string) (*config.LoadResult, error) {
	if path != "" {
		return config.LoadPath(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	return config.Load(wd)
}

// close removes the run reports written during this process.
func (a *app) close() {
	if err := a.disk.Close(); err != nil {
		a.log.Warn().Err(err).Msg("removing run reports")
	}
}
