// Command crawlstream loads a crawl stream file, stages the cast rows in a
// replayable cache, and loads them into the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"crawlstream/internal/config"
	"crawlstream/internal/metrics"
	"crawlstream/internal/metrics/datadog"
	"crawlstream/internal/metrics/prompush"
	"crawlstream/internal/pipeline"

	// Register all backends with the storage factory; the stream file picks
	// one at runtime.
	_ "crawlstream/internal/storage/all"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, errInvalidConfig) {
			slog.Error("crawlstream", "err", err)
		}
		os.Exit(1)
	}
}

var errInvalidConfig = errors.New("invalid configuration")

type flags struct {
	config         string
	validate       bool
	metricsBackend string
	pushgatewayURL string
	datadogAddr    string
	verbose        bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("crawlstream", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "configs/infos.json", "stream file (JSON or YAML)")
	fs.BoolVar(&f.validate, "validate", false, "validate the stream file and exit")
	fs.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway, datadog (overrides CRAWLSTREAM_METRICS_BACKEND)")
	fs.StringVar(&f.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides CRAWLSTREAM_PUSHGATEWAY_URL)")
	fs.StringVar(&f.datadogAddr, "datadog-addr", "", "DogStatsD address (overrides CRAWLSTREAM_DATADOG_ADDR)")
	fs.BoolVar(&f.verbose, "v", false, "enable debug logs")
	return f, fs.Parse(args)
}

func run(args []string, stderr io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	set, err := config.LoadSettings()
	if err != nil {
		return err
	}
	// Flags win over the environment.
	if f.metricsBackend != "" {
		set.MetricsBackend = f.metricsBackend
	}
	if f.pushgatewayURL != "" {
		set.PushgatewayURL = f.pushgatewayURL
	}
	if f.datadogAddr != "" {
		set.DatadogAddr = f.datadogAddr
	}
	if f.verbose {
		set.LogLevel = "debug"
	}
	if err := setupLogging(stderr, set.LogLevel); err != nil {
		return err
	}

	s, err := config.Load(f.config)
	if err != nil {
		return err
	}
	issues := config.ValidateStream(s)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		slog.Error("configuration is invalid", "config", f.config)
		return errInvalidConfig
	}
	if f.validate {
		slog.Info("configuration is valid", "config", f.config)
		return nil
	}

	if err := setupMetrics(set, s.Job); err != nil {
		slog.Warn("metrics: disabled", "err", err)
	}
	defer func() {
		if err := metrics.Flush(); err != nil {
			slog.Warn("metrics: flush", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Debug("stream",
		"source", s.Source.Kind,
		"parser", s.Parser.Kind,
		"cache", s.Cache.Kind,
		"storage", s.Storage.Kind,
		"table", s.Storage.DB.Table,
	)
	res, err := pipeline.Run(ctx, s, set)
	if err != nil {
		return err
	}
	slog.Info("completed", "run_id", res.RunID, "elapsed", res.Elapsed.Truncate(time.Millisecond))
	return nil
}

// setupLogging installs a tint handler on stderr; colors are on only for a
// terminal.
func setupLogging(w io.Writer, level string) error {
	ll := &slog.LevelVar{}
	switch strings.ToLower(level) {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "", "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})))
	return nil
}

// setupMetrics installs the backend named in set. The nop backend stays in
// place for "none" and on error.
func setupMetrics(set config.Settings, job string) error {
	if job == "" {
		job = "crawlstream"
	}
	switch strings.ToLower(set.MetricsBackend) {
	case "", "none":
		slog.Debug("metrics: disabled")
		return nil
	case "pushgateway":
		b, err := prompush.NewBackend(job, set.PushgatewayURL)
		if err != nil {
			return err
		}
		slog.Info("metrics: pushgateway", "url", set.PushgatewayURL, "job", job)
		metrics.SetBackend(b)
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       set.DatadogAddr,
			GlobalTags: []string{"job:" + job},
		})
		if err != nil {
			return err
		}
		slog.Info("metrics: datadog", "addr", set.DatadogAddr, "job", job)
		metrics.SetBackend(b)
	default:
		return fmt.Errorf("unknown backend %q", set.MetricsBackend)
	}
	return nil
}
