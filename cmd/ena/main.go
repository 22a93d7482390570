// Command ena continuously scrapes an imageboard and archives its posts
// and media into a legacy-compatible relational schema.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pluieelectrique/ena/pkg/archivedb"
	"github.com/pluieelectrique/ena/pkg/boardpoller"
	"github.com/pluieelectrique/ena/pkg/enaconfig"
	"github.com/pluieelectrique/ena/pkg/fetcher"
	"github.com/pluieelectrique/ena/pkg/mailbox"
	"github.com/pluieelectrique/ena/pkg/threadupdater"
)

func main() {
	app := kingpin.New("ena", "Archives an imageboard into a legacy-compatible database.")
	configPath := app.Flag("config", "Path to the TOML configuration file.").Default("config.toml").String()
	logLevel := app.Flag("log.level", "Minimum log level to emit (debug, info, warn, error).").Default("info").String()

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(*logLevel)
	level.Info(logger).Log("msg", "ena is starting")

	cfg, err := enaconfig.Load(*configPath, logger)
	if err != nil {
		level.Error(logger).Log("msg", "configuration error", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()

	database, err := connectDatabase(cfg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "database initialization error", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	// Resolving the Fetcher<->ThreadUpdater circular dependency: allocate
	// ThreadUpdater's inbound FetchedThread mailbox first, so the Fetcher
	// can be constructed with its Address before ThreadUpdater itself
	// exists. ThreadUpdater is then constructed around that same mailbox.
	fetchedThreads := mailbox.New[threadupdater.FetchedThread](500)

	fetcherSvc := fetcher.New(fetcherConfig(cfg), fetchedThreads.Address(), logger, reg)

	threadUpdaterOpts := threadupdater.Options{
		RefetchArchivedThreads: cfg.AsagiCompat.RefetchArchivedThreads,
		AlwaysAddArchiveTimes:  cfg.AsagiCompat.AlwaysAddArchiveTimes,
	}
	threadUpdaterSvc := threadupdater.New(fetchedThreads, fetcherSvc, database, logger, threadUpdaterOpts)

	boards := make([]boardpoller.BoardConfig, len(cfg.Boards))
	for i, b := range cfg.Boards {
		boards[i] = boardpoller.BoardConfig{Board: b.Board, PollInterval: b.PollInterval, FetchArchive: b.FetchArchive}
	}
	poller := boardpoller.New(fetcherSvc, threadUpdaterSvc, logger)

	// Each actor's Run(ctx) loop is wrapped as a dskit/services.Service so
	// the three of them start and stop together through one Manager,
	// rather than as bare goroutines the rest of main has to track by hand.
	fetcherService := services.NewBasicService(nil, func(ctx context.Context) error {
		fetcherSvc.Run(ctx)
		return nil
	}, nil)
	threadUpdaterService := services.NewBasicService(nil, func(ctx context.Context) error {
		threadUpdaterSvc.Run(ctx)
		return nil
	}, nil)
	pollerService := services.NewBasicService(nil, func(ctx context.Context) error {
		poller.Run(ctx, boards)
		return nil
	}, nil)

	manager, err := services.NewManager(fetcherService, threadUpdaterService, pollerService)
	if err != nil {
		level.Error(logger).Log("msg", "failed to build service manager", "err", err)
		os.Exit(1)
	}

	runCtx := context.Background()
	if err := services.StartManagerAndAwaitHealthy(runCtx, manager); err != nil {
		level.Error(logger).Log("msg", "failed to start services", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "ena is running", "boards", len(boards))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	level.Info(logger).Log("msg", "shutting down")

	manager.StopAsync()
	if err := services.StopManagerAndAwaitStopped(runCtx, manager); err != nil {
		level.Error(logger).Log("msg", "service manager stopped with error", "err", err)
	}
}

func newLogger(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lv level.Option
	switch levelName {
	case "debug":
		lv = level.AllowDebug()
	case "warn":
		lv = level.AllowWarn()
	case "error":
		lv = level.AllowError()
	default:
		lv = level.AllowInfo()
	}
	return level.NewFilter(logger, lv)
}

// connectDatabase retries the initial connection with exponential backoff:
// the archive database is frequently the last dependency to finish
// starting in a docker-compose/k8s deployment, and failing fast on the
// first attempt would make every fresh deployment flaky.
func connectDatabase(cfg *enaconfig.Config, logger log.Logger) (*archivedb.Service, error) {
	boff := backoff.New(context.Background(), backoff.Config{
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		MaxRetries: 10,
	})

	var lastErr error
	for boff.Ongoing() {
		db, err := archivedb.New(cfg, logger)
		if err == nil {
			return db, nil
		}
		lastErr = err
		level.Warn(logger).Log("msg", "database connection failed, retrying", "attempt", boff.NumRetries()+1, "err", err)
		boff.Wait()
	}
	return nil, lastErr
}

func fetcherConfig(cfg *enaconfig.Config) fetcher.Config {
	return fetcher.Config{
		MediaRoot: cfg.DatabaseMedia.MediaPath,
		ThreadList: fetcher.PipelineConfig{
			Interval:       cfg.Network.RateLimiting.ThreadList.Interval.Duration(),
			MaxPerInterval: cfg.Network.RateLimiting.ThreadList.MaxPerInterval,
			MaxConcurrent:  cfg.Network.RateLimiting.ThreadList.MaxConcurrent,
		},
		Thread: fetcher.PipelineConfig{
			Interval:       cfg.Network.RateLimiting.Thread.Interval.Duration(),
			MaxPerInterval: cfg.Network.RateLimiting.Thread.MaxPerInterval,
			MaxConcurrent:  cfg.Network.RateLimiting.Thread.MaxConcurrent,
		},
		Media: fetcher.PipelineConfig{
			Interval:       cfg.Network.RateLimiting.Media.Interval.Duration(),
			MaxPerInterval: cfg.Network.RateLimiting.Media.MaxPerInterval,
			MaxConcurrent:  cfg.Network.RateLimiting.Media.MaxConcurrent,
		},
		Retry: fetcher.RetryConfig{
			Base:   cfg.Network.RetryBackoff.Base.Duration(),
			Factor: cfg.Network.RetryBackoff.Factor,
			Max:    cfg.Network.RetryBackoff.Max.Duration(),
		},
	}
}
