package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddittail/config"
	"github.com/brettboylen/reddittail/httpapi"
	"github.com/brettboylen/reddittail/ratelimit"
	"github.com/brettboylen/reddittail/redditclient"
	"github.com/brettboylen/reddittail/store"
	"github.com/brettboylen/reddittail/streamengine"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "debug", "Logging level (debug, info, warn, error)")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("starting reddittail")

	cfg, err := config.Load(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"subreddit":   cfg.Reddit.Subreddit,
		"listings":    cfg.Stream.Listings,
		"server_port": cfg.Server.Port,
	}).Info("configuration loaded")

	client := redditclient.New(redditclient.Config{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		Subreddit:    cfg.Reddit.Subreddit,
	}, log)

	cursorStore := store.NewFileCursorStore(cfg.Store.CacheRoot)

	var sink *store.SQLiteSink
	if cfg.Store.SQLitePath != "" {
		sink, err = store.NewSQLiteSink(cfg.Store.SQLitePath, log)
		if err != nil {
			log.WithError(err).Fatal("failed to open sqlite mirror")
		}
		defer sink.Close()
	}

	pacer := buildPacer(cfg, client, log)
	itemLogger := streamengine.NewLogrusItemLogger(log)

	engineCfg := streamengine.Config{
		Subreddit:              cfg.Reddit.Subreddit,
		Listings:               cfg.Stream.Listings,
		WaitForEdit:            cfg.Stream.EditFetchAttempts,
		ExceptionPause:         cfg.Stream.ExceptionPause,
		MaxTimeBeforeFullFetch: cfg.Stream.MaxTimeBeforeFullFetch,
		LogStreams:             cfg.Stream.LogStreams,
	}

	// sink is only passed through as a streamengine.Sink when non-nil: a
	// typed-nil *store.SQLiteSink boxed into the interface would compare
	// non-nil and panic on first Record call.
	var engineSink streamengine.Sink
	if sink != nil {
		engineSink = sink
	}

	multiStream, err := streamengine.NewMultiStream(engineCfg, client, cursorStore, engineSink, itemLogger, pacer, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build stream engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httpapi.New(multiStream, sink, 100, log)
	go server.Start(ctx, cfg.Server.Port)

	go func() {
		if err := multiStream.Run(ctx, func(item streamengine.StreamItem) {
			if cfg.Stream.ShowDelay {
				delay := time.Since(time.Unix(int64(item.Item.CreatedUTC), 0))
				log.WithFields(logrus.Fields{
					"listing": item.Listing,
					"delay_s": delay.Seconds(),
				}).Debug("item delivered")
			}
		}); err != nil && err != context.Canceled {
			log.WithError(err).Error("stream engine stopped unexpectedly")
		}
	}()

	waitForShutdown(cancel, log)
}

// buildPacer selects the adaptive (default) or exponential pacer per
// config; one pacer is shared across every SubredditStream.
func buildPacer(cfg *config.Config, client *redditclient.Client, log *logrus.Logger) ratelimit.Pacer {
	if cfg.Stream.UseExponentialPacer {
		return ratelimit.NewExponentialPacer(
			client,
			cfg.Stream.MinWait,
			cfg.Stream.MaxWait,
			cfg.Stream.RatelimitExhaustion,
			cfg.Stream.QuotaRequests,
			cfg.Stream.QuotaWindow,
			log,
		)
	}
	return ratelimit.NewAdaptivePacer(
		client,
		cfg.Stream.QuotaRequests,
		cfg.Stream.QuotaWindow,
		cfg.Stream.SafetyFactor,
		log,
	)
}

// setupLogger sets up the logger with the specified log level.
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// waitForShutdown waits for a shutdown signal.
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("reddittail stopped")
}
