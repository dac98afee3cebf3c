// Package streamcheck parses the streamcheck configuration and runs a
// verification against the configured store.
package streamcheck

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventstream"
	"github.com/terraskye/eventstream/eventstore/disk"
	"github.com/terraskye/eventstream/eventstore/kurrentdb"
	"github.com/terraskye/eventstream/eventstore/memory"
	"github.com/terraskye/eventstream/eventstore/nats"
	"github.com/terraskye/eventstream/logging"
	"github.com/terraskye/eventstream/otel"
	"github.com/terraskye/eventstream/retry"
	"github.com/terraskye/eventstream/verify"
)

const (
	StoreKurrentDB = "kurrentdb"
	StoreDisk      = "disk"
	StoreMemory    = "memory"
	StoreNATS      = "nats"
)

// Config holds streamcheck command configuration.
type Config struct {
	Streams        int    `env:"STREAMCHECK_STREAMS" envDefault:"10"`
	BalanceChanges int    `env:"STREAMCHECK_BALANCE_CHANGES" envDefault:"4"`
	SplitBatches   bool   `env:"STREAMCHECK_SPLIT_BATCHES"`
	LogLevel       string `env:"STREAMCHECK_LOG_LEVEL" envDefault:"info"`
	Store          string `env:"STREAMCHECK_STORE" envDefault:"kurrentdb"`
	DataDir        string `env:"STREAMCHECK_DATA_DIR" envDefault:"streamcheck-data"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.IntVar(&cfg.Streams, "streams", cfg.Streams, "Number of account streams to write and verify")
	fs.IntVar(&cfg.BalanceChanges, "balance-changes", cfg.BalanceChanges, "Number of balance changes per account")
	fs.BoolVar(&cfg.SplitBatches, "split", cfg.SplitBatches, "Append the balance changes in a second batch")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Store to verify: kurrentdb, nats, disk or memory")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory of the disk store")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}
	return cfg, nil
}

// Loggers returns the logrus entry used around the store and the slog logger
// used by the verification, both at the configured level.
func Loggers(level string) (*logrus.Entry, *slog.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	slogLevel := slog.LevelInfo
	switch {
	case lvl >= logrus.DebugLevel:
		slogLevel = slog.LevelDebug
	case lvl == logrus.WarnLevel:
		slogLevel = slog.LevelWarn
	case lvl <= logrus.ErrorLevel:
		slogLevel = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})

	return logrus.NewEntry(logger).WithField("component", "streamcheck"), slog.New(handler), nil
}

// OpenStore opens the configured store and wraps it, outermost first, with
// retries, logging and telemetry.
func OpenStore(ctx context.Context, cfg Config, logger *logrus.Entry, slogger *slog.Logger) (eventstream.Store, error) {
	var (
		store eventstream.Store
		err   error
	)
	switch cfg.Store {
	case StoreKurrentDB:
		var dbcfg kurrentdb.Config
		if dbcfg, err = kurrentdb.LoadConfig(); err != nil {
			return nil, err
		}
		client, err := kurrentdb.NewClient(dbcfg)
		if err != nil {
			return nil, err
		}
		store = kurrentdb.NewEventStore(client)
	case StoreNATS:
		natscfg, err := nats.LoadConfig()
		if err != nil {
			return nil, err
		}
		if store, err = nats.NewEventStore(ctx, natscfg, slogger); err != nil {
			return nil, err
		}
	case StoreDisk:
		if store, err = disk.NewFileStore(cfg.DataDir); err != nil {
			return nil, err
		}
	case StoreMemory:
		store = memory.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	store = otel.WithEventStoreTelemetry(store)
	store = logging.WithStoreLogging(logger, store)
	store = retry.WithRetry(store, retry.WithNotify(func(err error, next time.Duration) {
		logger.Warnf("Retrying in %s: %v", next, err)
	}))
	return store, nil
}

// Run verifies the configured store.
func Run(ctx context.Context, cfg Config) error {
	logger, slogger, err := Loggers(cfg.LogLevel)
	if err != nil {
		return err
	}

	store, err := OpenStore(ctx, cfg, logger, slogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Close store: %v", err)
		}
	}()

	run := uuid.NewString()
	logger = logger.WithField("run", run)
	ctx = eventstream.WithCausation(ctx, run)

	report, err := verify.Run(ctx, store, verify.Config{
		Streams:        cfg.Streams,
		BalanceChanges: cfg.BalanceChanges,
		SplitBatches:   cfg.SplitBatches,
	}, slogger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"streams": report.Streams,
		"events":  report.Events,
		"append":  report.Append,
		"read":    report.Read,
	}).Infof("Verified %s store in %s", cfg.Store, report.Total)
	return nil
}
