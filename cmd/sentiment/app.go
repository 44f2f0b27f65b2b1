package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"sentiment-labeler/internal/config"
	"sentiment-labeler/internal/notify"
	"sentiment-labeler/internal/repository"
	"sentiment-labeler/internal/service"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sqlx.DB
	runner  *service.Runner
	reports *service.Reports
	runs    *repository.RunRepository
	rows    *repository.RowRepository
}

// loadConfig reads the --config file. The default path may be absent.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return config.LoadConfig(path)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zc.Level = level
	return zc.Build()
}

// setup loads config, builds the logger and, when withServices is set, opens
// the database and wires the labeling service.
func setup(c *cli.Context, withServices bool) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if !withServices {
		return a, nil
	}

	db, err := repository.Open(cfg.Database.Type, cfg.Database.Path, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	a.db = db

	notifier, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Warn("Telegram notifications disabled", zap.Error(err))
		notifier = notify.Nop{}
	}

	a.runs = repository.NewRunRepository(db, logger)
	a.rows = repository.NewRowRepository(db, logger)
	a.runner = service.NewRunner(cfg.Catalog(), nil, a.runs, a.rows, notifier, service.Settings{
		LedgerDir:      cfg.Labeling.OutputDir,
		MaxPromptChars: cfg.Labeling.MaxPromptChars,
		TokensPerRow:   cfg.Labeling.TokensPerRow,
		RepairPasses:   cfg.Labeling.RepairPasses,
		IncludeContext: cfg.Labeling.IncludeContext,
	}, logger)
	a.reports = service.NewReports(a.runner, repository.NewGroundTruthRepository(db, logger), logger)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	a.logger.Sync()
}

// openInput opens path for reading; "-" is stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// writeOutput renders into path; "-" is stdout.
func writeOutput(path string, render func(w io.Writer) error) error {
	if path == "-" {
		return render(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
