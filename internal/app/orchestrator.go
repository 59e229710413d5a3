// Package app wires configuration, storage and transports into the running
// diskbot process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/justyntemme/diskbot/internal/bot"
	"github.com/justyntemme/diskbot/internal/browser"
	"github.com/justyntemme/diskbot/internal/config"
	"github.com/justyntemme/diskbot/internal/console"
	"github.com/justyntemme/diskbot/internal/debug"
	"github.com/justyntemme/diskbot/internal/logging"
	"github.com/justyntemme/diskbot/internal/metrics"
	"github.com/justyntemme/diskbot/internal/store"
	"github.com/justyntemme/diskbot/internal/telegram"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Orchestrator struct {
	cfg config.Config
	log zerolog.Logger
	api bot.API
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithAPI replaces the Telegram client, for tests.
func WithAPI(api bot.API) Option {
	return func(o *Orchestrator) { o.api = api }
}

func NewOrchestrator(cfg config.Config, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, log: logger}
	for _, opt := range opts {
		opt(o)
	}
	if o.api == nil {
		o.api = telegram.NewClient(cfg.Bot.APIURL, cfg.Token, logging.Component(logger, "telegram"),
			telegram.WithUploadTimeout(time.Duration(cfg.Bot.UploadTimeout)))
	}
	return o
}

// Run serves the bot, and the metrics endpoint when configured, until ctx
// is cancelled or one of them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	db, err := store.Open(o.cfg.Bot.StatePath)
	if err != nil {
		return fmt.Errorf("failed to open state db: %w", err)
	}
	defer db.Close()

	if o.cfg.UserID == 0 {
		o.log.Warn().Msg("user_id is not set: every sender will be rejected. Send /start and copy your id from the log")
	}

	b := bot.New(o.api, db, o.botOptions(), logging.Component(o.log, "bot"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(ctx)
	})

	if addr := o.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           o.metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			o.log.Info().Str("addr", addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	debug.Log(debug.APP, "Run: stopped err=%v", err)
	return err
}

func (o *Orchestrator) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (o *Orchestrator) botOptions() bot.Options {
	return bot.Options{
		Home:        o.cfg.HomePath,
		OwnerID:     int64(o.cfg.UserID),
		Confine:     o.cfg.Confined(),
		PageSize:    o.cfg.Browser.PageSize,
		MaxBytes:    o.cfg.Archive.MaxBytes,
		TempDir:     o.cfg.Archive.TempDir,
		PollTimeout: time.Duration(o.cfg.Bot.PollTimeout),
	}
}

// RunConsole browses the configured home in the terminal. Downloads land in
// outDir.
func RunConsole(cfg config.Config, outDir string) error {
	s, err := browser.New(cfg.HomePath, browser.WithConfinement(cfg.Confined()))
	if err != nil {
		return err
	}
	m := console.New(s, console.Options{
		PageSize: cfg.Browser.PageSize,
		MaxBytes: cfg.Archive.MaxBytes,
		TempDir:  cfg.Archive.TempDir,
		OutDir:   outDir,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
