// Package app wires configuration, ledger, Telegram, media acquisition
// and the per-subscription pollers into one runnable daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tgreddit/internal/config"
	"tgreddit/internal/dispatch"
	"tgreddit/internal/ledger"
	"tgreddit/internal/media"
	"tgreddit/internal/poller"
	"tgreddit/internal/reddit"
	"tgreddit/internal/runtime/supervisor"
	"tgreddit/pkg/logx"
)

type App struct {
	cfg       *config.Config
	log       logx.Logger
	logCloser io.Closer
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	log, closer, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, log: log, logCloser: closer}, nil
}

// Run starts every subscription cycle and blocks until the context is
// canceled (termination signal) or a fatal error stops the supervisor.
// It drains in-flight cycles within the configured grace deadline.
func (a *App) Run(ctx context.Context) error {
	defer a.logCloser.Close()

	store, err := ledger.Open(a.cfg.DBPath, a.log.With(logx.String("comp", "ledger")))
	if err != nil {
		return err
	}
	defer store.Close()
	// The process must not run against a stale or incompatible schema.
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("ledger migration: %w", err)
	}

	// Constructing the sender validates credentials against the Bot API.
	sender, err := dispatch.NewTelegramSender(a.cfg.Telegram.Token, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	mediaTimeout, _ := config.ParseDurationOrDefault("media.timeout", a.cfg.Media.Timeout, 5*time.Minute)
	acquirer := media.New(media.Config{
		YtdlpPath:   a.cfg.Media.YtdlpPath,
		Timeout:     mediaTimeout,
		Concurrency: a.cfg.Media.Concurrency,
	}, a.log.With(logx.String("comp", "media")))

	dispatcher := dispatch.New(sender, dispatch.Config{
		RatePerSec:   a.cfg.Dispatch.RatePerSec,
		Burst:        a.cfg.Dispatch.Burst,
		LinksBaseURL: a.cfg.LinksBaseURL,
	}, a.log.With(logx.String("comp", "dispatch")))

	fetcher := reddit.New(a.log.With(logx.String("comp", "reddit")))

	polls := poller.New(poller.Deps{
		Fetcher:         fetcher,
		Ledger:          store,
		Acquirer:        acquirer,
		Dispatcher:      dispatcher,
		Log:             a.log.With(logx.String("comp", "poller")),
		SkipInitialSend: a.cfg.SkipInitial(),
		BackoffCap:      a.cfg.BackoffCap(),
	})

	// A ledger storage failure in any cycle cancels every sibling and
	// brings the process down.
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if err := polls.Start(sup, a.cfg.ResolvedSubscriptions()); err != nil {
		sup.Cancel()
		return err
	}

	a.log.Info("started", logx.Int("subscriptions", len(a.cfg.Subscriptions)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-sup.Context().Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("shutting down, draining cycles", logx.Duration("grace", a.cfg.GraceDeadline()))

	drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GraceDeadline())
	defer cancel()
	waitErr := sup.Wait(drainCtx)

	switch {
	case errors.Is(waitErr, context.DeadlineExceeded):
		return errors.New("shutdown grace deadline elapsed, drain abandoned")
	case waitErr != nil:
		return waitErr
	}
	a.log.Info("clean shutdown")
	return nil
}
