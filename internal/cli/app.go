package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"hlskb/internal/blob"
	"hlskb/internal/config"
	"hlskb/internal/core"
	"hlskb/internal/manifest"
	"hlskb/internal/persistence"
	"hlskb/pkg/domain"
)

// app is the wiring shared by every command run.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	store     domain.EntityStore
	manifests *manifest.Store
	confirm   core.Confirmer
	opts      *RootOptions
}

func (o *RootOptions) config() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath, o.getenv)
	if err != nil {
		return config.Config{}, err
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Storage.Driver, o.StorageDriver)
	override(&cfg.Storage.DSN, o.DSN)
	override(&cfg.Manifests.Driver, o.ManifestDriver)
	override(&cfg.Manifests.Root, o.ManifestDir)
	override(&cfg.Log.Level, o.LogLevel)
	override(&cfg.Log.Format, o.LogFormat)
	override(&cfg.Operator, o.Operator)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openApp resolves configuration and opens the manifest backend, and the
// entity store when withStore is set. confirm may be nil for an
// interactive prompt on the command's streams.
func openApp(ctx context.Context, cmd *cobra.Command, o *RootOptions, withStore bool, confirm core.Confirmer) (*app, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "load configuration", err)
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "configure logging", err)
	}
	if confirm == nil {
		confirm = core.Interactive(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	blobs, err := blob.Open(ctx, cfg.Manifests)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "open manifest storage", err)
	}
	a := &app{
		cfg:     cfg,
		log:     log,
		confirm: confirm,
		opts:    o,
		manifests: manifest.NewStore(blobs,
			manifest.WithConfirmer(confirm),
			manifest.WithLogger(log),
			manifest.WithObserver(o.recorder),
			manifest.WithClock(o.utcNow)),
	}
	if withStore {
		store, err := persistence.Open(ctx, cfg.Storage, persistence.WithClock(o.utcNow))
		if err != nil {
			return nil, WrapExitError(ExitFailure, "open knowledge base", err)
		}
		a.store = store
		log.Debug("knowledge base opened", "driver", cfg.Storage.Driver)
	}
	return a, nil
}

func (o *RootOptions) utcNow() time.Time { return o.now().UTC() }

func (a *app) engineOptions() []core.Option {
	return []core.Option{
		core.WithLogger(a.log),
		core.WithMetrics(a.opts.recorder),
		core.WithClock(core.ClockFunc(a.opts.utcNow)),
	}
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// closeInto closes a and folds the close error into *err.
func (a *app) closeInto(err *error) {
	if cerr := a.close(); cerr != nil {
		*err = errors.Join(*err, fmt.Errorf("close knowledge base: %w", cerr))
	}
}
