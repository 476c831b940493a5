// Package app composes the sync process from its parts.
package app

import (
	"context"
	"fmt"

	"github.com/pchat/pchat/internal/bus"
	"github.com/pchat/pchat/internal/config"
	"github.com/pchat/pchat/internal/daemon"
	"github.com/pchat/pchat/internal/lock"
	"github.com/pchat/pchat/internal/logging"
	"github.com/pchat/pchat/internal/outbox"
	"github.com/pchat/pchat/internal/session"
	"github.com/pchat/pchat/internal/status"
	"github.com/pchat/pchat/internal/store"
	intsync "github.com/pchat/pchat/internal/sync"
	"github.com/pchat/pchat/internal/view"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	DaemonURL   string // optional override for testing; empty = use config
}

// Module returns the fx module for the sync process, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("pchatd",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideReconciler,
			provideSender,
			provideViewManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(p Params, cfg *config.Config) *daemon.Client {
	baseURL := cfg.DaemonBaseURL()
	if p.DaemonURL != "" {
		baseURL = p.DaemonURL
	}
	return daemon.New(baseURL, cfg.ConnectTimeout(), cfg.ReceiveTimeout())
}

func provideReconciler(db *store.DB, client *daemon.Client, machine *status.Machine, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, client, machine, b, logger, cfg.PollInterval())
}

func provideSender(db *store.DB, client *daemon.Client, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger, cfg.PollInterval())
}

func provideViewManager(db *store.DB, b *bus.Bus, logger *zap.Logger) *view.Manager {
	return view.NewManager(db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, db *store.DB, client *daemon.Client, reconciler *intsync.Reconciler, sender *outbox.Sender, threads *view.Manager, machine *status.Machine, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			reconciler.Start(context.Background())
			sender.Start(context.Background())

			// Warm the view cache so known conversations are hydrated
			// before the first read.
			go func() {
				convs, err := db.ListConversations()
				if err != nil {
					logger.Warn("view warmup failed", zap.Error(err))
					return
				}
				for _, c := range convs {
					threads.Thread(c.PeerID)
				}
			}()

			// Best-effort snapshot of the daemon's transport health for
			// the status surface.
			go func() {
				diag, err := client.TransportStatus(context.Background())
				if err != nil {
					logger.Debug("transport status unavailable", zap.Error(err))
					return
				}
				flat := make(map[string]string, len(diag))
				for k, v := range diag {
					flat[k] = fmt.Sprint(v)
				}
				machine.SetDiagnostics(flat)
			}()

			logger.Info("sync process started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			reconciler.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("sync process stopped")
			return nil
		},
	})
}
