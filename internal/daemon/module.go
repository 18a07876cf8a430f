package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatup-app/chatup/internal/bus"
	"github.com/chatup-app/chatup/internal/config"
	"github.com/chatup-app/chatup/internal/lock"
	"github.com/chatup-app/chatup/internal/logging"
	"github.com/chatup-app/chatup/internal/netmon"
	"github.com/chatup-app/chatup/internal/notify"
	"github.com/chatup-app/chatup/internal/profile"
	"github.com/chatup-app/chatup/internal/realtime"
	"github.com/chatup-app/chatup/internal/remote"
	"github.com/chatup-app/chatup/internal/status"
	"github.com/chatup-app/chatup/internal/store"
	intsync "github.com/chatup-app/chatup/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSelf,
			provideTokenSource,
			provideRemote,
			provideMonitor,
			provideBridge,
			provideNotifier,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

// provideConfig loads ~/.chatup/config.toml, writing defaults on first run.
func provideConfig(logger *zap.Logger) (*config.Config, error) {
	path := profile.ConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.Config{
			DefaultProfile: profile.DefaultName,
			Server:         config.Server{BaseURL: "http://localhost:5000/api"},
		}
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
		logger.Info("wrote default config", zap.String("path", path))
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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

// provideSelf reads the logged-in user identity written at login time. A
// missing file leaves the identity empty; message sends still work but
// self-message suppression does not.
func provideSelf(p Params, logger *zap.Logger) store.User {
	var self store.User
	data, err := os.ReadFile(profile.UserPath(p.ProfileName))
	if err != nil {
		logger.Warn("no user identity found, run login first", zap.Error(err))
		return self
	}
	if err := json.Unmarshal(data, &self); err != nil {
		logger.Warn("user identity unreadable", zap.Error(err))
	}
	return self
}

func provideTokenSource(p Params) remote.TokenSource {
	return &remote.FileTokenSource{Path: profile.TokenPath(p.ProfileName)}
}

func provideRemote(cfg *config.Config, tokens remote.TokenSource, logger *zap.Logger) *remote.Client {
	return remote.New(cfg.Server.BaseURL, tokens, logger)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *netmon.Monitor {
	return netmon.New(cfg.Server.BaseURL, b, logger)
}

func provideBridge(cfg *config.Config, self store.User, b *bus.Bus, monitor *netmon.Monitor, logger *zap.Logger) *realtime.Bridge {
	return realtime.New(cfg.Server.ResolveSocketURL(), self, b, monitor, logger)
}

func provideNotifier(logger *zap.Logger) notify.Dispatcher {
	return notify.NewLogDispatcher(logger)
}

func provideEngine(db *store.DB, client *remote.Client, monitor *netmon.Monitor, bridge *realtime.Bridge, notifier notify.Dispatcher, machine *status.Machine, b *bus.Bus, logger *zap.Logger, self store.User) *intsync.Engine {
	return intsync.NewEngine(db, client, monitor, bridge, notifier, machine, b, logger, self)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, monitor *netmon.Monitor, bridge *realtime.Bridge, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine's boot probe decides the initial state, so it
			// starts first; the monitor and bridge then keep it fed.
			engine.Start(context.Background())
			monitor.Start(context.Background())
			bridge.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			bridge.Stop()
			monitor.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
