package daemon

import (
	"context"
	"time"

	"github.com/mfigueiredo/wamcp/internal/bus"
	"github.com/mfigueiredo/wamcp/internal/config"
	"github.com/mfigueiredo/wamcp/internal/conn"
	"github.com/mfigueiredo/wamcp/internal/facade"
	"github.com/mfigueiredo/wamcp/internal/ingest"
	"github.com/mfigueiredo/wamcp/internal/lock"
	"github.com/mfigueiredo/wamcp/internal/logging"
	"github.com/mfigueiredo/wamcp/internal/mcp"
	"github.com/mfigueiredo/wamcp/internal/session"
	"github.com/mfigueiredo/wamcp/internal/status"
	"github.com/mfigueiredo/wamcp/internal/store"
	"github.com/mfigueiredo/wamcp/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
// ConfigPath overrides the default config file location when non-empty.
type Params struct {
	SessionName string
	ConfigPath  string
}

// persistence bundles the flushers so the shutdown hook can force a
// final write without reaching into the stores.
type persistence struct {
	chats    *store.Flusher
	messages *store.Flusher
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStores,
			provideDialer,
			provideConnMachine,
			provideEngine,
			provideFacade,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogDir(p.SessionName), p.SessionName)
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

// provideStores builds the chat directory, message store and raw cache,
// reloads them from the session's JSON files, and arms the debounced
// flushers. Depends on the lock so no second daemon can load the same
// files concurrently.
func provideStores(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.ChatDirectory, *store.MessageStore, *store.RawCache, *persistence, error) {
	dir := store.NewChatDirectory(logger)
	chats, err := store.LoadChats(session.ChatsPath(p.SessionName))
	if err != nil {
		logger.Warn("chat index unreadable, starting empty", zap.Error(err))
	} else {
		dir.Load(chats)
	}

	msgs := store.NewMessageStore(cfg.Store.PerChatCap, cfg.Store.GlobalCap)
	persisted, err := store.LoadMessages(session.MessagesPath(p.SessionName))
	if err != nil {
		logger.Warn("message cache unreadable, starting empty", zap.Error(err))
	} else {
		msgs.Load(persisted)
	}

	raw := store.NewRawCache()
	raw.Rebuild(msgs.Flatten())

	pers := &persistence{}
	pers.chats = store.NewFlusher(
		session.ChatsPath(p.SessionName),
		time.Duration(cfg.Store.ChatFlushDebounceMs)*time.Millisecond,
		dir.Snapshot,
		logger,
	)
	dir.AttachFlusher(pers.chats)
	if cfg.Store.PersistMessages {
		pers.messages = store.NewFlusher(
			session.MessagesPath(p.SessionName),
			time.Duration(cfg.Store.MessageFlushDebounceMs)*time.Millisecond,
			msgs.Snapshot,
			logger,
		)
		msgs.AttachFlusher(pers.messages)
	}

	logger.Info("store loaded",
		zap.Int("chats", dir.Len()),
		zap.Int("messages", msgs.Len()),
		zap.Bool("persist_messages", cfg.Store.PersistMessages))
	return dir, msgs, raw, pers, nil
}

func provideDialer(p Params, logger *zap.Logger) *wa.Dialer {
	return &wa.Dialer{SessionName: p.SessionName, Logger: logger}
}

func provideConnMachine(dialer *wa.Dialer, state *status.Machine, b *bus.Bus, logger *zap.Logger) *conn.Machine {
	return conn.New(dialer, state, b, logger)
}

func provideEngine(msgs *store.MessageStore, dir *store.ChatDirectory, raw *store.RawCache, machine *conn.Machine, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(msgs, dir, raw, machine, b, logger)
}

func provideFacade(p Params, machine *conn.Machine, state *status.Machine, msgs *store.MessageStore, dir *store.ChatDirectory, raw *store.RawCache, logger *zap.Logger) *facade.Facade {
	return facade.New(machine, state, msgs, dir, raw, session.MediaDir(p.SessionName), logger)
}

func provideServer(f *facade.Facade, logger *zap.Logger) *mcp.Server {
	return mcp.NewServer(f, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *mcp.Server, lk *lock.Lock, machine *conn.Machine, engine *ingest.Engine, pers *persistence, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start ingest engine (subscribes to wa.* bus events).
			engine.Start(context.Background())

			// Serve MCP on stdio in the background. When the client
			// closes stdin the daemon shuts down cleanly.
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("mcp server error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()

			go func() {
				if err := machine.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			machine.Shutdown()
			pers.chats.Flush()
			if pers.messages != nil {
				pers.messages.Flush()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
