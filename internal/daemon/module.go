package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/berry/internal/api"
	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/config"
	"github.com/matheus3301/berry/internal/conversation"
	"github.com/matheus3301/berry/internal/dedup"
	"github.com/matheus3301/berry/internal/gateway"
	"github.com/matheus3301/berry/internal/ingest"
	"github.com/matheus3301/berry/internal/lock"
	"github.com/matheus3301/berry/internal/logging"
	"github.com/matheus3301/berry/internal/metrics"
	"github.com/matheus3301/berry/internal/notify"
	"github.com/matheus3301/berry/internal/outbox"
	"github.com/matheus3301/berry/internal/paths"
	"github.com/matheus3301/berry/internal/session"
	"github.com/matheus3301/berry/internal/status"
	"github.com/matheus3301/berry/internal/store"
	"github.com/matheus3301/berry/internal/upload"
	"github.com/matheus3301/berry/internal/xmpp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/health"
)

// Params holds the resolved file locations passed to the fx module.
type Params struct {
	SocketPath string
	LockPath   string
	LogPath    string
	ConfigPath string
	DataDir    string // app-private store directory
	SharedRoot string // user-visible root for shared storage
	Debug      bool
}

// DefaultParams resolves every location under the base directory.
func DefaultParams(debug bool) Params {
	return Params{
		SocketPath: paths.SocketPath(),
		LockPath:   paths.LockPath(),
		LogPath:    paths.LogPath(),
		ConfigPath: paths.ConfigPath(),
		DataDir:    paths.DataDir(),
		SharedRoot: paths.SharedRoot(),
		Debug:      debug,
	}
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			bus.New,
			status.NewMachine,
			provideLock,
			provideConfig,
			provideResolver,
			provideStore,
			provideTransport,
			provideSession,
			provideWindow,
			notify.NewTracker,
			provideNotifications,
			provideMetrics,
			providePipeline,
			provideSender,
			provideIndex,
			provideGateway,
			health.NewServer,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(p.LogPath, level)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("path", p.LockPath))
	l, err := lock.Acquire(p.LockPath)
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideConfig(p Params, logger *zap.Logger) (*config.File, *config.Config, error) {
	f := config.NewFile(p.ConfigPath)
	cfg, err := f.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Info("config loaded", zap.String("path", f.Path()))
	return f, cfg, nil
}

func provideResolver(p Params, cfg *config.Config) store.Resolver {
	return store.Resolver{
		AppDir:        p.DataDir,
		SharedRoot:    p.SharedRoot,
		AlternateRoot: cfg.Storage.AlternateRoot,
	}
}

// provideStore opens the store at the configured location. It takes the
// lock so the file is never opened by a second daemon.
func provideStore(_ *lock.Lock, f *config.File, r store.Resolver, logger *zap.Logger) (*store.DB, error) {
	desc, err := f.LoadStorage()
	if err != nil {
		return nil, err
	}
	dbPath := r.Path(desc)
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
	logger.Info("store initialized", zap.String("path", dbPath), zap.String("location", string(desc.Location)))
	return db, nil
}

func provideTransport(cfg *config.Config, logger *zap.Logger) *xmpp.WSTransport {
	var opts []xmpp.Option
	if cfg.Server.WebSocketURL != "" {
		opts = append(opts, xmpp.WithURL(cfg.Server.WebSocketURL))
	}
	if cfg.Server.Resource != "" {
		opts = append(opts, xmpp.WithResource(cfg.Server.Resource))
	}
	return xmpp.NewWSTransport(logger.Named("xmpp"), opts...)
}

func provideSession(t *xmpp.WSTransport, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.New(t, machine, b, logger.Named("session"))
}

func provideWindow() *dedup.Window {
	return dedup.New()
}

func provideNotifications(cfg *config.Config, logger *zap.Logger) *notify.Switch {
	return notify.NewSwitch(notify.NewLog(logger.Named("notify")), cfg.Notifications.Enabled)
}

func provideMetrics(b *bus.Bus) *metrics.Metrics {
	return metrics.New(b.Dropped)
}

func providePipeline(db *store.DB, w *dedup.Window, b *bus.Bus, sw *notify.Switch, tracker *notify.Tracker, mgr *session.Manager, m *metrics.Metrics, logger *zap.Logger) *ingest.Pipeline {
	return ingest.NewPipeline(db, w, b, sw, tracker, logger.Named("ingest"),
		ingest.WithSelf(mgr.JID),
		ingest.WithObserver(m),
	)
}

func provideSender(mgr *session.Manager, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	var up upload.Uploader
	if cfg.Upload.URL != "" {
		up = upload.NewHTTPUploader(upload.Options{URL: cfg.Upload.URL, MaxBytes: cfg.Upload.MaxBytes})
	}
	return outbox.NewSender(mgr, db, b, up, logger.Named("outbox"))
}

func provideIndex(db *store.DB, b *bus.Bus, logger *zap.Logger) *conversation.Index {
	return conversation.New(db, b, logger)
}

func provideGateway(mgr *session.Manager, cfg *config.Config, logger *zap.Logger) *gateway.Client {
	return gateway.New(mgr.Transport(), mgr.Ready, cfg.Gateway.JID, logger.Named("gateway"))
}

func provideService(
	mgr *session.Manager,
	db *store.DB,
	sender *outbox.Sender,
	index *conversation.Index,
	tracker *notify.Tracker,
	sw *notify.Switch,
	gw *gateway.Client,
	f *config.File,
	r store.Resolver,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Service {
	return api.NewService(api.Deps{
		Session:       mgr,
		Store:         db,
		Sender:        sender,
		Index:         index,
		Tracker:       tracker,
		Notifications: sw,
		Gateway:       gw,
		Config:        f,
		Resolver:      r,
		Bus:           b,
		Logger:        logger.Named("api"),
	})
}

type lifecycleParams struct {
	fx.In

	LC       fx.Lifecycle
	Server   *Server
	Lock     *lock.Lock
	Store    *store.DB
	Session  *session.Manager
	Pipeline *ingest.Pipeline
	Window   *dedup.Window
	Metrics  *metrics.Metrics
	Health   *health.Server
	File     *config.File
	Config   *config.Config
	Switch   *notify.Switch
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	var (
		cancel  context.CancelFunc
		watcher *config.Watcher
		mserver *metrics.Server
		logger  = p.Logger
	)

	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// Ingestion must be running before the first stanza can arrive.
			p.Pipeline.Start(ctx)
			p.Session.OnMessage(p.Pipeline.HandleStanza)

			p.Metrics.Start(ctx, p.Bus)
			if addr := p.Config.Metrics.Listen; addr != "" {
				mserver = metrics.NewServer(addr, p.Metrics, logger)
				if err := mserver.Start(); err != nil {
					cancel()
					return err
				}
			}

			go api.TrackHealth(ctx, p.Bus, p.Health, p.Session.State)

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go applyConfig(ctx, p.Bus, p.Switch, logger)
			w, err := config.Watch(ctx, p.File, p.Bus, logger)
			if err != nil {
				logger.Warn("config watch unavailable", zap.Error(err))
			} else {
				watcher = w
			}

			if p.Config.Account.User != "" && p.Config.Account.Password != "" {
				go autoConnect(ctx, p.Session, p.Config, logger)
			} else {
				logger.Info("no account configured, waiting for connect")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			if err := p.Session.Disconnect(); err != nil {
				logger.Debug("disconnect", zap.Error(err))
			}
			p.Pipeline.Stop()
			p.Window.Close()
			if watcher != nil {
				_ = watcher.Close()
			}
			p.Metrics.Stop()
			if mserver != nil {
				if err := mserver.Stop(ctx); err != nil {
					logger.Warn("metrics server shutdown", zap.Error(err))
				}
			}
			p.Server.Stop(ctx)
			if err := p.Store.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// autoConnect opens the session with the saved account.
func autoConnect(ctx context.Context, mgr *session.Manager, cfg *config.Config, logger *zap.Logger) {
	cctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	srv := cfg.Server
	logger.Info("auto-connecting", zap.String("host", srv.Host), zap.String("user", cfg.Account.User))
	if err := mgr.Connect(cctx, srv.Host, srv.Port, srv.Domain); err != nil {
		logger.Error("auto-connect failed", zap.Error(err))
		return
	}
	if err := mgr.Login(cctx, cfg.Account.User, cfg.Account.Password); err != nil {
		logger.Error("auto-login failed", zap.Error(err))
	}
}

// applyConfig applies hot-reloadable settings from config change events.
// Server and account changes take effect on the next connect.
func applyConfig(ctx context.Context, b *bus.Bus, sw *notify.Switch, logger *zap.Logger) {
	ch, unsub := b.Subscribe(bus.KindConfigChanged, 4)
	defer unsub()
	for {
		select {
		case evt := <-ch:
			cfg, ok := evt.Payload.(*config.Config)
			if !ok {
				continue
			}
			if sw.Enabled() != cfg.Notifications.Enabled {
				sw.SetEnabled(cfg.Notifications.Enabled)
				logger.Info("notifications toggled", zap.Bool("enabled", cfg.Notifications.Enabled))
			}
		case <-ctx.Done():
			return
		}
	}
}
