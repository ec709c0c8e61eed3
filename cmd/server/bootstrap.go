package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/inspectsync/internal/api"
	"github.com/charlesng35/inspectsync/internal/app"
	"github.com/charlesng35/inspectsync/internal/app/maintenance"
	"github.com/charlesng35/inspectsync/internal/cache"
	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/database"
	"github.com/charlesng35/inspectsync/internal/monitoring"
	"github.com/charlesng35/inspectsync/internal/monitoring/checks"
	"github.com/charlesng35/inspectsync/internal/readpath"
	"github.com/charlesng35/inspectsync/internal/realtime"
	"github.com/charlesng35/inspectsync/internal/remote"
	"github.com/charlesng35/inspectsync/internal/services"
	"github.com/charlesng35/inspectsync/internal/store"
	"github.com/charlesng35/inspectsync/internal/syncer"
)

const userAgent = "inspectsync-agent"

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *cache.RedisStore
	Store   *store.LocalStore
	Monitor *connectivity.Monitor
	Prober  *connectivity.Prober
	Remote  *remote.HTTPClient
	Syncer  *syncer.Synchronizer
	Reader  *readpath.Reader
	Hub     *realtime.Hub
	Cleaner *maintenance.Cleaner
	Health  *monitoring.HealthManager
	Router  *gin.Engine

	stopSync context.CancelFunc
	hubFeed  *connectivity.Subscription
}

// bootstrapRuntime opens storage, starts the background loops and builds the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB = initialiseDatabase(cfg, log)

	var storeOpts []store.Option
	if cfg.Cache.Redis.Enabled {
		stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig(), cache.WithPrefix(cfg.Cache.Redis.Prefix))
		if err != nil {
			log.Warn("redis unavailable; aggregate cache stays local", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			storeOpts = append(storeOpts, store.WithEntryStore(stack.Redis))
		}
	}

	stack.Store = store.New(stack.DB, storeOpts...)
	if err := stack.Store.Open(ctx); err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	stack.Monitor = connectivity.NewMonitor(cfg.Connectivity.InitialOnline)

	stack.Remote, err = remote.NewHTTPClient(remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		Timeout:   cfg.Remote.Timeout,
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise remote client: %w", err)
	}

	stack.Prober, err = connectivity.NewProber(stack.Monitor, connectivity.ProberConfig{
		URL:      cfg.Connectivity.ProbeTarget(cfg.Remote),
		Interval: cfg.Connectivity.ProbeInterval,
		Timeout:  cfg.Connectivity.ProbeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise connectivity prober: %w", err)
	}

	stack.Hub = realtime.NewHub()
	stack.hubFeed = realtime.PublishConnectivity(stack.Hub, stack.Monitor)

	stack.Syncer = syncer.New(stack.Store, stack.Remote, stack.Monitor,
		syncer.WithMaxAttempts(cfg.Sync.MaxAttempts),
		syncer.WithTokenSource(stack.Remote.Token),
		syncer.WithDrainHook(realtime.SyncHook(stack.Hub)),
	)

	stack.Reader = readpath.New(stack.Remote, stack.Store, stack.Monitor)

	statusSvc, err := services.NewStatusService(stack.Remote, stack.Store, stack.Monitor)
	if err != nil {
		return nil, fmt.Errorf("initialise status service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Store,
			maintenance.WithMaxAge(cfg.Maintenance.MaxAge),
			maintenance.WithPurgeSchedule(cfg.Maintenance.Schedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Health = buildHealth(cfg, stack)

	stack.Router, err = api.NewRouter(api.Services{
		Health:  stack.Health,
		Reader:  stack.Reader,
		Status:  statusSvc,
		Queue:   stack.Store,
		Drainer: stack.Syncer,
		Monitor: stack.Monitor,
		Hub:     stack.Hub,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	// Background loops start last so a failed bootstrap leaves nothing running.
	stack.Prober.Start(ctx)
	stack.stopSync = stack.Syncer.StartPeriodic(ctx, cfg.Sync.Interval)

	success = true
	return stack, nil
}

func buildHealth(cfg *app.Config, stack *runtimeStack) *monitoring.HealthManager {
	health := monitoring.NewHealthManager(5 * time.Second)
	health.Register(checks.Database(stack.DB, 0))
	health.Register(checks.Store(stack.Store))
	health.Register(checks.Connectivity(stack.Monitor))

	var pinger checks.RedisPinger
	if stack.Redis != nil {
		pinger = stack.Redis
	}
	health.Register(checks.Redis(pinger, cfg.Cache.Redis.Enabled, 0))

	if stack.Cleaner != nil {
		health.Register(checks.Maintenance(stack.Cleaner, 2*time.Hour))
	}
	return health
}

// Shutdown stops background loops and releases resources in reverse start order.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.stopSync != nil {
		s.stopSync()
	}
	if s.Prober != nil {
		s.Prober.Stop()
	}
	if s.hubFeed != nil {
		s.hubFeed.Unsubscribe()
	}
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Reader != nil {
		s.Reader.Wait()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Warn("local store shutdown", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

// initialiseDatabase opens and migrates the configured database. A failure is
// logged and the agent continues on the in-memory store.
func initialiseDatabase(cfg *app.Config, log *zap.Logger) *gorm.DB {
	dbCfg := cfg.Database.DatabaseClientConfig()
	db, err := database.Prepare(dbCfg)
	if err != nil {
		log.Error("database unavailable; running in memory for this session", zap.Error(err))
		return nil
	}

	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))
	return db
}
