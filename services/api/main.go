package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/networkserver/internal/auth"
	"github.com/networkserver/internal/config"
	"github.com/networkserver/internal/handler"
	"github.com/networkserver/internal/logger"
	"github.com/networkserver/internal/push"
	"github.com/networkserver/internal/repository"
	"github.com/networkserver/internal/startup"
	"github.com/networkserver/internal/storage"
	"github.com/networkserver/internal/storage/memory"
	"github.com/networkserver/internal/ws"
	"github.com/networkserver/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	if err := run(*dev, *migrateOnly); err != nil {
		logger.Errorf("api: %v", err)
		// Асинхронный логгер: даём воркеру дописать последнее сообщение.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
}

func run(dev, migrateOnly bool) error {
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Infof("starting API service on %s", cfg.ServerAddr)

	if dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if migrateOnly && !dev {
		logger.Info("migrations applied, exiting")
		return nil
	}

	store := repository.NewStore(pool)
	cache, err := openPresenceCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()
	resetPresence(ctx, store, cache)

	pushClient := push.NewClient(cfg.PushServiceURL)
	hub := ws.NewHub(store, store, storage.NewPresenceStore(store.Users, cache), pushClient, hubConfig(cfg))
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()
	defer func() {
		hubCancel()
		hubWg.Wait()
		logger.Info("hub stopped")
	}()

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: newRouter(routerDeps{
			cfg:      cfg,
			store:    store,
			cache:    cache,
			hub:      hub,
			auth:     auth.NewJWTAuthenticator(cfg.JWTSecret, store),
			pushKeys: pushKeys(cfg, pushClient),
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return serve(ctx, srv)
}

// serve слушает до сигнала; при остановке новые соединения не принимаются,
// а хаб закрывается уже после сервера (defer в run).
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	<-errCh
	logger.Info("server stopped accepting connections")
	return nil
}

func openDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second, "")
	if err != nil {
		return nil, err
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repository.Migrate(migrateCtx, pool, migrations.Files); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return pool, nil
}

// openPresenceCache выбирает Redis, если задан redis_url, иначе кэш в памяти процесса.
func openPresenceCache(ctx context.Context, cfg *config.Config) (storage.PresenceCache, error) {
	if cfg.RedisURL == "" {
		logger.Info("redis_url not set, presence cache in memory")
		return memory.New(), nil
	}
	return startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second, "")
}

// resetPresence сбрасывает флаги онлайн прошлого запуска: соединений ещё нет.
func resetPresence(ctx context.Context, store *repository.Store, cache storage.PresenceCache) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Users.ResetOnline(ctx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	if err := cache.Reset(ctx); err != nil {
		logger.Errorf("reset presence cache: %v", err)
	}
}

// pushKeys: ключи нужны, только если настроен сервис пушей. Nil-интерфейс, а не
// (*push.KeyFile)(nil), чтобы ConfigHandler видел выключенные пуши.
func pushKeys(cfg *config.Config, pushClient *push.Client) handler.PublicKeySource {
	if !pushClient.Enabled() {
		return nil
	}
	keys := push.NewKeyFile(cfg.VAPIDKeysFile)
	// Файл создаётся при старте, а не на первом запросе клиента.
	if _, err := keys.Keys(); err != nil {
		logger.Errorf("vapid keys: %v", err)
	}
	return keys
}

func hubConfig(cfg *config.Config) ws.Config {
	return ws.Config{
		MaxConnections: cfg.WS.MaxConnections,
		SendBuffer:     cfg.WS.SendBufferSize,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		PongWait:       cfg.WS.PongTimeout,
		WriteWait:      cfg.WS.WriteTimeout,
		TypingTTL:      cfg.WS.TypingTTL,
		OpTimeout:      cfg.WS.HubOpTimeout,
	}
}

// startEmbeddedPostgres поднимает локальный Postgres для -dev и переключает DATABASE_URL на него.
func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port = 5432
		name = "network"
		pass = "network_secret"
	)
	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	pgCfg := embeddedpostgres.DefaultConfig().
		Port(port).
		Username(name).
		Password(pass).
		Database(name).
		DataPath(dataDir).
		RuntimePath(filepath.Join(os.TempDir(), "networkserver-pg-runtime"))
	db := embeddedpostgres.NewDatabase(pgCfg)
	if err := db.Start(); err != nil {
		return nil, err
	}
	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", name, pass, port, name)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
