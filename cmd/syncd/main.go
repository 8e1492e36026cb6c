package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillsync/internal/cache"
	"fulfillsync/internal/config"
	"fulfillsync/internal/erp"
	"fulfillsync/internal/handler"
	"fulfillsync/internal/marketplace"
	"fulfillsync/internal/middleware"
	"fulfillsync/internal/repository"
	"fulfillsync/internal/resolver"
	"fulfillsync/internal/router"
	"fulfillsync/internal/service"

	_ "github.com/go-sql-driver/mysql"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting fulfillsync daemon...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize order repository based on config
	var orderRepo repository.OrderRepository
	switch cfg.Database.Type {
	case "mysql":
		mysqlDB, err := sql.Open("mysql", cfg.Database.MySQLDSN())
		if err != nil {
			log.Fatalf("Failed to open MySQL: %v", err)
		}
		mysqlDB.SetMaxOpenConns(10)
		mysqlDB.SetMaxIdleConns(5)
		mysqlDB.SetConnMaxLifetime(5 * time.Minute)
		if err := mysqlDB.Ping(); err != nil {
			log.Fatalf("Failed to ping MySQL: %v", err)
		}
		repo, err := repository.NewMySQLOrderRepository(mysqlDB)
		if err != nil {
			log.Fatalf("Failed to initialize MySQL repository: %v", err)
		}
		orderRepo = repo
		log.Println("MySQL order repository initialized")
	case "postgres", "postgresql":
		repo, err := repository.NewPostgresOrderRepository(cfg.Database.PostgresDSN())
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL repository: %v", err)
		}
		orderRepo = repo
		log.Println("PostgreSQL order repository initialized")
	default: // sqlite
		repo, err := repository.NewSQLiteOrderRepository(cfg.Database.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite repository: %v", err)
		}
		orderRepo = repo
		log.Println("SQLite order repository initialized")
	}
	defer orderRepo.Close()

	// Initialize resolver cache
	var resolverCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		redisCache, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Printf("Warning: Redis cache unavailable, falling back to memory: %v", err)
			resolverCache = cache.NewLRUCache(cfg.Cache.MaxSize)
		} else {
			defer redisCache.Close()
			resolverCache = redisCache
			log.Println("Redis resolver cache initialized")
		}
	default:
		resolverCache = cache.NewLRUCache(cfg.Cache.MaxSize)
	}

	// Initialize external clients
	feed := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL:     cfg.Marketplace.BaseURL,
		AccessToken: cfg.Marketplace.AccessToken,
		SellerID:    cfg.Marketplace.SellerID,
		Timeout:     cfg.Marketplace.Timeout,
	})

	stockClient := erp.NewStockClient(erp.StockClientConfig{
		BaseURL:    cfg.ERP.BaseURL,
		APIKey:     cfg.ERP.APIKey,
		Tenant:     cfg.ERP.Tenant,
		Database:   cfg.ERP.Database,
		Timeout:    cfg.ERP.StockTimeout,
		Retries:    cfg.ERP.StockRetries,
		RetryDelay: cfg.ERP.StockRetryDelay,
	})

	movementClient := erp.NewMovementClient(erp.MovementClientConfig{
		BaseURL:  cfg.ERP.BaseURL,
		APIKey:   cfg.ERP.APIKey,
		Tenant:   cfg.ERP.Tenant,
		Database: cfg.ERP.Database,
	})

	// Initialize resolver with its override table
	overrides, err := resolver.LoadOverrides(cfg.Resolver.OverridesPath)
	if err != nil {
		log.Fatalf("Failed to load SKU overrides: %v", err)
	}
	log.Printf("Loaded %d SKU overrides", len(overrides))

	res := resolver.New(feed, resolverCache, resolver.Config{
		Overrides:         overrides,
		PlaceholderSuffix: cfg.Resolver.PlaceholderSuffix,
	})

	// Initialize services
	assigner := service.NewAssignmentService(orderRepo, res, stockClient, cfg.Assignment.DepositList())
	mover := service.NewMovementService(orderRepo, movementClient, cfg.ERP.MovementDestination)

	syncService := service.NewSyncService(feed, orderRepo, assigner, mover, service.SyncConfig{
		Interval:    cfg.Sync.Interval,
		MaxInterval: cfg.Sync.MaxInterval,
		Lookback:    cfg.Sync.Lookback,
	})
	syncService.Start()

	// Initialize handlers
	healthHandler := handler.New(orderRepo, cfg.App.Version)
	orderHandler := handler.NewOrderHandler(orderRepo, syncService)

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys: cfg.Server.APIKeyList(),
	})

	// Create router
	r := router.New(router.Config{
		Handler:        healthHandler,
		OrderHandler:   orderHandler,
		AuthMiddleware: authMiddleware,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Ops server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Let the in-flight sync cycle finish first
	syncService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Stopped")
}
