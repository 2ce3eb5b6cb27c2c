package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ai-gateway/internal/accesslog"
	"ai-gateway/internal/config"
	"ai-gateway/internal/didauth"
	"ai-gateway/internal/logger"
	"ai-gateway/internal/pricing"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	flag.Parse()

	printBanner()

	if err := logger.Init(false); err != nil {
		log.Printf("Failed to init logger, using silent: %v", err)
		logger.InitSilent()
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Debug {
		if err := logger.Init(true); err != nil {
			log.Fatalf("Failed to init debug logger: %v", err)
		}
	}

	if err := os.MkdirAll("./data", 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize access-log database: %v", err)
	}
	if err := accesslog.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate access-log schema: %v", err)
	}

	pricingRegistry, err := pricing.NewRegistry(cfg.Pricing.Version, cfg.Pricing.OverridesJSON, cfg.Pricing.Multiplier)
	if err != nil {
		log.Fatalf("Failed to build pricing registry: %v", err)
	}

	providerRegistry, regErrs := providers.Build(cfg.LLMBackend, rawProviderConfigs(cfg))
	for _, e := range regErrs {
		logger.Logger.Warn("provider registration skipped", zap.Error(e))
	}

	router := server.New(cfg, providerRegistry, pricingRegistry, didauth.NoopVerifier{}, db)

	serverPort := cfg.Server.Port
	if *port > 0 {
		serverPort = *port
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, serverPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Logger.Info("gateway starting", zap.String("addr", addr), zap.String("version", version))
		if cfg.Server.HTTPS.Enabled && cfg.Server.HTTPS.CertFile != "" && cfg.Server.HTTPS.KeyFile != "" {
			log.Fatal(httpServer.ListenAndServeTLS(cfg.Server.HTTPS.CertFile, cfg.Server.HTTPS.KeyFile))
		} else {
			log.Fatal(httpServer.ListenAndServe())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown:", err)
	}
	logger.Logger.Info("server exited")
}

func rawProviderConfigs(cfg *config.Config) map[string]providers.RawProviderConfig {
	out := make(map[string]providers.RawProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		out[name] = providers.RawProviderConfig{
			APIKey:         pc.APIKey,
			BaseURL:        pc.BaseURL,
			DefaultModel:   pc.DefaultModel,
			TimeoutSeconds: pc.TimeoutSeconds,
		}
	}
	return out
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func printBanner() {
	fmt.Println("ai-gateway " + version + " (" + commit + ")")
}
