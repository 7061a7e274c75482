package main

import (
	"log"

	"amigo/config"
	"amigo/controllers"
	"amigo/models"
	"amigo/pkg/logger"
	"amigo/routes"
	"amigo/services"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	db, err := config.InitDB(cfg)
	if err != nil {
		zlog.Fatal("database connect failed", zap.Error(err))
	}
	if err := models.Migrate(db); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}

	registry := services.NewRegistry(zlog)
	calls := services.NewCallTable(zlog)
	store := services.NewConversationStore(db)
	gate := services.NewGate(db)
	relay := services.NewRelay(registry, calls, store, gate, zlog)

	api := controllers.NewAPI(db, store, gate, relay, cfg.JWTSecret, zlog)
	r := routes.RegisterRoutes(api, db, cfg.JWTSecret)

	zlog.Info("realtime service listening", zap.String("addr", cfg.HTTPAddr))
	if err := r.Run(cfg.HTTPAddr); err != nil {
		zlog.Fatal("server failed to start", zap.Error(err))
	}
}
