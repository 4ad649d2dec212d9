package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-vitals/common/database"
	"wisefido-vitals/common/logger"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "wisefido-vitals"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Vital-sign ingestion and real-time alert service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MQTT ingestion and the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables this service writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化Logger
	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return nil, nil, err
	}
	return cfg, zl, nil
}

func runServer() error {
	cfg, zl, err := loadConfig()
	if err != nil {
		return err
	}
	defer zl.Sync()

	if err := cfg.Validate(); err != nil {
		zl.Error("Invalid configuration", zap.Error(err))
		return err
	}

	zl.Info("Starting wisefido-vitals service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	// 创建服务
	vitalsService, err := service.NewVitalsService(cfg, zl)
	if err != nil {
		zl.Error("Failed to create vitals service", zap.Error(err))
		return err
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vitalsService.Start(ctx); err != nil {
		zl.Error("Failed to start vitals service", zap.Error(err))
		return err
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	// 摄取终止不会让 Wait 返回
	runErr := vitalsService.Wait(ctx)

	// 优雅关闭
	timeout := cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	cancel()
	if err := vitalsService.Stop(shutdownCtx); err != nil {
		zl.Error("Error during shutdown", zap.Error(err))
	}

	zl.Info("Service stopped")
	return runErr
}

func runMigrate() error {
	cfg, zl, err := loadConfig()
	if err != nil {
		return err
	}
	defer zl.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		zl.Error("Failed to connect to database", zap.Error(err))
		return err
	}
	defer database.Close(db)

	if err := repository.ApplySchema(ctx, db, zl); err != nil {
		zl.Error("Migration failed", zap.Error(err))
		return err
	}
	return nil
}
