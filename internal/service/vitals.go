package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"wisefido-vitals/common/database"
	mqttcommon "wisefido-vitals/common/mqtt"
	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/auth"
	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	"wisefido-vitals/internal/httpapi"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/webhook"
	"wisefido-vitals/internal/websocket"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VitalsService 生命体征服务：MQTT 摄取 + 存储 + WebSocket 实时推送
type VitalsService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	consumer   *consumer.MQTTConsumer
	forwarder  *webhook.AlertForwarder
	hub        *websocket.Hub
	gateway    *websocket.Gateway
	server     *httpapi.Server

	serveErr chan error
	stopOnce sync.Once
}

// NewVitalsService 创建生命体征服务
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	// 初始化数据库
	db, err := database.Open(context.Background(), &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient, err := rediscommon.Connect(context.Background(), &cfg.Redis)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT（连接由 consumer 负责）
	mqttClient := mqttcommon.NewClient(&cfg.MQTT, logger)

	// 创建Repository
	vitalsRepo := repository.NewVitalsRepository(db, logger)
	deviceRepo := repository.NewDeviceRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	assignmentRepo := repository.NewAssignmentRepository(db, logger)
	cacheManager := cache.NewCacheManager(cfg, redisClient, logger)

	// 实时推送
	hub := websocket.NewHub(logger)
	notifier := NewHubNotifier(hub, logger)

	// 报警 webhook（可选）
	var forwarder *webhook.AlertForwarder
	if cfg.Webhook.URL != "" {
		forwarder = webhook.NewAlertForwarder(webhook.Config{
			URL:        cfg.Webhook.URL,
			Timeout:    cfg.Webhook.Timeout,
			RetryCount: cfg.Webhook.RetryCount,
			QueueSize:  cfg.Webhook.QueueSize,
		}, logger)
		notifier.AddAlertSink(forwarder)
	}

	// 创建Consumer
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, consumer.Stores{
		Vitals:  vitalsRepo,
		Devices: deviceRepo,
		Alerts:  alertRepo,
		Cache:   cacheManager,
	}, notifier, logger)

	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	gateway := websocket.NewGateway(cfg, hub, verifier, assignmentRepo, alertRepo, logger)

	handlers := httpapi.NewHandlers(mqttConsumer, hub, notifier, cacheManager, cfg.Ingestion.StoreTimeout, logger)
	server := httpapi.NewServer(cfg, gateway, handlers, logger)

	return &VitalsService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
		consumer:   mqttConsumer,
		forwarder:  forwarder,
		hub:        hub,
		gateway:    gateway,
		server:     server,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start 启动服务（非阻塞）
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals service components")

	// webhook 协程只由 Stop 结束，保证队列能发完
	if s.forwarder != nil {
		s.forwarder.Start(context.WithoutCancel(ctx))
	}

	// 启动MQTT消费者
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	// 启动HTTP/WebSocket
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			s.serveErr <- err
		}
	}()

	s.logger.Info("Vitals service started successfully",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Strings("topics", s.consumer.Topics()),
	)
	return nil
}

// Wait 阻塞到 ctx 结束或 HTTP 服务异常退出
//
// 摄取客户端进入 stopped 只记录错误：网关和已建立的连接继续服务，
// /healthz 返回 503，由外部进程管理器决定是否重启。
func (s *VitalsService) Wait(ctx context.Context) error {
	ingestionDone := s.consumer.Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.serveErr:
			return err
		case <-ingestionDone:
			if s.consumer.State() == consumer.StateStopped {
				s.logger.Error("MQTT ingestion stopped, live gateway keeps serving",
					zap.Int("attempts", s.consumer.Attempts()),
				)
			}
			ingestionDone = nil
		}
	}
}

// Stop 停止服务
func (s *VitalsService) Stop(ctx context.Context) error {
	var errs []error
	s.stopOnce.Do(func() {
		errs = s.stop(ctx)
	})
	return errors.Join(errs...)
}

func (s *VitalsService) stop(ctx context.Context) []error {
	s.logger.Info("Stopping vitals service")
	var errs []error

	// 停止接收新连接
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
		errs = append(errs, err)
	}

	// 关闭所有 WebSocket 连接（1001）并等待收发协程退出
	s.hub.Stop()
	if err := s.gateway.Wait(ctx); err != nil {
		s.logger.Warn("Timed out waiting for WebSocket connections", zap.Error(err))
		errs = append(errs, err)
	}

	// 停止Consumer
	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping consumer", zap.Error(err))
		errs = append(errs, err)
	}

	// 断开MQTT
	s.mqttClient.Disconnect()

	// 发完队列中的报警 webhook
	if s.forwarder != nil {
		if err := s.forwarder.Stop(ctx); err != nil {
			s.logger.Warn("Error stopping alert webhook", zap.Error(err))
			errs = append(errs, err)
		}
	}

	// 关闭Redis
	if err := rediscommon.Close(s.redis); err != nil {
		errs = append(errs, err)
	}

	// 关闭数据库
	if err := database.Close(s.db); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("Vitals service stopped")
	return errs
}
