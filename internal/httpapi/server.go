package httpapi

import (
	"context"
	"net/http"
	"time"

	"wisefido-vitals/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server HTTP 入口：/ws、健康检查、内部通知接口
type Server struct {
	config     *config.Config
	router     chi.Router
	handlers   *Handlers
	ws         http.Handler
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建 HTTP 服务
func NewServer(cfg *config.Config, ws http.Handler, handlers *Handlers, logger *zap.Logger) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: handlers,
		ws:       ws,
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	origins := s.config.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handlers.Health)
	s.router.Method(http.MethodGet, "/ws", s.ws)

	s.router.Route("/internal/v1", func(r chi.Router) {
		r.Post("/patients/{id}/status", s.handlers.PatientStatus)
		r.Post("/doctors/{id}/assignments", s.handlers.AssignmentUpdated)
	})
}

// Router 路由（测试用）
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting wisefido-vitals HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-vitals HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger 访问日志；/ws 是长连接，只记录升级请求
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
