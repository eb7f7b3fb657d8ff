package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/router"
	"github.com/3Eeeecho/go-filevault/internal/setup"
	"github.com/3Eeeecho/go-filevault/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	engine        *gin.Engine
	httpServer    *http.Server
	db            *gorm.DB
	redisClient   *redis.Client
	cleanupWorker *worker.CleanupWorker
}

// NewServer 负责构建所有依赖
func NewServer(cfg *config.Config) (*Server, error) {
	// 初始化数据库连接
	db, err := setup.InitMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MySQL: %w", err)
	}

	// 初始化 Redis 连接
	redisClient, err := setup.InitRedis(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// 初始化对象存储
	storageService, err := setup.InitStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 初始化服务与路由
	routerCfg := router.NewRouterConfig(db, redisClient, storageService, cfg)
	svcs := router.BuildServices(routerCfg)
	engine := router.InitRouter(routerCfg, svcs)

	// 过期分享清扫 Worker
	cleanupWorker := worker.NewCleanupWorker(svcs.ShareService, cfg.Share.CleanupInterval)

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	return &Server{
		engine:        engine,
		httpServer:    httpServer,
		db:            db,
		redisClient:   redisClient,
		cleanupWorker: cleanupWorker,
	}, nil
}

// Run 启动服务器和 Worker，并处理优雅关机
func (s *Server) Run(stopChan chan os.Signal) {
	defer setup.CloseRedis(s.redisClient)
	defer setup.CloseMySQLDB(s.db)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	s.cleanupWorker.Start(workerCtx)

	// 启动 HTTP 服务器
	go func() {
		logger.Info(fmt.Sprintf("Server is running on %s", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待停止信号
	<-stopChan
	logger.Info("Shutting down server...")
	cancelWorker()

	// 优雅关机
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited gracefully")
}
