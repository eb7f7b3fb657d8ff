package router

import (
	"net/http"

	_ "github.com/3Eeeecho/go-filevault/docs"
	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/handlers"
	"github.com/3Eeeecho/go-filevault/internal/middlewares"
	"github.com/3Eeeecho/go-filevault/internal/pkg/cache"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/files"
	"github.com/3Eeeecho/go-filevault/internal/services/share"
	"github.com/3Eeeecho/go-filevault/internal/services/version"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// RouterConfig 包含初始化路由所需的所有依赖
type RouterConfig struct {
	db             *gorm.DB
	redisClient    *redis.Client
	storageService storage.StorageService
	cfg            *config.Config
}

func NewRouterConfig(db *gorm.DB, redisClient *redis.Client, storageService storage.StorageService, cfg *config.Config) *RouterConfig {
	return &RouterConfig{
		db:             db,
		redisClient:    redisClient,
		storageService: storageService,
		cfg:            cfg,
	}
}

// Services 把路由需要的服务集中构造一次
type Services struct {
	FileService    files.FileService
	ShareService   share.ShareService
	VersionService version.VersionService
}

// BuildServices 构造整套服务依赖
// 分享 repository 外面包了一层令牌读缓存，见 cachedShareRepository
func BuildServices(routerCfg *RouterConfig) *Services {
	txManager := repositories.NewTransactionManager(routerCfg.db)
	fileRepo := repositories.NewFileRepository(routerCfg.db)
	versionRepo := repositories.NewFileVersionRepository(routerCfg.db)

	redisCache := cache.NewRedisCache(routerCfg.redisClient)
	shareRepo := repositories.NewCachedShareRepository(
		repositories.NewDBShareRepository(routerCfg.db),
		redisCache,
		routerCfg.cfg.Share.TokenCacheTTL,
	)

	return &Services{
		FileService:    files.NewFileService(fileRepo, versionRepo, txManager, routerCfg.storageService, routerCfg.cfg),
		ShareService:   share.NewShareService(shareRepo, fileRepo),
		VersionService: version.NewVersionService(versionRepo, fileRepo, txManager),
	}
}

func InitRouter(routerCfg *RouterConfig, svcs *Services) *gin.Engine {
	router := gin.Default() // 包含 Logger 和 Recovery 中间件

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	fileHandler := handlers.NewFileHandler(svcs.FileService, routerCfg.cfg)
	shareHandler := handlers.NewShareHandler(svcs.ShareService, svcs.FileService, routerCfg.cfg)
	versionHandler := handlers.NewVersionHandler(svcs.VersionService, routerCfg.cfg)

	// 分享访问入口（无需认证，令牌即凭证）
	public := router.Group("/share")
	{
		public.GET("/:token/details", shareHandler.GetShareDetails)
		public.POST("/:token/verify", shareHandler.VerifySharePassword)
		public.GET("/:token/download", shareHandler.DownloadSharedFile)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middlewares.AuthMiddleware(routerCfg.cfg))
	{
		fileGroup := v1.Group("/files")
		{
			fileGroup.POST("", fileHandler.UploadFile)
			fileGroup.GET("", fileHandler.ListFiles)
			fileGroup.GET("/:file_id", fileHandler.GetFile)
			fileGroup.PUT("/:file_id/content", fileHandler.UpdateFileContent)
			fileGroup.GET("/:file_id/download", fileHandler.DownloadFile)

			fileGroup.GET("/:file_id/shares", shareHandler.ListFileShares)

			fileGroup.POST("/:file_id/versions", versionHandler.CreateVersion)
			fileGroup.GET("/:file_id/versions", versionHandler.ListVersions)
			fileGroup.POST("/:file_id/versions/restore", versionHandler.RestoreVersion)
			fileGroup.POST("/:file_id/versions/cleanup", versionHandler.CleanupVersions)
			fileGroup.DELETE("/:file_id/versions/:version_id", versionHandler.DeleteVersion)
		}

		shareGroup := v1.Group("/shares")
		{
			shareGroup.POST("", shareHandler.CreateShare)
			shareGroup.GET("/my", shareHandler.ListUserShares)
			shareGroup.PATCH("/:share_id", shareHandler.UpdateShare)
			shareGroup.POST("/:share_id/revoke", shareHandler.RevokeShare)
			shareGroup.DELETE("/:share_id", shareHandler.DeleteShare)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		xerr.Error(c, http.StatusNotFound, xerr.NotFoundCode, "路由不存在")
	})

	return router
}
