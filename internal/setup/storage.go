package setup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
)

// InitStorage 按配置初始化对象存储服务并确保存储桶存在
func InitStorage(cfg *config.Config) (storage.StorageService, error) {
	svc, err := storage.NewStorageService(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化存储服务失败: %w", err)
	}

	bucketName := cfg.MinIO.BucketName
	if cfg.Storage.Type == "aliyun_oss" {
		bucketName = cfg.Aliyun.BucketName
	}

	// 为外部调用使用带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := svc.IsBucketExist(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶存在性失败: %w", err)
	}
	if !exists {
		logger.Info("存储桶不存在，尝试创建...", zap.String("bucketName", bucketName))
		if err := svc.MakeBucket(ctx, bucketName); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("存储桶创建成功", zap.String("bucketName", bucketName))
	}

	logger.Info("存储服务初始化完成", zap.String("type", cfg.Storage.Type))
	return svc, nil
}
