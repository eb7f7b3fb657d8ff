package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/cache"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"go.uber.org/zap"
)

// cachedShareRepository 在 db repository 外面包一层令牌读缓存
// 公网的分享解析全部走 FindByToken，是整个服务最热的读路径
// 配额判断本来就是建议性的（权威判断在 RecordDownload 的 UPDATE 谓词里），
// 所以短 TTL 的缓存不破坏正确性；任何写操作都会让对应令牌失效
type cachedShareRepository struct {
	next     ShareRepository // 链上的下一层（db repository）
	cache    *cache.RedisCache
	cacheTTL time.Duration
}

// NewCachedShareRepository 创建带令牌读缓存的 ShareRepository 实例
func NewCachedShareRepository(next ShareRepository, redisCache *cache.RedisCache, cacheTTL time.Duration) ShareRepository {
	return &cachedShareRepository{
		next:     next,
		cache:    redisCache,
		cacheTTL: cacheTTL,
	}
}

func (r *cachedShareRepository) Create(ctx context.Context, share *models.FileShare) error {
	// 新令牌不可能有缓存条目，直接透传
	return r.next.Create(ctx, share)
}

func (r *cachedShareRepository) FindByToken(ctx context.Context, token string) (*models.FileShare, error) {
	key := cache.GenerateShareTokenKey(token)

	var cached models.FileShare
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// 缓存故障时降级到数据库，不影响请求
		logger.Error("FindByToken: Error getting share from cache", zap.String("token", token), zap.Error(err))
	}

	share, err := r.next.FindByToken(ctx, token)
	if err != nil || share == nil {
		return share, err
	}

	if setErr := r.cache.Set(ctx, key, share, r.cacheTTL); setErr != nil {
		logger.Error("FindByToken: Failed to cache share", zap.String("token", token), zap.Error(setErr))
	}
	return share, nil
}

func (r *cachedShareRepository) FindByID(ctx context.Context, shareID uint64) (*models.FileShare, error) {
	return r.next.FindByID(ctx, shareID)
}

func (r *cachedShareRepository) FindAllByFileID(ctx context.Context, fileID uint64, limit, offset int) ([]models.FileShare, int64, error) {
	return r.next.FindAllByFileID(ctx, fileID, limit, offset)
}

func (r *cachedShareRepository) FindAllByUserID(ctx context.Context, userID uint64, includeInactive bool, limit, offset int) ([]models.FileShare, int64, error) {
	return r.next.FindAllByUserID(ctx, userID, includeInactive, limit, offset)
}

func (r *cachedShareRepository) UpdateFields(ctx context.Context, shareID, ownerID uint64, fields map[string]any) (int64, error) {
	rows, err := r.next.UpdateFields(ctx, shareID, ownerID, fields)
	if err == nil && rows > 0 {
		r.invalidateByID(ctx, shareID)
	}
	return rows, err
}

func (r *cachedShareRepository) Revoke(ctx context.Context, shareID, ownerID uint64) (int64, error) {
	// 撤销必须立刻可见，写库成功后失效令牌条目
	rows, err := r.next.Revoke(ctx, shareID, ownerID)
	if err == nil && rows > 0 {
		r.invalidateByID(ctx, shareID)
	}
	return rows, err
}

func (r *cachedShareRepository) Delete(ctx context.Context, shareID, ownerID uint64) (int64, error) {
	// 删除后行已不在，必须先拿到令牌再执行删除
	token := ""
	if share, err := r.next.FindByID(ctx, shareID); err == nil && share != nil {
		token = share.ShareToken
	}
	rows, err := r.next.Delete(ctx, shareID, ownerID)
	if err == nil && rows > 0 && token != "" {
		if delErr := r.cache.Del(ctx, cache.GenerateShareTokenKey(token)); delErr != nil {
			logger.Error("Delete: Failed to invalidate share cache", zap.Uint64("shareID", shareID), zap.Error(delErr))
		}
	}
	return rows, err
}

func (r *cachedShareRepository) RecordDownload(ctx context.Context, token string, now time.Time) (int64, error) {
	rows, err := r.next.RecordDownload(ctx, token, now)
	if err == nil {
		// 计数变了，令牌条目作废
		if delErr := r.cache.Del(ctx, cache.GenerateShareTokenKey(token)); delErr != nil {
			logger.Error("RecordDownload: Failed to invalidate share cache", zap.String("token", token), zap.Error(delErr))
		}
	}
	return rows, err
}

func (r *cachedShareRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	// 批量清扫不知道具体哪些令牌被翻转，依赖 TTL 自然过期
	return r.next.DeactivateExpired(ctx, now)
}

func (r *cachedShareRepository) invalidateByID(ctx context.Context, shareID uint64) {
	share, err := r.next.FindByID(ctx, shareID)
	if err != nil || share == nil {
		return
	}
	if delErr := r.cache.Del(ctx, cache.GenerateShareTokenKey(share.ShareToken)); delErr != nil {
		logger.Error("invalidateByID: Failed to invalidate share cache", zap.Uint64("shareID", shareID), zap.Error(delErr))
	}
}
