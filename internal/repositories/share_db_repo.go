package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"gorm.io/gorm"
)

type dbShareRepository struct {
	db *gorm.DB
}

// NewDBShareRepository 创建直接访问数据库的 ShareRepository 实例
func NewDBShareRepository(db *gorm.DB) ShareRepository {
	return &dbShareRepository{db: db}
}

func (r *dbShareRepository) Create(ctx context.Context, share *models.FileShare) error {
	return r.db.WithContext(ctx).Create(share).Error
}

func (r *dbShareRepository) FindByToken(ctx context.Context, token string) (*models.FileShare, error) {
	var share models.FileShare
	err := r.db.WithContext(ctx).Where("share_token = ?", token).First(&share).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询分享链接失败: %w", err)
	}
	return &share, nil
}

func (r *dbShareRepository) FindByID(ctx context.Context, shareID uint64) (*models.FileShare, error) {
	var share models.FileShare
	err := r.db.WithContext(ctx).First(&share, shareID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询分享链接失败: %w", err)
	}
	return &share, nil
}

func (r *dbShareRepository) FindAllByFileID(ctx context.Context, fileID uint64, limit, offset int) ([]models.FileShare, int64, error) {
	var shares []models.FileShare
	var total int64

	query := r.db.WithContext(ctx).Model(&models.FileShare{}).Where("file_id = ?", fileID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计分享总数失败: %w", err)
	}

	err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&shares).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询分享列表失败: %w", err)
	}
	return shares, total, nil
}

func (r *dbShareRepository) FindAllByUserID(ctx context.Context, userID uint64, includeInactive bool, limit, offset int) ([]models.FileShare, int64, error) {
	var shares []models.FileShare
	var total int64

	query := r.db.WithContext(ctx).Model(&models.FileShare{}).Where("created_by = ?", userID)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计分享总数失败: %w", err)
	}

	err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&shares).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询分享列表失败: %w", err)
	}
	return shares, total, nil
}

func (r *dbShareRepository) UpdateFields(ctx context.Context, shareID, ownerID uint64, fields map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FileShare{}).
		Where("id = ? AND created_by = ?", shareID, ownerID).
		Updates(fields)
	if result.Error != nil {
		return 0, fmt.Errorf("更新分享链接失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *dbShareRepository) Revoke(ctx context.Context, shareID, ownerID uint64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FileShare{}).
		Where("id = ? AND created_by = ?", shareID, ownerID).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("撤销分享链接失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *dbShareRepository) Delete(ctx context.Context, shareID, ownerID uint64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND created_by = ?", shareID, ownerID).
		Delete(&models.FileShare{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除分享链接失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecordDownload 的限流检查必须在 UPDATE 谓词内完成
// 应用层先读后写会在并发下超卖配额，见 ShareManager 的说明
func (r *dbShareRepository) RecordDownload(ctx context.Context, token string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FileShare{}).
		Where("share_token = ? AND is_active = ?", token, true).
		Where("max_downloads IS NULL OR download_count < max_downloads").
		Updates(map[string]any{
			"download_count":   gorm.Expr("download_count + 1"),
			"last_accessed_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("记录下载次数失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *dbShareRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FileShare{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期分享失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
