package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"gorm.io/gorm"
)

// FileVersionRepository 定义版本历史的数据访问层接口
type FileVersionRepository interface {
	// Create 插入一条版本记录
	// 同一文件的版本号撞上唯一索引时返回 gorm.ErrDuplicatedKey，调用方负责重试
	Create(ctx context.Context, version *models.FileVersion) error
	FindByID(ctx context.Context, id uint64) (*models.FileVersion, error)
	FindByFileID(ctx context.Context, fileID uint64, limit, offset int) ([]models.FileVersion, int64, error)
	// FindAllByFileID 返回文件的全部版本，按版本号降序
	FindAllByFileID(ctx context.Context, fileID uint64) ([]models.FileVersion, error)
	// FindLatestVersion 返回版本号最大的一条，没有任何版本时返回 (nil, nil)
	FindLatestVersion(ctx context.Context, fileID uint64) (*models.FileVersion, error)
	CountByFileID(ctx context.Context, fileID uint64) (int64, error)
	Delete(ctx context.Context, id uint64) error
	// DeleteByIDs 批量删除，返回实际删除的行数
	DeleteByIDs(ctx context.Context, ids []uint64) (int64, error)
}

type fileVersionRepository struct {
	db *gorm.DB
}

// NewFileVersionRepository 创建新的 FileVersionRepository 实例
// 传入事务句柄时，所有操作都会落在该事务上
func NewFileVersionRepository(db *gorm.DB) FileVersionRepository {
	return &fileVersionRepository{db: db}
}

func (r *fileVersionRepository) Create(ctx context.Context, version *models.FileVersion) error {
	return r.db.WithContext(ctx).Create(version).Error
}

func (r *fileVersionRepository) FindByID(ctx context.Context, id uint64) (*models.FileVersion, error) {
	var version models.FileVersion
	err := r.db.WithContext(ctx).First(&version, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询文件版本失败: %w", err)
	}
	return &version, nil
}

func (r *fileVersionRepository) FindByFileID(ctx context.Context, fileID uint64, limit, offset int) ([]models.FileVersion, int64, error) {
	var versions []models.FileVersion
	var total int64

	query := r.db.WithContext(ctx).Model(&models.FileVersion{}).Where("file_id = ?", fileID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计版本总数失败: %w", err)
	}

	err := query.Order("version_number desc").Limit(limit).Offset(offset).Find(&versions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询版本列表失败: %w", err)
	}
	return versions, total, nil
}

func (r *fileVersionRepository) FindAllByFileID(ctx context.Context, fileID uint64) ([]models.FileVersion, error) {
	var versions []models.FileVersion
	err := r.db.WithContext(ctx).Where("file_id = ?", fileID).Order("version_number desc").Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("查询版本列表失败: %w", err)
	}
	return versions, nil
}

func (r *fileVersionRepository) FindLatestVersion(ctx context.Context, fileID uint64) (*models.FileVersion, error) {
	var version models.FileVersion
	err := r.db.WithContext(ctx).Where("file_id = ?", fileID).Order("version_number desc").First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询最新版本失败: %w", err)
	}
	return &version, nil
}

func (r *fileVersionRepository) CountByFileID(ctx context.Context, fileID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FileVersion{}).Where("file_id = ?", fileID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计版本总数失败: %w", err)
	}
	return count, nil
}

func (r *fileVersionRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&models.FileVersion{}, id).Error
}

func (r *fileVersionRepository) DeleteByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Delete(&models.FileVersion{}, ids)
	if result.Error != nil {
		return 0, fmt.Errorf("批量删除版本失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
