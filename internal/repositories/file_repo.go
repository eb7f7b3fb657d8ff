package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FileRepository 定义文件"当前状态"记录的数据访问层接口
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error
	FindByID(ctx context.Context, id uint64) (*models.File, error)
	FindByUUID(ctx context.Context, uuid string) (*models.File, error)
	FindAllByUserID(ctx context.Context, userID uint64, limit, offset int) ([]models.File, int64, error)
	Update(ctx context.Context, file *models.File) error
	// Lock 在当前事务内占住文件行的写锁，直到事务提交或回滚
	// 同一文件的版本变更都先取这把锁，检查-删除序列因此是串行的
	Lock(ctx context.Context, id uint64) error
}

type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例
// 传入事务句柄时，所有操作都会落在该事务上
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *models.File) error {
	err := r.db.WithContext(ctx).Create(file).Error
	if err != nil {
		logger.Error("Create: Failed to create file in DB", zap.Error(err), zap.Uint64("userID", file.UserID), zap.String("fileName", file.FileName))
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

func (r *fileRepository) FindByID(ctx context.Context, id uint64) (*models.File, error) {
	var file models.File
	err := r.db.WithContext(ctx).First(&file, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		return nil, fmt.Errorf("查询文件记录失败: %w", err)
	}
	return &file, nil
}

func (r *fileRepository) FindByUUID(ctx context.Context, uuid string) (*models.File, error) {
	var file models.File
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		return nil, fmt.Errorf("查询文件记录失败: %w", err)
	}
	return &file, nil
}

func (r *fileRepository) FindAllByUserID(ctx context.Context, userID uint64, limit, offset int) ([]models.File, int64, error) {
	var files []models.File
	var total int64

	query := r.db.WithContext(ctx).Model(&models.File{}).Where("user_id = ? AND status = ?", userID, models.StatusNormal)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计文件总数失败: %w", err)
	}

	err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&files).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询文件列表失败: %w", err)
	}
	return files, total, nil
}

func (r *fileRepository) Update(ctx context.Context, file *models.File) error {
	return r.db.WithContext(ctx).Save(file).Error
}

// Lock 用一次触碰更新取行级写锁，而不是 SELECT ... FOR UPDATE，
// 这样在不支持该语法的方言（如测试用的 SQLite）上也成立
func (r *fileRepository) Lock(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ?", id).
		Update("updated_at", time.Now())
	if result.Error != nil {
		return fmt.Errorf("锁定文件行失败: %w", result.Error)
	}
	return nil
}
