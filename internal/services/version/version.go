package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本号撞上唯一索引后的重试次数
const maxVersionAttempts = 3

// RestoreResult 是 RestoreVersion 的结果
// BackupVersion 是恢复前的当前内容快照，恢复操作从不丢数据
type RestoreResult struct {
	RestoredVersion *models.FileVersion
	BackupVersion   *models.FileVersion
}

// VersionService 定义了文件版本管理服务需要实现的接口
type VersionService interface {
	// CreateVersion 把文件的当前内容快照为一个新版本
	CreateVersion(ctx context.Context, fileID, createdBy uint64) (*models.FileVersion, error)
	// ListVersions 按版本号降序列出文件的版本历史
	ListVersions(ctx context.Context, fileID uint64, page, pageSize int) ([]models.FileVersion, int64, error)
	// RestoreVersion 把指定历史版本恢复为当前内容，恢复前自动备份当前内容
	RestoreVersion(ctx context.Context, versionID, fileID, userID uint64) (*RestoreResult, error)
	// DeleteVersion 删除一条历史版本，拒绝删除当前版本和最后一个版本
	DeleteVersion(ctx context.Context, versionID, fileID, userID uint64) error
	// CleanupOldVersions 按保留数量清理旧版本，返回删除条数
	CleanupOldVersions(ctx context.Context, fileID, userID uint64, keepCount int) (int64, error)
}

// versionService 是 VersionService 接口的具体实现
type versionService struct {
	versionRepo repositories.FileVersionRepository
	fileRepo    repositories.FileRepository
	txManager   repositories.TransactionManager
}

// NewVersionService 创建一个新的 VersionService 实例
func NewVersionService(
	versionRepo repositories.FileVersionRepository,
	fileRepo repositories.FileRepository,
	txManager repositories.TransactionManager,
) VersionService {
	return &versionService{
		versionRepo: versionRepo,
		fileRepo:    fileRepo,
		txManager:   txManager,
	}
}

// checkOwnership 确认文件存在并属于当前用户
// 越权访问统一回答"文件不存在"，不泄露他人文件的存在性
func (s *versionService) checkOwnership(ctx context.Context, fileID, userID uint64) (*models.File, error) {
	file, err := s.fileRepo.FindByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UserID != userID {
		return nil, xerr.ErrFileNotFound
	}
	return file, nil
}

// snapshotFile 在事务内把文件的当前内容写成一条新版本记录
// 版本号取当前最大值加一，靠 (file_id, version_number) 唯一索引兜底并发
func snapshotFile(ctx context.Context, tx *gorm.DB, file *models.File, createdBy uint64) (*models.FileVersion, error) {
	versionRepo := repositories.NewFileVersionRepository(tx)

	latest, err := versionRepo.FindLatestVersion(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	nextNumber := uint(1)
	if latest != nil {
		nextNumber = latest.VersionNumber + 1
	}

	snapshot := &models.FileVersion{
		FileID:        file.ID,
		VersionNumber: nextNumber,
		StoragePath:   file.StoragePath,
		FileSize:      file.Size,
		MimeType:      file.MimeType,
		Checksum:      file.Checksum,
		CreatedBy:     createdBy,
	}
	if err := versionRepo.Create(ctx, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CreateVersion 处理创建版本快照的业务逻辑
// 两个请求同时给同一文件建版本时，输掉的那个会撞上唯一索引，整体重试
func (s *versionService) CreateVersion(ctx context.Context, fileID, createdBy uint64) (*models.FileVersion, error) {
	file, err := s.checkOwnership(ctx, fileID, createdBy)
	if err != nil {
		return nil, err
	}

	var created *models.FileVersion
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
			snapshot, snapErr := snapshotFile(ctx, tx, file, createdBy)
			if snapErr != nil {
				return snapErr
			}
			created = snapshot
			return nil
		})
		if err == nil {
			logger.Info("CreateVersion: 版本创建成功",
				zap.Uint64("fileID", fileID),
				zap.Uint("versionNumber", created.VersionNumber))
			return created, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Error("CreateVersion: 创建版本失败", zap.Uint64("fileID", fileID), zap.Error(err))
			return nil, fmt.Errorf("创建版本失败: %w", err)
		}
		logger.Warn("CreateVersion: 版本号冲突，重试", zap.Uint64("fileID", fileID), zap.Int("attempt", attempt+1))
	}

	return nil, fmt.Errorf("版本号重试耗尽: %w", xerr.ErrConflict)
}

// ListVersions 获取文件的版本历史列表（分页）
func (s *versionService) ListVersions(ctx context.Context, fileID uint64, page, pageSize int) ([]models.FileVersion, int64, error) {
	offset := (page - 1) * pageSize
	versions, total, err := s.versionRepo.FindByFileID(ctx, fileID, pageSize, offset)
	if err != nil {
		logger.Error("ListVersions: 查询版本列表失败", zap.Uint64("fileID", fileID), zap.Error(err))
		return nil, 0, fmt.Errorf("查询版本列表失败: %w", err)
	}
	return versions, total, nil
}

// RestoreVersion 处理恢复历史版本的业务逻辑
// 备份与恢复必须在同一个事务里：要么两步都生效，要么都不生效
func (s *versionService) RestoreVersion(ctx context.Context, versionID, fileID, userID uint64) (*RestoreResult, error) {
	if _, err := s.checkOwnership(ctx, fileID, userID); err != nil {
		return nil, err
	}

	var result *RestoreResult
	var err error
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
			versionRepo := repositories.NewFileVersionRepository(tx)
			fileRepo := repositories.NewFileRepository(tx)

			// 先锁文件行，恢复、删除、清理之间由这把锁串行化
			if txErr := fileRepo.Lock(ctx, fileID); txErr != nil {
				return txErr
			}

			target, txErr := versionRepo.FindByID(ctx, versionID)
			if txErr != nil {
				return txErr
			}
			if target == nil || target.FileID != fileID {
				// 版本属于别的文件时同样回答"版本不存在"
				return xerr.ErrVersionNotFound
			}

			// 事务内重读文件行，拿到此刻真实的当前内容
			file, txErr := fileRepo.FindByID(ctx, fileID)
			if txErr != nil {
				return txErr
			}

			// 1. 先把恢复前的当前内容快照成备份版本
			backup, txErr := snapshotFile(ctx, tx, file, userID)
			if txErr != nil {
				return txErr
			}

			// 2. 再把目标版本的内容写回文件行
			file.StoragePath = target.StoragePath
			file.Size = target.FileSize
			file.MimeType = target.MimeType
			file.Checksum = target.Checksum
			if txErr := fileRepo.Update(ctx, file); txErr != nil {
				return txErr
			}

			result = &RestoreResult{RestoredVersion: target, BackupVersion: backup}
			return nil
		})
		if err == nil {
			logger.Info("RestoreVersion: 版本恢复成功",
				zap.Uint64("fileID", fileID),
				zap.Uint64("versionID", versionID),
				zap.Uint("backupVersionNumber", result.BackupVersion.VersionNumber))
			return result, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			if errors.Is(err, xerr.ErrVersionNotFound) || errors.Is(err, xerr.ErrFileNotFound) {
				return nil, err
			}
			logger.Error("RestoreVersion: 恢复版本失败", zap.Uint64("versionID", versionID), zap.Error(err))
			return nil, fmt.Errorf("恢复版本失败: %w", err)
		}
		logger.Warn("RestoreVersion: 版本号冲突，重试", zap.Uint64("fileID", fileID), zap.Int("attempt", attempt+1))
	}

	return nil, fmt.Errorf("版本号重试耗尽: %w", xerr.ErrConflict)
}

// DeleteVersion 删除一条历史版本
// 两类版本受保护：正被文件行引用的当前版本，以及仅剩的最后一个版本
// 检查和删除在同一个事务里并持有文件行锁，
// 并发删除同一文件的版本时不会双双通过"最后一个版本"的检查
func (s *versionService) DeleteVersion(ctx context.Context, versionID, fileID, userID uint64) error {
	if _, err := s.checkOwnership(ctx, fileID, userID); err != nil {
		return err
	}

	err := s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		versionRepo := repositories.NewFileVersionRepository(tx)
		fileRepo := repositories.NewFileRepository(tx)

		if txErr := fileRepo.Lock(ctx, fileID); txErr != nil {
			return txErr
		}
		// 锁内重读，拿到此刻真实的当前内容
		file, txErr := fileRepo.FindByID(ctx, fileID)
		if txErr != nil {
			return txErr
		}

		target, txErr := versionRepo.FindByID(ctx, versionID)
		if txErr != nil {
			return txErr
		}
		if target == nil || target.FileID != fileID {
			return xerr.ErrVersionNotFound
		}

		if target.StoragePath == file.StoragePath {
			return fmt.Errorf("该版本正是文件的当前内容: %w", xerr.ErrVersionProtected)
		}

		count, txErr := versionRepo.CountByFileID(ctx, fileID)
		if txErr != nil {
			return txErr
		}
		if count <= 1 {
			return fmt.Errorf("不能删除最后一个版本: %w", xerr.ErrVersionProtected)
		}

		return versionRepo.Delete(ctx, versionID)
	})
	if err != nil {
		if errors.Is(err, xerr.ErrVersionNotFound) || errors.Is(err, xerr.ErrVersionProtected) || errors.Is(err, xerr.ErrFileNotFound) {
			return err
		}
		logger.Error("DeleteVersion: 删除版本失败", zap.Uint64("versionID", versionID), zap.Error(err))
		return fmt.Errorf("删除版本失败: %w", err)
	}

	logger.Info("DeleteVersion: 版本删除成功",
		zap.Uint64("fileID", fileID),
		zap.Uint64("versionID", versionID))
	return nil
}

// CleanupOldVersions 按保留数量清理旧版本
// 保留版本号最大的 keepCount 条；当前版本即使落在窗口之外也永远保留
// 挑选和删除在同一个事务里并持有文件行锁，
// 清理期间别的请求恢复了版本也不会误删刚成为当前内容的那条
func (s *versionService) CleanupOldVersions(ctx context.Context, fileID, userID uint64, keepCount int) (int64, error) {
	if keepCount < 1 {
		return 0, fmt.Errorf("保留数量必须为正数: %w", xerr.ErrKeepCountInvalid)
	}

	if _, err := s.checkOwnership(ctx, fileID, userID); err != nil {
		return 0, err
	}

	var deleted int64
	err := s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		versionRepo := repositories.NewFileVersionRepository(tx)
		fileRepo := repositories.NewFileRepository(tx)

		if txErr := fileRepo.Lock(ctx, fileID); txErr != nil {
			return txErr
		}
		// 锁内重读，拿到此刻真实的当前内容
		file, txErr := fileRepo.FindByID(ctx, fileID)
		if txErr != nil {
			return txErr
		}

		versions, txErr := versionRepo.FindAllByFileID(ctx, fileID)
		if txErr != nil {
			return txErr
		}
		if len(versions) <= keepCount {
			return nil
		}

		// versions 已按版本号降序排列，窗口之外的才是候选
		var toDelete []uint64
		for _, v := range versions[keepCount:] {
			if v.StoragePath == file.StoragePath {
				continue
			}
			toDelete = append(toDelete, v.ID)
		}
		if len(toDelete) == 0 {
			return nil
		}

		deleted, txErr = versionRepo.DeleteByIDs(ctx, toDelete)
		return txErr
	})
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			return 0, err
		}
		logger.Error("CleanupOldVersions: 清理旧版本失败", zap.Uint64("fileID", fileID), zap.Error(err))
		return 0, fmt.Errorf("清理旧版本失败: %w", err)
	}

	logger.Info("CleanupOldVersions: 旧版本清理完成",
		zap.Uint64("fileID", fileID),
		zap.Int("keepCount", keepCount),
		zap.Int64("deleted", deleted))
	return deleted, nil
}
