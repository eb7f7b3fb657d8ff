package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxVersionAttempts = 3

// FileService 定义了文件服务需要实现的接口
// 文件行是"当前内容"的指针，每一次内容落库都会同步留下一条版本记录
type FileService interface {
	// Upload 上传新文件，登记文件记录并创建版本 1
	Upload(ctx context.Context, userID uint64, fileName string, reader io.Reader, size int64, contentType string) (*models.File, error)
	// UpdateContent 用新内容覆盖文件，新内容同时落为一条新版本
	UpdateContent(ctx context.Context, fileID, userID uint64, reader io.Reader, size int64, contentType string) (*models.File, error)
	// GetFile 获取文件信息，仅限所有者
	GetFile(ctx context.Context, fileID, userID uint64) (*models.File, error)
	// GetSharedFile 通过分享访问文件信息，不校验所有者
	GetSharedFile(ctx context.Context, fileID uint64) (*models.File, error)
	// ListFiles 列出用户的文件（分页）
	ListFiles(ctx context.Context, userID uint64, page, pageSize int) ([]models.File, int64, error)
	// Download 打开文件内容的读取流，调用方负责关闭
	Download(ctx context.Context, file *models.File) (storage.GetObjectResult, error)
	// PresignDownloadURL 生成限时的预签名下载地址
	PresignDownloadURL(ctx context.Context, file *models.File) (string, error)
}

type fileService struct {
	fileRepo    repositories.FileRepository
	versionRepo repositories.FileVersionRepository
	txManager   repositories.TransactionManager
	storage     storage.StorageService
	cfg         *config.Config
}

// NewFileService 创建一个新的 FileService 实例
func NewFileService(
	fileRepo repositories.FileRepository,
	versionRepo repositories.FileVersionRepository,
	txManager repositories.TransactionManager,
	storageSvc storage.StorageService,
	cfg *config.Config,
) FileService {
	return &fileService{
		fileRepo:    fileRepo,
		versionRepo: versionRepo,
		txManager:   txManager,
		storage:     storageSvc,
		cfg:         cfg,
	}
}

// bucketName 按存储后端取桶名
func (s *fileService) bucketName() string {
	if s.cfg.Storage.Type == "aliyun_oss" {
		return s.cfg.Aliyun.BucketName
	}
	return s.cfg.MinIO.BucketName
}

// Upload 处理文件上传的业务逻辑
// 对象先落存储再落库，库写失败时孤儿对象由后续清理处理，不会出现有行无对象
func (s *fileService) Upload(ctx context.Context, userID uint64, fileName string, reader io.Reader, size int64, contentType string) (*models.File, error) {
	if fileName == "" || size <= 0 {
		return nil, fmt.Errorf("文件名和大小不能为空: %w", xerr.ErrValidationFailed)
	}

	fileUUID := uuid.New().String()
	objectKey := fmt.Sprintf("files/%d/%s", userID, fileUUID)

	putResult, err := s.storage.PutObject(ctx, s.bucketName(), objectKey, reader, size, contentType)
	if err != nil {
		logger.Error("Upload: 上传对象到存储失败", zap.String("objectKey", objectKey), zap.Error(err))
		return nil, fmt.Errorf("上传文件失败: %w", xerr.ErrStorageError)
	}

	file := &models.File{
		UUID:        fileUUID,
		UserID:      userID,
		FileName:    fileName,
		StoragePath: objectKey,
		Size:        uint64(size),
		Status:      models.StatusNormal,
	}
	if contentType != "" {
		file.MimeType = &contentType
	}
	if putResult.ETag != "" {
		etag := putResult.ETag
		file.Checksum = &etag
	}

	// 文件行和版本 1 在同一个事务里登记
	err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		fileRepo := repositories.NewFileRepository(tx)
		versionRepo := repositories.NewFileVersionRepository(tx)

		if txErr := fileRepo.Create(ctx, file); txErr != nil {
			return txErr
		}
		return versionRepo.Create(ctx, &models.FileVersion{
			FileID:        file.ID,
			VersionNumber: 1,
			StoragePath:   file.StoragePath,
			FileSize:      file.Size,
			MimeType:      file.MimeType,
			Checksum:      file.Checksum,
			CreatedBy:     userID,
		})
	})
	if err != nil {
		logger.Error("Upload: 登记文件记录失败", zap.String("fileName", fileName), zap.Error(err))
		return nil, fmt.Errorf("登记文件失败: %w", err)
	}

	logger.Info("Upload: 文件上传成功",
		zap.Uint64("fileID", file.ID),
		zap.Uint64("userID", userID),
		zap.String("fileName", fileName))
	return file, nil
}

// UpdateContent 用新内容覆盖文件
// 新内容写成一个新对象（旧版本仍指向旧对象），再在事务里更新文件行并落一条新版本
func (s *fileService) UpdateContent(ctx context.Context, fileID, userID uint64, reader io.Reader, size int64, contentType string) (*models.File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("文件大小不能为空: %w", xerr.ErrValidationFailed)
	}

	file, err := s.GetFile(ctx, fileID, userID)
	if err != nil {
		return nil, err
	}

	objectKey := fmt.Sprintf("files/%d/%s-%d", userID, file.UUID, time.Now().UnixNano())
	putResult, err := s.storage.PutObject(ctx, s.bucketName(), objectKey, reader, size, contentType)
	if err != nil {
		logger.Error("UpdateContent: 上传对象到存储失败", zap.String("objectKey", objectKey), zap.Error(err))
		return nil, fmt.Errorf("上传文件失败: %w", xerr.ErrStorageError)
	}

	file.StoragePath = objectKey
	file.Size = uint64(size)
	if contentType != "" {
		file.MimeType = &contentType
	} else {
		file.MimeType = nil
	}
	if putResult.ETag != "" {
		etag := putResult.ETag
		file.Checksum = &etag
	} else {
		file.Checksum = nil
	}

	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
			fileRepo := repositories.NewFileRepository(tx)
			versionRepo := repositories.NewFileVersionRepository(tx)

			latest, txErr := versionRepo.FindLatestVersion(ctx, fileID)
			if txErr != nil {
				return txErr
			}
			nextNumber := uint(1)
			if latest != nil {
				nextNumber = latest.VersionNumber + 1
			}

			if txErr := versionRepo.Create(ctx, &models.FileVersion{
				FileID:        fileID,
				VersionNumber: nextNumber,
				StoragePath:   file.StoragePath,
				FileSize:      file.Size,
				MimeType:      file.MimeType,
				Checksum:      file.Checksum,
				CreatedBy:     userID,
			}); txErr != nil {
				return txErr
			}
			return fileRepo.Update(ctx, file)
		})
		if err == nil {
			logger.Info("UpdateContent: 文件内容更新成功", zap.Uint64("fileID", fileID))
			return file, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Error("UpdateContent: 更新文件记录失败", zap.Uint64("fileID", fileID), zap.Error(err))
			return nil, fmt.Errorf("更新文件失败: %w", err)
		}
		logger.Warn("UpdateContent: 版本号冲突，重试", zap.Uint64("fileID", fileID), zap.Int("attempt", attempt+1))
	}

	return nil, fmt.Errorf("版本号重试耗尽: %w", xerr.ErrConflict)
}

// GetFile 获取文件信息，越权访问统一回答"文件不存在"
func (s *fileService) GetFile(ctx context.Context, fileID, userID uint64) (*models.File, error) {
	file, err := s.fileRepo.FindByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UserID != userID || file.Status != models.StatusNormal {
		return nil, xerr.ErrFileNotFound
	}
	return file, nil
}

// GetSharedFile 通过分享令牌解析出的 fileID 获取文件信息
// 分享校验已在 ShareManager 完成，这里只确认文件本身仍可用
func (s *fileService) GetSharedFile(ctx context.Context, fileID uint64) (*models.File, error) {
	file, err := s.fileRepo.FindByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.Status != models.StatusNormal {
		return nil, xerr.ErrFileNotFound
	}
	return file, nil
}

// ListFiles 列出用户的文件（分页）
func (s *fileService) ListFiles(ctx context.Context, userID uint64, page, pageSize int) ([]models.File, int64, error) {
	offset := (page - 1) * pageSize
	files, total, err := s.fileRepo.FindAllByUserID(ctx, userID, pageSize, offset)
	if err != nil {
		logger.Error("ListFiles: 查询文件列表失败", zap.Uint64("userID", userID), zap.Error(err))
		return nil, 0, fmt.Errorf("查询文件列表失败: %w", err)
	}
	return files, total, nil
}

// Download 打开文件内容的读取流
func (s *fileService) Download(ctx context.Context, file *models.File) (storage.GetObjectResult, error) {
	result, err := s.storage.GetObject(ctx, s.bucketName(), file.StoragePath)
	if err != nil {
		logger.Error("Download: 读取对象失败", zap.String("storagePath", file.StoragePath), zap.Error(err))
		return storage.GetObjectResult{}, fmt.Errorf("下载文件失败: %w", xerr.ErrStorageError)
	}
	return result, nil
}

// PresignDownloadURL 生成限时的预签名下载地址
func (s *fileService) PresignDownloadURL(ctx context.Context, file *models.File) (string, error) {
	expiry := time.Duration(s.cfg.Storage.PresignedURLExpiry) * time.Minute
	url, err := s.storage.PreSignGetObjectURL(ctx, s.bucketName(), file.StoragePath, expiry)
	if err != nil {
		logger.Error("PresignDownloadURL: 生成预签名地址失败", zap.String("storagePath", file.StoragePath), zap.Error(err))
		return "", fmt.Errorf("生成下载地址失败: %w", xerr.ErrStorageError)
	}
	return url, nil
}
