package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 令牌撞库后的重新生成次数，理论上几乎不会用到第二次
const maxTokenAttempts = 3

// CreateShareOptions 创建分享时的可选约束
type CreateShareOptions struct {
	ExpiresAt    *time.Time
	MaxDownloads *uint32
	Password     *string
}

// UpdateShareParams 部分更新，Clear* 用于把可空字段显式置空
type UpdateShareParams struct {
	ExpiresAt         *time.Time
	ClearExpiresAt    bool
	MaxDownloads      *uint32
	ClearMaxDownloads bool
	IsActive          *bool
}

// ShareAccess 是 ValidateShare 的结果
// Valid 为 false 时 RequiresPassword 指示调用方应引导用户输入密码
type ShareAccess struct {
	Valid            bool
	RequiresPassword bool
	FileID           uint64
	Share            *models.FileShare
}

// ShareService 定义了文件分享服务需要实现的接口
type ShareService interface {
	// CreateShare 创建一个新的分享链接
	CreateShare(ctx context.Context, fileID, createdBy uint64, opts CreateShareOptions) (*models.FileShare, error)
	// ValidateShare 校验令牌并返回可访问的文件，从不产生任何写入
	ValidateShare(ctx context.Context, token string, password *string) (*ShareAccess, error)
	// RecordDownload 在一次成功的下载之后记账，配额用尽返回 ErrShareLimitReached
	RecordDownload(ctx context.Context, token string) error
	// ListSharesForFile 列出指定文件的分享链接
	ListSharesForFile(ctx context.Context, fileID uint64, page, pageSize int) ([]models.FileShare, int64, error)
	// ListSharesByUser 列出指定用户创建的分享链接
	ListSharesByUser(ctx context.Context, userID uint64, includeInactive bool, page, pageSize int) ([]models.FileShare, int64, error)
	// RevokeShare 撤销分享链接，非所有者或不存在时返回 false 而不是错误
	RevokeShare(ctx context.Context, shareID, userID uint64) (bool, error)
	// UpdateShare 部分更新，空补丁或未匹配到行时返回 (nil, nil)
	UpdateShare(ctx context.Context, shareID, userID uint64, params UpdateShareParams) (*models.FileShare, error)
	// DeleteShare 硬删除分享链接，仅限所有者
	DeleteShare(ctx context.Context, shareID, userID uint64) (bool, error)
	// CleanupExpiredShares 把所有已过期的分享置为不激活，返回处理条数
	CleanupExpiredShares(ctx context.Context) (int64, error)
}

// shareService 是 ShareService 接口的具体实现
type shareService struct {
	shareRepo repositories.ShareRepository
	fileRepo  repositories.FileRepository
}

// NewShareService 创建一个新的 ShareService 实例
func NewShareService(shareRepo repositories.ShareRepository, fileRepo repositories.FileRepository) ShareService {
	return &shareService{
		shareRepo: shareRepo,
		fileRepo:  fileRepo,
	}
}

// CreateShare 处理创建分享链接的业务逻辑
func (s *shareService) CreateShare(ctx context.Context, fileID, createdBy uint64, opts CreateShareOptions) (*models.FileShare, error) {
	// 1. 验证文件是否存在，并且是否属于当前用户
	file, err := s.fileRepo.FindByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UserID != createdBy {
		return nil, xerr.ErrPermissionDenied
	}
	if file.Status != models.StatusNormal {
		return nil, fmt.Errorf("文件状态异常，不能分享: %w", xerr.ErrValidationFailed)
	}

	// 2. 校验可选约束
	if opts.MaxDownloads != nil && *opts.MaxDownloads == 0 {
		return nil, fmt.Errorf("最大下载次数必须为正数: %w", xerr.ErrValidationFailed)
	}
	if opts.ExpiresAt != nil && opts.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("过期时间不能早于当前时间: %w", xerr.ErrValidationFailed)
	}

	newShare := &models.FileShare{
		FileID:       fileID,
		CreatedBy:    createdBy,
		ExpiresAt:    opts.ExpiresAt,
		MaxDownloads: opts.MaxDownloads,
		IsActive:     true,
	}

	// 3. 如果设置了密码，对密码进行哈希处理，明文从不落库也不写日志
	if opts.Password != nil && *opts.Password != "" {
		hashed, err := utils.HashPassword(*opts.Password)
		if err != nil {
			return nil, fmt.Errorf("密码处理失败: %w", err)
		}
		newShare.PasswordHash = &hashed
	}

	// 4. 生成令牌并插入，撞上唯一索引就重新生成
	// 256 位随机量撞库概率是天文数字量级，但依然交给约束兜底而不是假设不可能
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := utils.GenerateShareToken()
		if err != nil {
			return nil, fmt.Errorf("生成分享令牌失败: %w", err)
		}
		newShare.ShareToken = token

		err = s.shareRepo.Create(ctx, newShare)
		if err == nil {
			logger.Info("CreateShare: 分享链接创建成功",
				zap.Uint64("shareID", newShare.ID),
				zap.Uint64("fileID", fileID))
			return newShare, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Error("CreateShare: 创建分享链接记录失败", zap.Error(err))
			return nil, fmt.Errorf("创建分享链接失败: %w", err)
		}
		logger.Warn("CreateShare: 分享令牌冲突，重新生成", zap.Int("attempt", attempt+1))
	}

	return nil, fmt.Errorf("分享令牌重试耗尽: %w", xerr.ErrConflict)
}

// ValidateShare 按固定顺序做校验，保证错误信息是确定的：
// 存在性 -> 激活状态 -> 过期时间 -> 下载配额 -> 密码
// 这里的配额判断只是建议性的，权威判断在 RecordDownload 的条件更新里
func (s *shareService) ValidateShare(ctx context.Context, token string, password *string) (*ShareAccess, error) {
	share, err := s.shareRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("查询分享链接失败: %w", err)
	}
	if share == nil {
		return &ShareAccess{}, xerr.ErrShareNotFound
	}

	if !share.IsActive {
		return &ShareAccess{Share: share}, xerr.ErrShareRevoked
	}

	if share.ExpiresAt != nil && time.Now().After(*share.ExpiresAt) {
		// 过期状态的落库翻转交给周期清扫，这里保持只读
		return &ShareAccess{Share: share}, xerr.ErrShareExpired
	}

	if share.MaxDownloads != nil && share.DownloadCount >= *share.MaxDownloads {
		return &ShareAccess{Share: share}, xerr.ErrShareLimitReached
	}

	if share.HasPassword() {
		if password == nil || *password == "" {
			return &ShareAccess{Share: share, RequiresPassword: true}, xerr.ErrSharePasswordRequired
		}
		// bcrypt 在各自请求的 goroutine 上执行，不会串行化其他校验
		if !utils.CheckPasswordHash(*password, *share.PasswordHash) {
			return &ShareAccess{Share: share, RequiresPassword: true}, xerr.ErrSharePasswordInvalid
		}
	}

	return &ShareAccess{Valid: true, FileID: share.FileID, Share: share}, nil
}

// RecordDownload 在字节流成功送达之后调用，失败的下载不计数
func (s *shareService) RecordDownload(ctx context.Context, token string) error {
	rows, err := s.shareRepo.RecordDownload(ctx, token, time.Now())
	if err != nil {
		logger.Error("RecordDownload: 更新下载计数失败", zap.Error(err))
		return fmt.Errorf("记录下载失败: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// 0 行说明条件更新没通过，查一次区分是哪种失败
	share, err := s.shareRepo.FindByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("查询分享链接失败: %w", err)
	}
	if share == nil {
		return xerr.ErrShareNotFound
	}
	if !share.IsActive {
		return xerr.ErrShareRevoked
	}
	// 并发下载争抢最后一次配额，输掉的请求走到这里
	return xerr.ErrShareLimitReached
}

// ListSharesForFile 获取指定文件的分享链接列表（分页）
func (s *shareService) ListSharesForFile(ctx context.Context, fileID uint64, page, pageSize int) ([]models.FileShare, int64, error) {
	offset := (page - 1) * pageSize
	shares, total, err := s.shareRepo.FindAllByFileID(ctx, fileID, pageSize, offset)
	if err != nil {
		logger.Error("ListSharesForFile: 查询分享列表失败", zap.Uint64("fileID", fileID), zap.Error(err))
		return nil, 0, fmt.Errorf("查询分享列表失败: %w", err)
	}
	return shares, total, nil
}

// ListSharesByUser 获取指定用户创建的所有分享链接列表（分页）
func (s *shareService) ListSharesByUser(ctx context.Context, userID uint64, includeInactive bool, page, pageSize int) ([]models.FileShare, int64, error) {
	offset := (page - 1) * pageSize
	shares, total, err := s.shareRepo.FindAllByUserID(ctx, userID, includeInactive, pageSize, offset)
	if err != nil {
		logger.Error("ListSharesByUser: 查询用户分享列表失败", zap.Uint64("userID", userID), zap.Error(err))
		return nil, 0, fmt.Errorf("查询分享列表失败: %w", err)
	}
	return shares, total, nil
}

// RevokeShare 撤销一个分享链接
// 非所有者和不存在统一表现为 false，不向调用方泄露行是否存在
func (s *shareService) RevokeShare(ctx context.Context, shareID, userID uint64) (bool, error) {
	rows, err := s.shareRepo.Revoke(ctx, shareID, userID)
	if err != nil {
		logger.Error("RevokeShare: 撤销分享链接失败", zap.Uint64("shareID", shareID), zap.Error(err))
		return false, fmt.Errorf("撤销分享链接失败: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	logger.Info("RevokeShare: 分享链接撤销成功", zap.Uint64("shareID", shareID), zap.Uint64("userID", userID))
	return true, nil
}

// UpdateShare 对分享链接做部分更新，仅限所有者
func (s *shareService) UpdateShare(ctx context.Context, shareID, userID uint64, params UpdateShareParams) (*models.FileShare, error) {
	fields := map[string]any{}

	if params.ClearExpiresAt {
		fields["expires_at"] = nil
	} else if params.ExpiresAt != nil {
		fields["expires_at"] = *params.ExpiresAt
	}

	if params.ClearMaxDownloads {
		fields["max_downloads"] = nil
	} else if params.MaxDownloads != nil {
		if *params.MaxDownloads == 0 {
			return nil, fmt.Errorf("最大下载次数必须为正数: %w", xerr.ErrValidationFailed)
		}
		fields["max_downloads"] = *params.MaxDownloads
	}

	if params.IsActive != nil {
		fields["is_active"] = *params.IsActive
	}

	// 空补丁不触发任何数据库写入
	if len(fields) == 0 {
		return nil, nil
	}

	rows, err := s.shareRepo.UpdateFields(ctx, shareID, userID, fields)
	if err != nil {
		logger.Error("UpdateShare: 更新分享链接失败", zap.Uint64("shareID", shareID), zap.Error(err))
		return nil, fmt.Errorf("更新分享链接失败: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}

	return s.shareRepo.FindByID(ctx, shareID)
}

// DeleteShare 硬删除一个分享链接
func (s *shareService) DeleteShare(ctx context.Context, shareID, userID uint64) (bool, error) {
	rows, err := s.shareRepo.Delete(ctx, shareID, userID)
	if err != nil {
		logger.Error("DeleteShare: 删除分享链接失败", zap.Uint64("shareID", shareID), zap.Error(err))
		return false, fmt.Errorf("删除分享链接失败: %w", err)
	}
	return rows > 0, nil
}

// CleanupExpiredShares 周期清扫入口，幂等，可与正常流量并发执行
func (s *shareService) CleanupExpiredShares(ctx context.Context) (int64, error) {
	count, err := s.shareRepo.DeactivateExpired(ctx, time.Now())
	if err != nil {
		logger.Error("CleanupExpiredShares: 清理过期分享失败", zap.Error(err))
		return 0, fmt.Errorf("清理过期分享失败: %w", err)
	}
	if count > 0 {
		logger.Info("CleanupExpiredShares: 已停用过期分享", zap.Int64("count", count))
	}
	return count, nil
}
