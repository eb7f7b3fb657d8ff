package repositories

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
)

// ShareRepository 定义分享链接的数据访问层接口
// FileShare 行的所有写入都必须经过这里
type ShareRepository interface {
	// Create 插入一条分享记录
	// 令牌撞上唯一索引时返回 gorm.ErrDuplicatedKey，调用方负责重新生成令牌
	Create(ctx context.Context, share *models.FileShare) error
	// FindByToken 按令牌查找，未找到返回 (nil, nil)
	FindByToken(ctx context.Context, token string) (*models.FileShare, error)
	// FindByID 按主键查找，未找到返回 (nil, nil)
	FindByID(ctx context.Context, shareID uint64) (*models.FileShare, error)
	FindAllByFileID(ctx context.Context, fileID uint64, limit, offset int) ([]models.FileShare, int64, error)
	FindAllByUserID(ctx context.Context, userID uint64, includeInactive bool, limit, offset int) ([]models.FileShare, int64, error)

	// UpdateFields 只更新属于 ownerID 的行，返回受影响的行数
	// 0 行既可能是记录不存在也可能是非所有者，对调用方统一表现为"未找到"
	UpdateFields(ctx context.Context, shareID, ownerID uint64, fields map[string]any) (int64, error)
	Revoke(ctx context.Context, shareID, ownerID uint64) (int64, error)
	Delete(ctx context.Context, shareID, ownerID uint64) (int64, error)

	// RecordDownload 单条条件更新语句完成配额检查和计数递增
	// 限流判断内嵌在 UPDATE 谓词里，返回 0 行表示配额已用尽（或分享失效）
	RecordDownload(ctx context.Context, token string, now time.Time) (int64, error)

	// DeactivateExpired 把已过期但仍激活的分享批量置为不激活，返回处理行数
	// 只翻转 is_active，从不删除行
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
