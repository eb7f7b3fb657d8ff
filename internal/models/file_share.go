package models

import (
	"time"
)

// FileShare 对应 file_shares 表
// 分享始终指向文件本身而不是某个版本，下载时解析到文件的当前内容
type FileShare struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID         uint64     `gorm:"not null;index" json:"file_id"`
	ShareToken     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"share_token"` // 加密随机令牌，全局唯一
	CreatedBy      uint64     `gorm:"not null;index" json:"created_by"`
	ExpiresAt      *time.Time `gorm:"default:null" json:"expires_at"`
	MaxDownloads   *uint32    `gorm:"type:int unsigned;default:null" json:"max_downloads"` // null 表示不限次数
	DownloadCount  uint32     `gorm:"type:int unsigned;not null;default:0" json:"download_count"`
	PasswordHash   *string    `gorm:"type:varchar(255);default:null" json:"-"` // 密码哈希不输出到 JSON
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastAccessedAt *time.Time `gorm:"default:null" json:"last_accessed_at"`

	// 定义 GORM 关联，方便预加载
	File *File `gorm:"foreignKey:FileID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (FileShare) TableName() string {
	return "file_shares"
}

// HasPassword 只向读取路径暴露"是否设有密码"，从不暴露哈希本身
func (s *FileShare) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}
