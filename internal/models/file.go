package models

import (
	"time"
)

const (
	StatusDeleted = 0 // 已删除
	StatusNormal  = 1 // 正常
	StatusBanned  = 2 // 被禁用
)

// File 对应 files 表，是文件的"当前状态"指针
// 最新版本的内容由 VersionManager 镜像到这里
type File struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID        string    `gorm:"type:varchar(36);unique;not null" json:"uuid"` // 文件在对象存储中的唯一标识
	UserID      uint64    `gorm:"not null;index" json:"user_id"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"filename"`
	StoragePath string    `gorm:"type:varchar(255);not null" json:"storage_path"` // 对象存储中的 key
	Size        uint64    `gorm:"type:bigint unsigned;not null;default:0" json:"size"`
	MimeType    *string   `gorm:"type:varchar(128);default:null" json:"mime_type"`
	Checksum    *string   `gorm:"type:varchar(64);default:null" json:"checksum"` // 内容哈希，可为空
	Status      uint8     `gorm:"type:tinyint unsigned;not null;default:1" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定 GORM 使用的表名
func (File) TableName() string {
	return "files"
}
