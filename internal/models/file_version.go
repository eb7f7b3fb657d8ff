package models

import (
	"time"
)

// FileVersion 对应 file_versions 表，用于存储文件的历史版本快照
// (file_id, version_number) 唯一索引保证同一文件版本号不重复
type FileVersion struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID        uint64    `gorm:"not null;uniqueIndex:uk_file_version,priority:1" json:"file_id"`
	VersionNumber uint      `gorm:"not null;uniqueIndex:uk_file_version,priority:2" json:"version_number"`
	StoragePath   string    `gorm:"type:varchar(255);not null" json:"storage_path"`
	FileSize      uint64    `gorm:"type:bigint unsigned;not null" json:"file_size"`
	MimeType      *string   `gorm:"type:varchar(128);default:null" json:"mime_type"`
	Checksum      *string   `gorm:"type:varchar(64);default:null" json:"checksum"`
	CreatedBy     uint64    `gorm:"not null" json:"created_by"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`

	File *File `gorm:"foreignKey:FileID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (FileVersion) TableName() string {
	return "file_versions"
}
