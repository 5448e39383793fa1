package models

import (
	"time"

	"gorm.io/gorm"
)

// User 用户模型。认证本身由外部系统负责，这里只保留问答引擎需要的身份与余额字段
type User struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	Username     string         `json:"username" gorm:"uniqueIndex;size:50;not null"`
	DisplayName  string         `json:"display_name" gorm:"size:70"`
	Email        string         `json:"email" gorm:"size:100"`
	TokenBalance float64        `json:"token_balance" gorm:"type:decimal(10,2);default:0"` // 可用余额，由计费模块维护
	IsAdmin      bool           `json:"is_admin" gorm:"default:false"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 设置表名
func (User) TableName() string {
	return "users"
}
