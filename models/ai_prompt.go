package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// UserPrompt 可复用的系统提示词
type UserPrompt struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	Title      string         `json:"title" gorm:"size:28;not null"`
	PromptText string         `json:"prompt_text" gorm:"type:text;not null"`
	IsDefault  bool           `json:"is_default" gorm:"default:false;index"` // 同一 consumer 下唯一默认
	Consumer   string         `json:"consumer" gorm:"size:3;not null;default:FCH;index"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 设置表名
func (UserPrompt) TableName() string {
	return "user_prompts"
}

// SaveWithDefault 保存提示词并维护默认标记，规则与 GptModel 相同
func (p *UserPrompt) SaveWithDefault(db *gorm.DB) error {
	if !p.IsDefault {
		var count int64
		db.Model(&UserPrompt{}).
			Where("is_default = ? AND consumer = ? AND id <> ?", true, p.Consumer, p.ID).
			Count(&count)
		if count == 0 {
			return errors.New("必须为该来源保留至少一个默认提示词")
		}
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		if p.IsDefault {
			return tx.Model(&UserPrompt{}).
				Where("is_default = ? AND consumer = ? AND id <> ?", true, p.Consumer, p.ID).
				Update("is_default", false).Error
		}
		return nil
	})
}
