package models

import (
	"time"

	"gorm.io/gorm"
)

// UserGptModel 用户的模型选择状态：当前激活的模型/提示词与历史窗口起点。
// 首次使用时惰性创建；approved 集合由外部计费模块按余额刷新，这里只读。
type UserGptModel struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UserID         uint      `json:"user_id" gorm:"uniqueIndex;not null"`
	ActiveModelID  *uint     `json:"active_model_id" gorm:"index"`
	ActivePromptID *uint     `json:"active_prompt_id" gorm:"index"`
	TimeStart      time.Time `json:"time_start"` // 历史窗口起点，早于该时间的历史不参与上下文
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	ActiveModel    *GptModel   `json:"active_model,omitempty" gorm:"foreignKey:ActiveModelID"`
	ActivePrompt   *UserPrompt `json:"active_prompt,omitempty" gorm:"foreignKey:ActivePromptID"`
	ApprovedModels []GptModel  `json:"approved_models,omitempty" gorm:"many2many:user_approved_models;"`
}

// TableName 设置表名
func (UserGptModel) TableName() string {
	return "user_gpt_models"
}

// GetOrCreateUserGptModel 获取用户的模型选择状态，不存在时按默认配置惰性创建
func GetOrCreateUserGptModel(db *gorm.DB, userID uint, consumer string, now time.Time) (*UserGptModel, bool, error) {
	var state UserGptModel
	err := db.Preload("ActiveModel.Proxy").Preload("ActivePrompt").
		Where("user_id = ?", userID).First(&state).Error
	if err == nil {
		return &state, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	state = UserGptModel{UserID: userID, TimeStart: now}

	var defaultModel GptModel
	if e := db.Preload("Proxy").Where("is_default = ? AND consumer = ?", true, consumer).
		First(&defaultModel).Error; e == nil {
		state.ActiveModelID = &defaultModel.ID
		state.ActiveModel = &defaultModel
	}
	var defaultPrompt UserPrompt
	if e := db.Where("is_default = ? AND consumer = ?", true, consumer).
		First(&defaultPrompt).Error; e == nil {
		state.ActivePromptID = &defaultPrompt.ID
		state.ActivePrompt = &defaultPrompt
	}

	if err := db.Create(&state).Error; err != nil {
		return nil, false, err
	}
	if state.ActiveModel != nil {
		// 默认模型同时进入 approved 集合，保证新用户开箱可用
		_ = db.Model(&state).Association("ApprovedModels").Append(state.ActiveModel)
	}
	return &state, true, nil
}
