package models

import (
	"time"

	"gorm.io/gorm"
)

// TextTransaction AI问答历史（单轮：用户提问 + 模型回答），落库后不可变更。
// 上下文组装按 created_at 升序读取，展示按降序读取。
type TextTransaction struct {
	ID                 uint           `json:"id" gorm:"primaryKey"`
	UserID             *uint          `json:"user_id" gorm:"index"` // 匿名用户为 NULL
	Room               string         `json:"room" gorm:"size:128"` // 客户端房间标识
	Question           string         `json:"question" gorm:"type:text;not null"`
	QuestionTokens     int            `json:"question_tokens"`
	QuestionTokenPrice float64        `json:"question_token_price" gorm:"type:decimal(6,2);default:0"` // 入向价格 / 100K tokens
	ImageURL           string         `json:"image_url" gorm:"size:1280"`
	Answer             string         `json:"answer" gorm:"type:longtext;not null"`
	AnswerTokens       int            `json:"answer_tokens"`
	AnswerTokenPrice   float64        `json:"answer_token_price" gorm:"type:decimal(6,2);default:0"` // 出向价格 / 100K tokens
	Consumer           string         `json:"consumer" gorm:"size:3;not null;default:FCH;index"`
	GptModelID         *uint          `json:"gpt_model_id" gorm:"index"`
	CreatedAt          time.Time      `json:"created_at" gorm:"index"`
	DeletedAt          gorm.DeletedAt `json:"-" gorm:"index"`

	GptModel *GptModel `json:"-" gorm:"foreignKey:GptModelID"`
}

// TableName 设置表名
func (TextTransaction) TableName() string {
	return "text_transactions"
}
