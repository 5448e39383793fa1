package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// 提供商协议族
const (
	// ProviderOpenAI OpenAI 兼容协议（chat/completions）
	ProviderOpenAI = "OA"
	// ProviderAnthropic Anthropic 协议（v1/messages）
	ProviderAnthropic = "AP"
)

// 请求来源（按来源隔离历史和默认配置）
const (
	// ConsumerFastChat 聊天
	ConsumerFastChat = "FCH"
	// ConsumerReminder 系统提醒
	ConsumerReminder = "REM"
	// ConsumerImage 图片分析
	ConsumerImage = "IMG"
)

// SearchSuffix 带内置联网搜索能力的模型名后缀
const SearchSuffix = "-search-preview"

// Proxy 模型出口代理配置
type Proxy struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Title         string         `json:"title" gorm:"size:20;not null"`
	ProxySocks    string         `json:"proxy_socks" gorm:"size:400"` // socks5://host:port
	ProxyHTTP     string         `json:"proxy_http" gorm:"size:400"`  // http://host:port
	ProxyUsername string         `json:"-" gorm:"size:200"`
	ProxyPassword string         `json:"-" gorm:"size:200"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 设置表名
func (Proxy) TableName() string {
	return "proxies"
}

// GptModel AI模型配置（一个可调用的 LLM 目标）
type GptModel struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"size:2;not null;default:OA"` // OA / AP
	PublicName      string         `json:"public_name" gorm:"size:70;not null"`        // 展示给用户的名称
	Title           string         `json:"title" gorm:"size:64;not null"`              // 请求时使用的模型名
	BaseURL         string         `json:"base_url" gorm:"size:255"`                   // 调用地址
	APIKey          string         `json:"-" gorm:"size:255;not null"`                 // API密钥（不返回给前端）
	ProxyID         *uint          `json:"proxy_id" gorm:"index"`                      // 出口代理（可选）
	IsDefault       bool           `json:"is_default" gorm:"default:false;index"`      // 同一 consumer 下唯一默认
	IsFree          bool           `json:"is_free" gorm:"default:false"`               // 免费模型不做余额校验
	IncomingPrice   float64        `json:"incoming_price" gorm:"type:decimal(6,2);default:0"` // 入向价格 / 100K tokens
	OutgoingPrice   float64        `json:"outgoing_price" gorm:"type:decimal(6,2);default:0"` // 出向价格 / 100K tokens
	ContextWindow   int            `json:"context_window" gorm:"not null"`             // 历史上下文 token 上限
	MaxRequestToken int            `json:"max_request_token" gorm:"not null"`          // 单次请求 token 上限
	TimeWindow      int            `json:"time_window" gorm:"default:30"`              // 历史时间窗口（分钟）
	Consumer        string         `json:"consumer" gorm:"size:3;not null;default:FCH;index"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`

	Proxy *Proxy `json:"proxy,omitempty" gorm:"foreignKey:ProxyID"`
}

// TableName 设置表名
func (GptModel) TableName() string {
	return "gpt_models"
}

// IsSearchVariant 是否为联网搜索变体模型
func (m *GptModel) IsSearchVariant() bool {
	return strings.HasSuffix(m.Title, SearchSuffix)
}

// SaveWithDefault 保存模型配置并维护默认标记：同一 consumer 下最多一个默认模型，
// 置为默认时在同一事务内清除其它默认标记
func (m *GptModel) SaveWithDefault(db *gorm.DB) error {
	if !m.IsDefault {
		var count int64
		db.Model(&GptModel{}).
			Where("is_default = ? AND consumer = ? AND id <> ?", true, m.Consumer, m.ID).
			Count(&count)
		if count == 0 {
			return errors.New("必须为该来源保留至少一个默认模型")
		}
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		if m.IsDefault {
			return tx.Model(&GptModel{}).
				Where("is_default = ? AND consumer = ? AND id <> ?", true, m.Consumer, m.ID).
				Update("is_default", false).Error
		}
		return nil
	})
}
