package gpt

import (
	"context"

	"aichat/models"

	"gorm.io/gorm"
)

// 一次请求的预估成本：入向按 100K token 单价折算问题部分，
// 出向按单价的 3% 预留给尚未生成的回答
const (
	pricePerTokens   = 100000.0
	outgoingEstimate = 0.03
)

// dbBalanceChecker 按用户余额字段校验的默认实现
type dbBalanceChecker struct {
	db *gorm.DB
}

// NewBalanceChecker 创建基于数据库余额字段的 BalanceChecker
func NewBalanceChecker(db *gorm.DB) BalanceChecker {
	return &dbBalanceChecker{db: db}
}

// RequiredAmount 本次请求需要预留的余额
func RequiredAmount(model *models.GptModel, questionTokens int) float64 {
	incoming := model.IncomingPrice / pricePerTokens * float64(questionTokens)
	outgoing := model.OutgoingPrice * outgoingEstimate
	return incoming + outgoing
}

func (c *dbBalanceChecker) Check(ctx context.Context, user *models.User, model *models.GptModel, questionTokens int) error {
	if model.IsFree {
		return nil
	}
	if user == nil {
		// 匿名用户只能使用免费模型
		return newError(KindLowTokensBalance, "匿名用户无法使用付费模型")
	}

	required := RequiredAmount(model, questionTokens)

	// 读取最新余额，避免请求携带的快照过期
	var fresh models.User
	if err := c.db.WithContext(ctx).Select("token_balance").First(&fresh, user.ID).Error; err != nil {
		return wrapError(KindUnhandled, err, "读取用户余额失败")
	}
	if fresh.TokenBalance < required {
		return newError(KindLowTokensBalance, "余额不足，本次请求需要 %.4f", required)
	}
	return nil
}
