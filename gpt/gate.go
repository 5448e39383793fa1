package gpt

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 限流标记 TTL：登录用户 2 秒，匿名用户 5 秒
const (
	rateLimitTTL     = 2 * time.Second
	rateLimitAnonTTL = 5 * time.Second
)

// Gate 基于 Redis 的两道闸门：
//  1. 相同文本去重（粗粒度，覆盖一次回答的完整生命周期）
//  2. 发送频率限制（细粒度，几秒内只允许一条）
//
// 两道闸门互相独立：限流在消息到达时检查，去重在引擎开始工作前检查
type Gate struct {
	rdb *redis.Client
}

// NewGate 创建闸门，rdb 由调用方注入
func NewGate(rdb *redis.Client) *Gate {
	return &Gate{rdb: rdb}
}

func inWorkKey(userID uint) string {
	return fmt.Sprintf("gpt_user:%d", userID)
}

func rateLimitKey(room string, userID uint) string {
	return fmt.Sprintf("chat:%s:user:%d:lock", room, userID)
}

// CheckRate 发送频率限制。到达即占位（SetNX，单次原子往返），
// 占位已存在说明在冷却窗口内，返回 cooldown 秒数供提示语使用
func (g *Gate) CheckRate(ctx context.Context, room string, userID uint, authenticated bool) (bool, int, error) {
	ttl := rateLimitAnonTTL
	if authenticated {
		ttl = rateLimitTTL
	}
	ok, err := g.rdb.SetNX(ctx, rateLimitKey(room, userID), "locked", ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("设置限流标记失败: %w", err)
	}
	return ok, int(ttl / time.Second), nil
}

// AcquireInFlight 注册进行中标记。同一用户相同问题已在处理时返回 KindInWork。
// 标记是用户维度的列表，值为原始问题文本；只检查存在性，重复元素无害
func (g *Gate) AcquireInFlight(ctx context.Context, userID uint, queryText string) error {
	queries, err := g.rdb.LRange(ctx, inWorkKey(userID), 0, -1).Result()
	if err != nil {
		return wrapError(KindUnhandled, err, "读取进行中标记失败")
	}
	for _, q := range queries {
		if q == queryText {
			return newError(KindInWork, "相同问题已在处理中")
		}
	}
	if err := g.rdb.LPush(ctx, inWorkKey(userID), queryText).Err(); err != nil {
		return wrapError(KindUnhandled, err, "写入进行中标记失败")
	}
	return nil
}

// ReleaseInFlight 移除进行中标记。调用方必须保证无论成败都恰好释放一次；
// 用独立的 context，请求被取消后标记仍要清掉
func (g *Gate) ReleaseInFlight(userID uint, queryText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = g.rdb.LRem(ctx, inWorkKey(userID), 1, queryText).Err()
}
