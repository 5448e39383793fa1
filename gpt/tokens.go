package gpt

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 各类文本的固定 token 补偿（角色标记与分隔符）
const (
	queryTokenOverhead  = 4
	promptTokenOverhead = 7
	// turnTokenOverhead 历史中每一轮问答的固定补偿
	turnTokenOverhead = 11
)

// TokenCounter 按模型计算文本的计费 token 数
type TokenCounter interface {
	// Count 返回 text 的 token 数加上 overhead 补偿。
	// modelTitle 未识别时回退到通用编码
	Count(ctx context.Context, text, modelTitle string, overhead int) (int, error)
}

// tiktokenCounter 基于 tiktoken 的实现，按模型名缓存编码器
type tiktokenCounter struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewTokenCounter 创建基于 tiktoken 的 TokenCounter
func NewTokenCounter() TokenCounter {
	return &tiktokenCounter{cache: make(map[string]*tiktoken.Tiktoken)}
}

func (t *tiktokenCounter) encodingFor(modelTitle string) (*tiktoken.Tiktoken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.cache[modelTitle]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(modelTitle)
	if err != nil {
		// 未识别的模型名回退到 cl100k_base
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("加载 token 编码失败: %w", err)
		}
	}
	t.cache[modelTitle] = enc
	return enc, nil
}

func (t *tiktokenCounter) Count(_ context.Context, text, modelTitle string, overhead int) (int, error) {
	enc, err := t.encodingFor(modelTitle)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)) + overhead, nil
}
