package gpt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_KindAndMessage(t *testing.T) {
	err := newError(KindLongQuery, "问题 %d tokens 超出模型上限 %d", 9000, 4096)
	assert.Equal(t, KindLongQuery, KindOf(err))
	assert.Contains(t, err.Error(), "9000")
	assert.Nil(t, errors.Unwrap(err))
}

func TestWrapError_PreservesChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := wrapError(KindProviderConnection, cause, "连接提供商失败")
	assert.Equal(t, KindProviderConnection, KindOf(err))
	assert.ErrorIs(t, err, cause)

	// 再包一层也能找回分类
	outer := fmt.Errorf("调用失败: %w", err)
	assert.Equal(t, KindProviderConnection, KindOf(outer))
}

func TestAsError_UncategorizedBecomesUnhandled(t *testing.T) {
	plain := errors.New("boom")
	ge := AsError(plain)
	assert.Equal(t, KindUnhandled, ge.Kind)
	assert.ErrorIs(t, ge, plain)
}

func TestUserMessage(t *testing.T) {
	// 每个分类都有对应的用户提示
	kinds := []Kind{
		KindInWork, KindLongQuery, KindLowTokensBalance, KindValueChoices,
		KindProviderConnection, KindProviderResponse, KindProviderJSONDecode, KindUnhandled,
	}
	for _, k := range kinds {
		msg := UserMessage(&Error{Kind: k, Msg: "x"})
		assert.NotEmpty(t, msg, "分类 %s 缺少用户提示", k)
		// 提示语不暴露内部细节
		assert.NotContains(t, msg, string(k))
	}

	// 未分类错误返回兜底提示
	assert.Equal(t, userMessages[KindUnhandled], UserMessage(errors.New("raw")))
}

func TestLogWorthy(t *testing.T) {
	// 用户自身原因的失败不打日志
	assert.False(t, logWorthy(KindLongQuery))
	assert.False(t, logWorthy(KindLowTokensBalance))
	assert.False(t, logWorthy(KindValueChoices))

	assert.True(t, logWorthy(KindInWork))
	assert.True(t, logWorthy(KindProviderConnection))
	assert.True(t, logWorthy(KindUnhandled))
}
