package gpt

import (
	"errors"
	"fmt"
)

// Kind 错误分类。问答引擎内部的所有失败在出口处统一收敛为这些分类，
// 调用方按分类查表取用户提示，不做类型层级匹配
type Kind string

const (
	// KindInWork 相同问题已在处理中，勿重复提交
	KindInWork Kind = "in_work"
	// KindLongQuery 请求文本超出单次请求 token 上限
	KindLongQuery Kind = "long_query"
	// KindLowTokensBalance 余额不足
	KindLowTokensBalance Kind = "low_tokens_balance"
	// KindValueChoices 提供商响应缺少预期的结果字段
	KindValueChoices Kind = "value_choices"
	// KindProviderConnection 连接提供商失败（可在上层带退避重试）
	KindProviderConnection Kind = "provider_connection"
	// KindProviderResponse 提供商返回了HTTP错误状态
	KindProviderResponse Kind = "provider_response"
	// KindProviderJSONDecode 提供商响应体无法解析
	KindProviderJSONDecode Kind = "provider_json_decode"
	// KindUnhandled 兜底分类，始终携带原始错误链
	KindUnhandled Kind = "unhandled"
)

// Error 带分类的引擎错误
type Error struct {
	Kind Kind
	Msg  string
	Err  error // 原始错误链
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError 创建不携带原始错误的分类错误（用户自身原因的失败）
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapError 包装原始错误为分类错误
func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// AsError 将任意错误收敛为 *Error，未分类的一律归入 KindUnhandled
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: KindUnhandled, Msg: "未处理的错误", Err: err}
}

// KindOf 取错误分类，非引擎错误视为 KindUnhandled
func KindOf(err error) Kind {
	return AsError(err).Kind
}

// userMessages 分类 → 面向用户的非技术提示
var userMessages = map[Kind]string{
	KindInWork:             "正在处理您的问题，请稍候，答案马上就来。",
	KindLongQuery:          "问题太长了，请精简为一个问题或 3-5 个要点后重试。",
	KindLowTokensBalance:   "余额不足，请充值或切换到免费模型。",
	KindValueChoices:       "这次没能生成有效回答，请换个说法再试一次。",
	KindProviderResponse:   "AI 服务暂时不可用，请稍后重试。",
	KindProviderConnection: "无法连接 AI 服务，请检查网络后重试。",
	KindProviderJSONDecode: "处理回答时出错，请重新发送您的问题。",
	KindUnhandled:          "发生意外错误，我们正在排查，请稍后再试。",
}

const fallbackUserMessage = "出了点问题，请稍后再试。"

// UserMessage 按分类查表返回用户提示
func UserMessage(err error) string {
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return fallbackUserMessage
}

// logWorthy 是否值得打日志。用户自身原因、需要用户动作的失败不记录，避免日志噪音
func logWorthy(kind Kind) bool {
	switch kind {
	case KindLongQuery, KindLowTokensBalance, KindValueChoices:
		return false
	}
	return true
}
