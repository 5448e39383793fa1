package gpt

import (
	"context"

	"aichat/models"
)

// providerRequest 一次提供商调用的全部输入
type providerRequest struct {
	model      *models.GptModel
	messages   []Message
	creativity map[string]interface{}
}

// providerResult 提供商调用的终态结果
type providerResult struct {
	text             string
	promptTokens     int
	completionTokens int
	// hasUsage 提供商是否给出了用量对象；
	// OpenAI 兼容协议的流式路径没有用量事件，需要事后本地重算
	hasUsage bool
}

// chatProvider 按协议族抽象的提供商调用。
// send 返回完整结果；stream 对每个文本片段回调 onDelta，片段按接收顺序交付
type chatProvider interface {
	send(ctx context.Context, req *providerRequest) (*providerResult, error)
	stream(ctx context.Context, req *providerRequest, onDelta func(piece string) error) (*providerResult, error)
}

// providerFor 按模型配置选择协议族
func providerFor(model *models.GptModel) chatProvider {
	if model.Provider == models.ProviderAnthropic {
		return &anthropicProvider{}
	}
	return &openaiProvider{}
}
