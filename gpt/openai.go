package gpt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// openaiProvider OpenAI 兼容协议（chat/completions）。
// 流式响应为 SSE data: 行，以 [DONE] 或 EOF 结束，没有用量事件
type openaiProvider struct{}

// openaiResponse 非流式响应体
type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			ImageTokens int `json:"image_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// openaiStreamChunk 流式响应中的一个 data 帧
type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *openaiProvider) buildBody(req *providerRequest, stream bool) map[string]interface{} {
	body := map[string]interface{}{
		"model":    req.model.Title,
		"messages": req.messages,
	}
	if stream {
		body["stream"] = true
	}
	for k, v := range req.creativity {
		body[k] = v
	}
	return body
}

func (p *openaiProvider) doRequest(ctx context.Context, req *providerRequest, stream bool) (*http.Response, error) {
	body := p.buildBody(req, stream)
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, wrapError(KindUnhandled, err, "构建请求失败")
	}

	endpoint := strings.TrimRight(req.model.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, wrapError(KindUnhandled, err, "创建请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.model.APIKey)

	client, err := newHTTPClient(req.model)
	if err != nil {
		return nil, wrapError(KindUnhandled, err, "创建传输层失败")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, wrapError(KindProviderConnection, err, "连接提供商失败")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newError(KindProviderResponse, "提供商返回错误状态 %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

func (p *openaiProvider) send(ctx context.Context, req *providerRequest) (*providerResult, error) {
	resp, err := p.doRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindProviderConnection, err, "读取响应失败")
	}

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, wrapError(KindProviderJSONDecode, err, "解析响应失败")
	}
	if len(parsed.Choices) == 0 || parsed.Usage == nil {
		// 完整响应转储进错误消息，便于定位提供商侧的格式变更
		return nil, newError(KindValueChoices, "响应缺少 choices/usage 字段: %s", string(respBody))
	}

	imageTokens := 0
	if parsed.Usage.PromptTokensDetails != nil {
		imageTokens = parsed.Usage.PromptTokensDetails.ImageTokens
	}
	return &providerResult{
		text:             parsed.Choices[0].Message.Content,
		promptTokens:     parsed.Usage.PromptTokens + imageTokens,
		completionTokens: parsed.Usage.CompletionTokens,
		hasUsage:         true,
	}, nil
}

func (p *openaiProvider) stream(ctx context.Context, req *providerRequest, onDelta func(piece string) error) (*providerResult, error) {
	resp, err := p.doRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			// 调用方断开：停止消费，剩余片段丢弃
			return nil, wrapError(KindUnhandled, ctx.Err(), "流式读取被取消")
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// 部分兼容实现不发送 [DONE]，EOF 视为正常结束
				return &providerResult{}, nil
			}
			return nil, wrapError(KindProviderConnection, err, "读取流失败")
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimPrefix(line, []byte("data: "))
		if string(data) == "[DONE]" {
			return &providerResult{}, nil
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// 单帧解析失败跳过，不中断整个流
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			return nil, fmt.Errorf("转发片段失败: %w", err)
		}
	}
}
