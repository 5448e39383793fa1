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

// anthropicProvider Anthropic 协议（v1/messages）。
// system 消息独立于对话列表，必须显式给出单次输出 token 上限；
// 流式响应是带类型的事件流，结束时提供商给出完整用量
type anthropicProvider struct{}

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 2500
)

// anthropicResponse 非流式响应体
type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicStreamEvent 流式事件。type 决定其余字段的含义
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystem 把窗口里的第一条 system 记录拆出来，其余保持原顺序
func splitSystem(messages []Message) (string, []Message) {
	var system string
	found := false
	filtered := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" && !found {
			if text, ok := msg.Content.(string); ok {
				system = text
				found = true
				continue
			}
		}
		filtered = append(filtered, msg)
	}
	return system, filtered
}

func (p *anthropicProvider) buildBody(req *providerRequest, stream bool) map[string]interface{} {
	system, filtered := splitSystem(req.messages)

	temperature := 1.0
	if t, ok := req.creativity["temperature"]; ok {
		if tf, ok := t.(float64); ok {
			temperature = tf
		}
	}

	body := map[string]interface{}{
		"model":       req.model.Title,
		"system":      system,
		"max_tokens":  anthropicMaxTokens,
		"messages":    filtered,
		"temperature": temperature,
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (p *anthropicProvider) doRequest(ctx context.Context, req *providerRequest, stream bool) (*http.Response, error) {
	jsonData, err := json.Marshal(p.buildBody(req, stream))
	if err != nil {
		return nil, wrapError(KindUnhandled, err, "构建请求失败")
	}

	endpoint := strings.TrimRight(req.model.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, wrapError(KindUnhandled, err, "创建请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", req.model.APIKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

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

func (p *anthropicProvider) send(ctx context.Context, req *providerRequest) (*providerResult, error) {
	resp, err := p.doRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(KindProviderConnection, err, "读取响应失败")
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, wrapError(KindProviderJSONDecode, err, "解析响应失败")
	}
	if len(parsed.Content) == 0 || parsed.Usage == nil {
		return nil, newError(KindValueChoices, "响应缺少 content/usage 字段: %s", string(respBody))
	}

	return &providerResult{
		text:             parsed.Content[0].Text,
		promptTokens:     parsed.Usage.InputTokens,
		completionTokens: parsed.Usage.OutputTokens,
		hasUsage:         true,
	}, nil
}

func (p *anthropicProvider) stream(ctx context.Context, req *providerRequest, onDelta func(piece string) error) (*providerResult, error) {
	resp, err := p.doRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &providerResult{hasUsage: true}
	reader := bufio.NewReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return nil, wrapError(KindUnhandled, ctx.Err(), "流式读取被取消")
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return result, nil
			}
			return nil, wrapError(KindProviderConnection, err, "读取流失败")
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if err := onDelta(event.Delta.Text); err != nil {
				return nil, fmt.Errorf("转发片段失败: %w", err)
			}
		case "message_start":
			result.promptTokens = event.Message.Usage.InputTokens
		case "message_delta":
			result.completionTokens = event.Usage.OutputTokens
		case "message_stop":
			return result, nil
		case "ping":
			// 心跳，忽略
		case "error":
			// 流内错误事件按通用异常处理
			return nil, wrapError(KindUnhandled, fmt.Errorf("流内错误: %s", event.Error.Message), "提供商流式异常")
		}
	}
}
