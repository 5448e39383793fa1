package gpt

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"aichat/models"

	xproxy "golang.org/x/net/proxy"
)

// 提供商请求的超时参数：连接 10s，写 20s，读取放宽到 600s 以容忍长生成
const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 20 * time.Second
	readTimeout    = 600 * time.Second
)

// newHTTPClient 构建访问提供商的 HTTP 客户端，按模型配置可经 SOCKS5 或 HTTP 代理出口
func newHTTPClient(model *models.GptModel) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: writeTimeout,
		IdleConnTimeout:       90 * time.Second,
	}

	if model.Proxy != nil {
		switch {
		case model.Proxy.ProxySocks != "":
			socksURL, err := url.Parse(model.Proxy.ProxySocks)
			if err != nil {
				return nil, fmt.Errorf("解析 SOCKS 代理地址失败: %w", err)
			}
			if model.Proxy.ProxyUsername != "" {
				socksURL.User = url.UserPassword(model.Proxy.ProxyUsername, model.Proxy.ProxyPassword)
			}
			socksDialer, err := xproxy.FromURL(socksURL, dialer)
			if err != nil {
				return nil, fmt.Errorf("创建 SOCKS 代理失败: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := socksDialer.(xproxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return socksDialer.Dial(network, addr)
			}
		case model.Proxy.ProxyHTTP != "":
			httpURL, err := url.Parse(model.Proxy.ProxyHTTP)
			if err != nil {
				return nil, fmt.Errorf("解析 HTTP 代理地址失败: %w", err)
			}
			if model.Proxy.ProxyUsername != "" {
				httpURL.User = url.UserPassword(model.Proxy.ProxyUsername, model.Proxy.ProxyPassword)
			}
			transport.Proxy = http.ProxyURL(httpURL)
		}
	}

	return &http.Client{
		Timeout:   readTimeout,
		Transport: transport,
	}, nil
}
