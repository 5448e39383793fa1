package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_EmbeddedDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.NoError(t, err)
	defer func() { GlobalConfig = nil }()

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "Mira", cfg.AI.AssistantName)
	assert.NotEmpty(t, cfg.AI.AnonPrompt)
	assert.Equal(t, 256, cfg.AI.RecordQueue)

	// 派生字段
	assert.Equal(t, 24, cfg.JWT.ExpireHours)
	assert.Equal(t, 24*3600, int(cfg.JWT.ExpireTime.Seconds()))

	// 全局实例已就位
	assert.Same(t, cfg, GetConfig())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("AICHAT_AI_ASSISTANT_NAME", "Nova")
	cfg, err := LoadConfig("")
	assert.NoError(t, err)
	defer func() { GlobalConfig = nil }()

	assert.Equal(t, "Nova", cfg.AI.AssistantName)
}

func TestSafeErrorMessage(t *testing.T) {
	fallback := "操作失败"
	testErr := errors.New("internal database error")

	// nil err 返回 fallback
	assert.Equal(t, fallback, SafeErrorMessage(nil, fallback))

	// release 模式返回 fallback，不暴露错误详情
	GlobalConfig = &Config{Server: ServerConfig{Mode: "release"}}
	defer func() { GlobalConfig = nil }()
	assert.Equal(t, fallback, SafeErrorMessage(testErr, fallback))

	// debug 模式返回 err.Error()
	GlobalConfig = &Config{Server: ServerConfig{Mode: "debug"}}
	assert.Equal(t, "internal database error", SafeErrorMessage(testErr, fallback))

	// GlobalConfig 为 nil 时返回 err.Error()（视为开发环境）
	GlobalConfig = nil
	assert.Equal(t, "internal database error", SafeErrorMessage(testErr, fallback))
}
