package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"aichat/config"
	"aichat/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	oldDB := database.DB
	database.DB = gormDB
	return mock, func() {
		database.DB = oldDB
		sqlDB.Close()
	}
}

func TestAIModelHandler_CreateGptModel_Default(t *testing.T) {
	mock, cleanup := setupMockDB(t)
	defer cleanup()

	config.GlobalConfig = &config.Config{Server: config.ServerConfig{Mode: "debug"}}
	defer func() { config.GlobalConfig = nil }()

	// 置为默认：事务内先保存再清除同来源的其它默认标记
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `gpt_models`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `gpt_models`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	router := gin.New()
	router.POST("/admin/ai-models", NewAIModelHandler().CreateGptModel)

	body := `{
		"provider": "OA",
		"public_name": "GPT-4o",
		"title": "gpt-4o",
		"base_url": "https://api.example.com",
		"api_key": "sk-test",
		"is_default": true,
		"context_window": 8000,
		"max_request_token": 2000,
		"consumer": "FCH"
	}`
	req := httptest.NewRequest("POST", "/admin/ai-models", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(200), resp["code"])
	// API密钥不回显
	assert.NotContains(t, w.Body.String(), "sk-test")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAIModelHandler_CreateGptModel_RefusesRemovingLastDefault(t *testing.T) {
	mock, cleanup := setupMockDB(t)
	defer cleanup()

	config.GlobalConfig = &config.Config{Server: config.ServerConfig{Mode: "debug"}}
	defer func() { config.GlobalConfig = nil }()

	// 非默认保存前检查同来源下是否还有其它默认模型
	mock.ExpectQuery("SELECT count.* FROM `gpt_models`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	router := gin.New()
	router.POST("/admin/ai-models", NewAIModelHandler().CreateGptModel)

	body := `{
		"provider": "OA",
		"public_name": "GPT-4o",
		"title": "gpt-4o",
		"base_url": "https://api.example.com",
		"api_key": "sk-test",
		"is_default": false,
		"context_window": 8000,
		"max_request_token": 2000,
		"consumer": "FCH"
	}`
	req := httptest.NewRequest("POST", "/admin/ai-models", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), "默认模型")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAIModelHandler_CreateGptModel_MissingAPIKey(t *testing.T) {
	_, cleanup := setupMockDB(t)
	defer cleanup()

	router := gin.New()
	router.POST("/admin/ai-models", NewAIModelHandler().CreateGptModel)

	body := `{
		"provider": "OA",
		"public_name": "GPT-4o",
		"title": "gpt-4o",
		"base_url": "https://api.example.com",
		"context_window": 8000,
		"max_request_token": 2000,
		"consumer": "FCH"
	}`
	req := httptest.NewRequest("POST", "/admin/ai-models", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestAIModelHandler_DeleteGptModel_DefaultRejected(t *testing.T) {
	mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `gpt_models`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "title", "is_default", "consumer", "created_at", "updated_at", "deleted_at"}).
			AddRow(1, "OA", "gpt-4o", true, "FCH", time.Now(), time.Now(), nil))

	router := gin.New()
	router.DELETE("/admin/ai-models/:id", NewAIModelHandler().DeleteGptModel)

	req := httptest.NewRequest("DELETE", "/admin/ai-models/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "默认模型不允许删除")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAIPromptHandler_DeleteUserPrompt_DefaultRejected(t *testing.T) {
	mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `user_prompts`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "prompt_text", "is_default", "consumer", "created_at", "updated_at", "deleted_at"}).
			AddRow(1, "默认", "你是助手", true, "FCH", time.Now(), time.Now(), nil))

	router := gin.New()
	router.DELETE("/admin/ai-prompts/:id", NewAIPromptHandler().DeleteUserPrompt)

	req := httptest.NewRequest("DELETE", "/admin/ai-prompts/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "默认提示词不允许删除")
	require.NoError(t, mock.ExpectationsWereMet())
}
