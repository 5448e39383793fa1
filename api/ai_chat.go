package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"aichat/config"
	"aichat/database"
	"aichat/gpt"
	"aichat/middleware"
	"aichat/models"

	"github.com/gin-gonic/gin"
)

// chatFrame SSE 输出帧。流式片段带 is_stream/is_start/is_end 标记，
// 错误提示作为普通消息帧下发
type chatFrame struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	IsStream bool   `json:"is_stream"`
	IsStart  bool   `json:"is_start"`
	IsEnd    bool   `json:"is_end"`
}

func writeSSEJSON(c *gin.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = c.Writer.WriteString("data: " + string(b) + "\n\n")
	c.Writer.Flush()
}

// sseSink 把引擎的部分回答事件转成 SSE 帧
type sseSink struct {
	c        *gin.Context
	username string
}

func (s *sseSink) SendChunk(_ context.Context, text string, isStart, isEnd bool) error {
	writeSSEJSON(s.c, chatFrame{
		Message:  text,
		Username: s.username,
		IsStream: true,
		IsStart:  isStart,
		IsEnd:    isEnd,
	})
	return nil
}

// AIChatHandler AI聊天处理器
type AIChatHandler struct {
	engine        *gpt.Engine
	assistantName string
}

// NewAIChatHandler 创建AI聊天处理器
func NewAIChatHandler(engine *gpt.Engine, cfg *config.Config) *AIChatHandler {
	return &AIChatHandler{engine: engine, assistantName: cfg.AI.AssistantName}
}

// AIChatRequest AI聊天请求
type AIChatRequest struct {
	Message  string `json:"message" binding:"required,min=1"`
	Room     string `json:"room"`
	ReplyTo  string `json:"reply_to"`
	ImageURL string `json:"image_url"`
}

// defaultCreativity 聊天入口的默认采样参数
func defaultCreativity() map[string]interface{} {
	return map[string]interface{}{
		"temperature":       1.0,
		"top_p":             0.95,
		"frequency_penalty": 0.0,
		"presence_penalty":  0.0,
	}
}

// currentUser 取当前登录用户，匿名返回 nil
func currentUser(c *gin.Context) *models.User {
	userID := middleware.GetCurrentUserID(c)
	if userID == 0 {
		return nil
	}
	var user models.User
	if err := database.DB.First(&user, userID).Error; err != nil {
		return nil
	}
	return &user
}

// ChatStream AI聊天（SSE流式返回）
// @Summary AI聊天（流式）
// @Description 与当前激活的AI模型对话，SSE流式返回片段帧，结束后异步保存聊天记录。允许匿名（仅免费模型）。
// @Tags AI聊天
// @Accept json
// @Produce text/event-stream
// @Param request body AIChatRequest true "聊天请求"
// @Success 200 {string} string "SSE流：data: {\"message\":\"...\",\"is_stream\":true}"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 429 {object} map[string]interface{} "发送过于频繁"
// @Router /api/v1/ai-chat [post]
func (h *AIChatHandler) ChatStream(c *gin.Context) {
	var req AIChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	user := currentUser(c)
	room := req.Room
	if room == "" {
		room = fmt.Sprintf("chat_%d", middleware.GetCurrentUserID(c))
	}

	// 频率闸门在消息到达时检查，拒绝时不触碰进行中标记
	ok, cooldown, err := h.engine.Gate().CheckRate(c.Request.Context(), room, middleware.GetCurrentUserID(c), user != nil)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "服务暂时不可用"))
		return
	}
	if !ok {
		TooManyRequests(c, fmt.Sprintf("发送太频繁了，请 %d 秒后再试。", cooldown))
		return
	}

	// SSE响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	genReq := &gpt.Request{
		QueryText:   req.Message,
		User:        user,
		Room:        room,
		Consumer:    models.ConsumerFastChat,
		Creativity:  defaultCreativity(),
		ImageURL:    req.ImageURL,
		ReplyToText: req.ReplyTo,
		Stream:      true,
	}
	sink := &sseSink{c: c, username: h.assistantName}

	if err := h.engine.GenerateAnswer(c.Request.Context(), genReq, sink); err != nil {
		// 分类错误转为用户可读的提示帧
		writeSSEJSON(c, chatFrame{Message: gpt.UserMessage(err), Username: h.assistantName})
		writeSSEJSON(c, chatFrame{Username: h.assistantName, IsStream: true, IsEnd: true})
	}
}

// ChatHistory 获取当前用户的聊天历史（最新在前，分页）
// @Summary 获取AI聊天历史
// @Description 获取当前用户的问答历史记录，按时间倒序分页返回
// @Tags AI聊天
// @Produce json
// @Param page query int false "页码，默认1"
// @Param page_size query int false "每页条数，默认20，最大100"
// @Success 200 {object} map[string]interface{} "获取成功，返回分页数据"
// @Router /api/v1/ai-chat/history [get]
func (h *AIChatHandler) ChatHistory(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	page := 1
	pageSize := 20
	if p := c.Query("page"); p != "" {
		if v, e := strconv.Atoi(p); e == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, e := strconv.Atoi(ps); e == nil && v > 0 {
			pageSize = v
		}
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := database.DB.Model(&models.TextTransaction{}).Where("user_id = ?", userID)
	var total int64
	query.Count(&total)

	var list []models.TextTransaction
	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&list).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}
	Success(c, PageResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		List:     list,
	})
}

// AdminChatHistory 后台按条件查询聊天历史
// @Summary 后台查询AI聊天历史
// @Description 按用户/来源分页查询问答历史
// @Tags 后台管理-AI聊天
// @Produce json
// @Param user_id query int false "用户ID"
// @Param consumer query string false "请求来源（FCH/REM/IMG）"
// @Param page query int false "页码，默认1"
// @Param page_size query int false "每页条数，默认20，最大100"
// @Success 200 {object} map[string]interface{} "获取成功"
// @Router /admin/ai-chat/history [get]
func (h *AIChatHandler) AdminChatHistory(c *gin.Context) {
	page := 1
	pageSize := 20
	if p := c.Query("page"); p != "" {
		if v, e := strconv.Atoi(p); e == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, e := strconv.Atoi(ps); e == nil && v > 0 {
			pageSize = v
		}
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := database.DB.Model(&models.TextTransaction{})
	if uid := c.Query("user_id"); uid != "" {
		query = query.Where("user_id = ?", uid)
	}
	if consumer := c.Query("consumer"); consumer != "" {
		query = query.Where("consumer = ?", consumer)
	}

	var total int64
	query.Count(&total)

	var list []models.TextTransaction
	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&list).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}
	Success(c, PageResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		List:     list,
	})
}

// DeleteChatHistory 软删除聊天记录
// @Summary 删除AI聊天记录
// @Description 软删除指定的问答历史记录
// @Tags 后台管理-AI聊天
// @Produce json
// @Param id path int true "记录ID"
// @Success 200 {object} map[string]interface{} "删除成功"
// @Failure 400 {object} map[string]interface{} "无效的ID"
// @Failure 404 {object} map[string]interface{} "记录不存在"
// @Router /admin/ai-chat/history/{id} [delete]
func (h *AIChatHandler) DeleteChatHistory(c *gin.Context) {
	idStr := c.Param("id")
	id64, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}

	var record models.TextTransaction
	if err := database.DB.First(&record, uint(id64)).Error; err != nil {
		NotFound(c, "记录不存在")
		return
	}

	if err := database.DB.Delete(&record).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "删除失败"))
		return
	}

	SuccessWithMessage(c, "删除成功", nil)
}
