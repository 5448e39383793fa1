package api

import (
	"strconv"
	"time"

	"aichat/database"
	"aichat/middleware"
	"aichat/models"

	"github.com/gin-gonic/gin"
)

// AIModelHandler AI模型配置处理器
type AIModelHandler struct{}

// NewAIModelHandler 创建AI模型配置处理器
func NewAIModelHandler() *AIModelHandler {
	return &AIModelHandler{}
}

// GptModelRequest 模型配置请求
type GptModelRequest struct {
	Provider        string  `json:"provider" binding:"required,oneof=OA AP"`
	PublicName      string  `json:"public_name" binding:"required,max=70"`
	Title           string  `json:"title" binding:"required,max=64"`
	BaseURL         string  `json:"base_url" binding:"required,url"`
	APIKey          string  `json:"api_key"`
	ProxyID         *uint   `json:"proxy_id"`
	IsDefault       bool    `json:"is_default"`
	IsFree          bool    `json:"is_free"`
	IncomingPrice   float64 `json:"incoming_price" binding:"min=0"`
	OutgoingPrice   float64 `json:"outgoing_price" binding:"min=0"`
	ContextWindow   int     `json:"context_window" binding:"required,min=1"`
	MaxRequestToken int     `json:"max_request_token" binding:"required,min=1"`
	TimeWindow      int     `json:"time_window" binding:"min=0"`
	Consumer        string  `json:"consumer" binding:"required,oneof=FCH REM IMG"`
}

// CreateGptModel 创建AI模型配置
// @Summary 创建AI模型配置
// @Description 新增一个可调用的模型配置，置为默认时自动清除同来源的其它默认标记
// @Tags 后台管理-AI模型
// @Accept json
// @Produce json
// @Param request body GptModelRequest true "模型配置"
// @Success 200 {object} map[string]interface{} "创建成功"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Router /admin/ai-models [post]
func (h *AIModelHandler) CreateGptModel(c *gin.Context) {
	var req GptModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}
	if req.APIKey == "" {
		BadRequest(c, "API密钥不能为空")
		return
	}

	model := models.GptModel{
		Provider:        req.Provider,
		PublicName:      req.PublicName,
		Title:           req.Title,
		BaseURL:         req.BaseURL,
		APIKey:          req.APIKey,
		ProxyID:         req.ProxyID,
		IsDefault:       req.IsDefault,
		IsFree:          req.IsFree,
		IncomingPrice:   req.IncomingPrice,
		OutgoingPrice:   req.OutgoingPrice,
		ContextWindow:   req.ContextWindow,
		MaxRequestToken: req.MaxRequestToken,
		TimeWindow:      req.TimeWindow,
		Consumer:        req.Consumer,
	}
	if err := model.SaveWithDefault(database.DB); err != nil {
		InternalError(c, SafeErrorMessage(err, "创建失败"))
		return
	}
	SuccessWithMessage(c, "创建成功", model)
}

// UpdateGptModel 更新AI模型配置
// @Summary 更新AI模型配置
// @Description 更新模型配置，API密钥留空则保持原值；取消默认标记要求同来源下仍有其它默认模型
// @Tags 后台管理-AI模型
// @Accept json
// @Produce json
// @Param id path int true "模型ID"
// @Param request body GptModelRequest true "模型配置"
// @Success 200 {object} map[string]interface{} "更新成功"
// @Failure 404 {object} map[string]interface{} "模型不存在"
// @Router /admin/ai-models/{id} [put]
func (h *AIModelHandler) UpdateGptModel(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}
	var req GptModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	var model models.GptModel
	if err := database.DB.First(&model, uint(id64)).Error; err != nil {
		NotFound(c, "模型不存在")
		return
	}

	model.Provider = req.Provider
	model.PublicName = req.PublicName
	model.Title = req.Title
	model.BaseURL = req.BaseURL
	if req.APIKey != "" {
		model.APIKey = req.APIKey
	}
	model.ProxyID = req.ProxyID
	model.IsDefault = req.IsDefault
	model.IsFree = req.IsFree
	model.IncomingPrice = req.IncomingPrice
	model.OutgoingPrice = req.OutgoingPrice
	model.ContextWindow = req.ContextWindow
	model.MaxRequestToken = req.MaxRequestToken
	model.TimeWindow = req.TimeWindow
	model.Consumer = req.Consumer

	if err := model.SaveWithDefault(database.DB); err != nil {
		InternalError(c, SafeErrorMessage(err, "更新失败"))
		return
	}
	SuccessWithMessage(c, "更新成功", model)
}

// GetAllGptModels 获取全部AI模型配置
// @Summary 获取全部AI模型配置
// @Tags 后台管理-AI模型
// @Produce json
// @Param consumer query string false "按来源过滤（FCH/REM/IMG）"
// @Success 200 {object} map[string]interface{} "获取成功"
// @Router /admin/ai-models [get]
func (h *AIModelHandler) GetAllGptModels(c *gin.Context) {
	query := database.DB.Preload("Proxy").Model(&models.GptModel{})
	if consumer := c.Query("consumer"); consumer != "" {
		query = query.Where("consumer = ?", consumer)
	}
	var list []models.GptModel
	if err := query.Order("consumer, id").Find(&list).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}
	Success(c, list)
}

// DeleteGptModel 删除AI模型配置
// @Summary 删除AI模型配置
// @Description 软删除模型配置，默认模型不允许删除
// @Tags 后台管理-AI模型
// @Produce json
// @Param id path int true "模型ID"
// @Success 200 {object} map[string]interface{} "删除成功"
// @Failure 400 {object} map[string]interface{} "默认模型不允许删除"
// @Router /admin/ai-models/{id} [delete]
func (h *AIModelHandler) DeleteGptModel(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}
	var model models.GptModel
	if err := database.DB.First(&model, uint(id64)).Error; err != nil {
		NotFound(c, "模型不存在")
		return
	}
	if model.IsDefault {
		BadRequest(c, "默认模型不允许删除，请先将其它模型设为默认")
		return
	}
	if err := database.DB.Delete(&model).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "删除失败"))
		return
	}
	SuccessWithMessage(c, "删除成功", nil)
}

// ListUserModels 获取当前用户可用的模型
// @Summary 获取可用AI模型
// @Description 返回当前用户被授权的模型列表及当前激活的模型/提示词
// @Tags AI聊天
// @Produce json
// @Success 200 {object} map[string]interface{} "获取成功"
// @Router /api/v1/ai-models [get]
func (h *AIModelHandler) ListUserModels(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	state, _, err := models.GetOrCreateUserGptModel(database.DB, userID, models.ConsumerFastChat, time.Now())
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}

	var approved []models.GptModel
	if err := database.DB.Model(state).Association("ApprovedModels").Find(&approved); err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}

	Success(c, gin.H{
		"models":           approved,
		"active_model_id":  state.ActiveModelID,
		"active_prompt_id": state.ActivePromptID,
	})
}

// SetActiveModelRequest 切换激活模型请求
type SetActiveModelRequest struct {
	ModelID uint `json:"model_id" binding:"required"`
}

// SetActiveModel 切换当前激活的模型
// @Summary 切换激活的AI模型
// @Description 将指定模型设为当前激活模型，仅允许选择已授权的模型
// @Tags AI聊天
// @Accept json
// @Produce json
// @Param request body SetActiveModelRequest true "模型选择"
// @Success 200 {object} map[string]interface{} "设置成功"
// @Failure 400 {object} map[string]interface{} "模型未授权"
// @Router /api/v1/ai-models/active [put]
func (h *AIModelHandler) SetActiveModel(c *gin.Context) {
	var req SetActiveModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	userID := middleware.GetCurrentUserID(c)
	state, _, err := models.GetOrCreateUserGptModel(database.DB, userID, models.ConsumerFastChat, time.Now())
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "操作失败"))
		return
	}

	var count int64
	if err := database.DB.Table("user_approved_models").
		Where("user_gpt_model_id = ? AND gpt_model_id = ?", state.ID, req.ModelID).
		Count(&count).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "操作失败"))
		return
	}
	if count == 0 {
		BadRequest(c, "该模型未对当前账户开放")
		return
	}

	if err := database.DB.Model(state).Update("active_model_id", req.ModelID).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "操作失败"))
		return
	}
	SuccessWithMessage(c, "设置成功", nil)
}

// SetActivePromptRequest 切换激活提示词请求
type SetActivePromptRequest struct {
	PromptID uint `json:"prompt_id" binding:"required"`
}

// SetActivePrompt 切换当前激活的提示词
// @Summary 切换激活的系统提示词
// @Tags AI聊天
// @Accept json
// @Produce json
// @Param request body SetActivePromptRequest true "提示词选择"
// @Success 200 {object} map[string]interface{} "设置成功"
// @Failure 404 {object} map[string]interface{} "提示词不存在"
// @Router /api/v1/ai-prompts/active [put]
func (h *AIModelHandler) SetActivePrompt(c *gin.Context) {
	var req SetActivePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	userID := middleware.GetCurrentUserID(c)
	state, _, err := models.GetOrCreateUserGptModel(database.DB, userID, models.ConsumerFastChat, time.Now())
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "操作失败"))
		return
	}

	var prompt models.UserPrompt
	if err := database.DB.First(&prompt, req.PromptID).Error; err != nil {
		NotFound(c, "提示词不存在")
		return
	}

	if err := database.DB.Model(state).Update("active_prompt_id", req.PromptID).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "操作失败"))
		return
	}
	SuccessWithMessage(c, "设置成功", nil)
}
