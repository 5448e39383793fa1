package api

import (
	"strconv"

	"aichat/database"
	"aichat/models"

	"github.com/gin-gonic/gin"
)

// AIPromptHandler 系统提示词处理器
type AIPromptHandler struct{}

// NewAIPromptHandler 创建系统提示词处理器
func NewAIPromptHandler() *AIPromptHandler {
	return &AIPromptHandler{}
}

// UserPromptRequest 提示词请求
type UserPromptRequest struct {
	Title      string `json:"title" binding:"required,max=28"`
	PromptText string `json:"prompt_text" binding:"required"`
	IsDefault  bool   `json:"is_default"`
	Consumer   string `json:"consumer" binding:"required,oneof=FCH REM IMG"`
}

// CreateUserPrompt 创建系统提示词
// @Summary 创建系统提示词
// @Description 新增提示词，置为默认时自动清除同来源的其它默认标记
// @Tags 后台管理-提示词
// @Accept json
// @Produce json
// @Param request body UserPromptRequest true "提示词"
// @Success 200 {object} map[string]interface{} "创建成功"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Router /admin/ai-prompts [post]
func (h *AIPromptHandler) CreateUserPrompt(c *gin.Context) {
	var req UserPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	prompt := models.UserPrompt{
		Title:      req.Title,
		PromptText: req.PromptText,
		IsDefault:  req.IsDefault,
		Consumer:   req.Consumer,
	}
	if err := prompt.SaveWithDefault(database.DB); err != nil {
		InternalError(c, SafeErrorMessage(err, "创建失败"))
		return
	}
	SuccessWithMessage(c, "创建成功", prompt)
}

// UpdateUserPrompt 更新系统提示词
// @Summary 更新系统提示词
// @Tags 后台管理-提示词
// @Accept json
// @Produce json
// @Param id path int true "提示词ID"
// @Param request body UserPromptRequest true "提示词"
// @Success 200 {object} map[string]interface{} "更新成功"
// @Failure 404 {object} map[string]interface{} "提示词不存在"
// @Router /admin/ai-prompts/{id} [put]
func (h *AIPromptHandler) UpdateUserPrompt(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}
	var req UserPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	var prompt models.UserPrompt
	if err := database.DB.First(&prompt, uint(id64)).Error; err != nil {
		NotFound(c, "提示词不存在")
		return
	}

	prompt.Title = req.Title
	prompt.PromptText = req.PromptText
	prompt.IsDefault = req.IsDefault
	prompt.Consumer = req.Consumer

	if err := prompt.SaveWithDefault(database.DB); err != nil {
		InternalError(c, SafeErrorMessage(err, "更新失败"))
		return
	}
	SuccessWithMessage(c, "更新成功", prompt)
}

// GetAllUserPrompts 获取全部系统提示词
// @Summary 获取全部系统提示词
// @Tags 后台管理-提示词
// @Produce json
// @Param consumer query string false "按来源过滤（FCH/REM/IMG）"
// @Success 200 {object} map[string]interface{} "获取成功"
// @Router /admin/ai-prompts [get]
func (h *AIPromptHandler) GetAllUserPrompts(c *gin.Context) {
	query := database.DB.Model(&models.UserPrompt{})
	if consumer := c.Query("consumer"); consumer != "" {
		query = query.Where("consumer = ?", consumer)
	}
	var list []models.UserPrompt
	if err := query.Order("consumer, id").Find(&list).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}
	Success(c, list)
}

// DeleteUserPrompt 删除系统提示词
// @Summary 删除系统提示词
// @Description 软删除提示词，默认提示词不允许删除
// @Tags 后台管理-提示词
// @Produce json
// @Param id path int true "提示词ID"
// @Success 200 {object} map[string]interface{} "删除成功"
// @Failure 400 {object} map[string]interface{} "默认提示词不允许删除"
// @Router /admin/ai-prompts/{id} [delete]
func (h *AIPromptHandler) DeleteUserPrompt(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}
	var prompt models.UserPrompt
	if err := database.DB.First(&prompt, uint(id64)).Error; err != nil {
		NotFound(c, "提示词不存在")
		return
	}
	if prompt.IsDefault {
		BadRequest(c, "默认提示词不允许删除，请先将其它提示词设为默认")
		return
	}
	if err := database.DB.Delete(&prompt).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "删除失败"))
		return
	}
	SuccessWithMessage(c, "删除成功", nil)
}
