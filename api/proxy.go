package api

import (
	"strconv"

	"aichat/database"
	"aichat/models"

	"github.com/gin-gonic/gin"
)

// ProxyHandler 出口代理配置处理器
type ProxyHandler struct{}

// NewProxyHandler 创建出口代理配置处理器
func NewProxyHandler() *ProxyHandler {
	return &ProxyHandler{}
}

// ProxyRequest 代理配置请求
type ProxyRequest struct {
	Title         string `json:"title" binding:"required,max=20"`
	ProxySocks    string `json:"proxy_socks" binding:"max=400"`
	ProxyHTTP     string `json:"proxy_http" binding:"max=400"`
	ProxyUsername string `json:"proxy_username" binding:"max=200"`
	ProxyPassword string `json:"proxy_password" binding:"max=200"`
}

// CreateProxy 创建代理配置
// @Summary 创建出口代理配置
// @Description 新增模型请求的出口代理，SOCKS5 与 HTTP 至少填写一个
// @Tags 后台管理-代理
// @Accept json
// @Produce json
// @Param request body ProxyRequest true "代理配置"
// @Success 200 {object} map[string]interface{} "创建成功"
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Router /admin/proxies [post]
func (h *ProxyHandler) CreateProxy(c *gin.Context) {
	var req ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}
	if req.ProxySocks == "" && req.ProxyHTTP == "" {
		BadRequest(c, "SOCKS5 与 HTTP 代理地址至少填写一个")
		return
	}

	proxy := models.Proxy{
		Title:         req.Title,
		ProxySocks:    req.ProxySocks,
		ProxyHTTP:     req.ProxyHTTP,
		ProxyUsername: req.ProxyUsername,
		ProxyPassword: req.ProxyPassword,
	}
	if err := database.DB.Create(&proxy).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "创建失败"))
		return
	}
	SuccessWithMessage(c, "创建成功", proxy)
}

// UpdateProxy 更新代理配置
// @Summary 更新出口代理配置
// @Tags 后台管理-代理
// @Accept json
// @Produce json
// @Param id path int true "代理ID"
// @Param request body ProxyRequest true "代理配置"
// @Success 200 {object} map[string]interface{} "更新成功"
// @Failure 404 {object} map[string]interface{} "代理不存在"
// @Router /admin/proxies/{id} [put]
func (h *ProxyHandler) UpdateProxy(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}
	var req ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	var proxy models.Proxy
	if err := database.DB.First(&proxy, uint(id64)).Error; err != nil {
		NotFound(c, "代理不存在")
		return
	}

	proxy.Title = req.Title
	proxy.ProxySocks = req.ProxySocks
	proxy.ProxyHTTP = req.ProxyHTTP
	if req.ProxyUsername != "" {
		proxy.ProxyUsername = req.ProxyUsername
	}
	if req.ProxyPassword != "" {
		proxy.ProxyPassword = req.ProxyPassword
	}

	if err := database.DB.Save(&proxy).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "更新失败"))
		return
	}
	SuccessWithMessage(c, "更新成功", proxy)
}

// GetAllProxies 获取全部代理配置
// @Summary 获取全部出口代理配置
// @Tags 后台管理-代理
// @Produce json
// @Success 200 {object} map[string]interface{} "获取成功"
// @Router /admin/proxies [get]
func (h *ProxyHandler) GetAllProxies(c *gin.Context) {
	var list []models.Proxy
	if err := database.DB.Order("id").Find(&list).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}
	Success(c, list)
}

// DeleteProxy 删除代理配置
// @Summary 删除出口代理配置
// @Description 软删除代理配置，被模型引用的代理不允许删除
// @Tags 后台管理-代理
// @Produce json
// @Param id path int true "代理ID"
// @Success 200 {object} map[string]interface{} "删除成功"
// @Failure 400 {object} map[string]interface{} "代理仍被引用"
// @Router /admin/proxies/{id} [delete]
func (h *ProxyHandler) DeleteProxy(c *gin.Context) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的ID")
		return
	}
	var proxy models.Proxy
	if err := database.DB.First(&proxy, uint(id64)).Error; err != nil {
		NotFound(c, "代理不存在")
		return
	}

	var count int64
	database.DB.Model(&models.GptModel{}).Where("proxy_id = ?", proxy.ID).Count(&count)
	if count > 0 {
		BadRequest(c, "该代理仍被模型配置引用，不允许删除")
		return
	}

	if err := database.DB.Delete(&proxy).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "删除失败"))
		return
	}
	SuccessWithMessage(c, "删除成功", nil)
}
