package middleware

import (
	"net/http"

	"aichat/database"
	"aichat/models"

	"github.com/gin-gonic/gin"
)

// AdminPermissionMiddleware 后台管理接口权限校验中间件
// 需在 JWTAuth 之后使用，仅放行 is_admin=true 的账户
func AdminPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetCurrentUserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "请先登录",
			})
			c.Abort()
			return
		}

		var user models.User
		if err := database.DB.First(&user, userID).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "用户不存在",
			})
			c.Abort()
			return
		}

		if !user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    403,
				"message": "权限不足",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
