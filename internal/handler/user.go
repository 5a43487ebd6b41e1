package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/middleware"
	"sudooom.im.ripple/pkg/response"
)

// UserHandler 用户目录（仅管理员）
type UserHandler struct {
	client *app.Client
}

// NewUserHandler 创建用户处理器
func NewUserHandler(client *app.Client) *UserHandler {
	return &UserHandler{client: client}
}

// Directory 全部用户，按显示名排序
func (h *UserHandler) Directory(c *gin.Context) {
	users, err := h.client.Directory().List(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, users)
}
