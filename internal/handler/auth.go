package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
	"sudooom.im.ripple/pkg/jwt"
	"sudooom.im.ripple/pkg/response"
)

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
}

// SignupRequest 注册请求
type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
}

// SessionResponse 登录/注册结果
type SessionResponse struct {
	*jwt.Token
	Identity *model.Identity `json:"identity"`
}

// AuthHandler 认证处理器
type AuthHandler struct {
	client *app.Client
	jwt    *jwt.Service
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(client *app.Client, jwtService *jwt.Service) *AuthHandler {
	return &AuthHandler{client: client, jwt: jwtService}
}

// Login 登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
		return
	}

	identity, err := h.client.Session().Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.issue(c, identity)
}

// Signup 注册
func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, appErrors.CodeInvalidParams, err.Error())
		return
	}

	identity, err := h.client.Session().Signup(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.issue(c, identity)
}

// Logout 登出
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.client.Session().Logout(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Me 当前身份
func (h *AuthHandler) Me(c *gin.Context) {
	identity := h.client.Session().Current()
	if identity == nil {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	response.Success(c, identity)
}

func (h *AuthHandler) issue(c *gin.Context, identity *model.Identity) {
	token, err := h.jwt.Issue(identity.ID, identity.Email)
	if err != nil {
		response.Error(c, appErrors.ErrServerError.Wrap(err))
		return
	}
	response.Success(c, SessionResponse{Token: token, Identity: identity})
}
