package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/viralcut/viralcut-backend/internal/http/response"
	"github.com/viralcut/viralcut-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (ah *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, 400, "invalid_request", err)
		return
	}
	user, token, err := ah.authService.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"token": token,
		"user": gin.H{
			"id":      user.ID.String(),
			"email":   user.Email,
			"credits": user.Credits,
		},
	})
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, 400, "invalid_request", err)
		return
	}
	user, token, err := ah.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"token": token,
		"user": gin.H{
			"id":      user.ID.String(),
			"email":   user.Email,
			"credits": user.Credits,
		},
	})
}
