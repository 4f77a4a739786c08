package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/config"
	"github.com/teamflowhq/teamflow/internal/middleware"
	"github.com/teamflowhq/teamflow/internal/models"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/response"
	"gorm.io/gorm"
)

// AuthHandler issues and introspects access tokens.
type AuthHandler struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login authenticates by email and password. The issued token carries
// the user's current team ids so team authorization needs no DB lookup.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var user models.User
	if err := h.db.First(&user, "email = ?", req.Email).Error; err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.PreferredName, user.Tms, h.cfg.JWT.ExpireHour)
	if err != nil {
		response.ServerError(c, "failed to generate token")
		return
	}

	now := time.Now()
	h.db.Model(&models.User{}).Where("id = ?", user.ID).Update("last_login", now)

	response.Success(c, LoginResponse{Token: token, User: &user})
}

// Me returns the authenticated user record.
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var user models.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}

	response.Success(c, &user)
}
