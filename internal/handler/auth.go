package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/szsip239/corebridge/internal/middleware"
	"github.com/szsip239/corebridge/internal/model"
	"github.com/szsip239/corebridge/internal/pkg/response"
)

// hashRefreshToken returns a SHA-256 hex digest of the given JWT string.
// bcrypt truncates input at 72 bytes and would corrupt long JWTs.
func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AuthHandler handles admin authentication for the ops surface. There is no
// self-service registration: admin accounts are provisioned out of band, the
// way a bootstrap operator account would be for a single-endpoint bridge.
type AuthHandler struct {
	db  *gorm.DB
	jwt *middleware.JWTService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, jwt *middleware.JWTService) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt}
}

// ─── Request / Response Types ──────────────────────────

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type TokenResponse struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	User         model.UserResponse `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// ─── Handlers ──────────────────────────────────────────

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var user model.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if user.Status != model.UserStatusActive {
		response.Unauthorized(c, "account is disabled")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	accessToken, err := h.jwt.SignAccessToken(user.ID, string(user.Role))
	if err != nil {
		response.InternalError(c, "failed to generate access token")
		return
	}
	refreshToken, err := h.jwt.SignRefreshToken(user.ID)
	if err != nil {
		response.InternalError(c, "failed to generate refresh token")
		return
	}

	rt := model.RefreshToken{
		BaseModel: model.BaseModel{ID: model.GenerateID(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	h.db.Create(&rt)

	now := time.Now()
	h.db.Model(&user).Update("last_login_at", now)

	c.SetCookie("access_token", accessToken, 900, "/", "", false, true)

	response.OK(c, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.ToResponse(),
	})
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		response.Unauthorized(c, "invalid refresh token")
		return
	}

	tokenHash := hashRefreshToken(req.RefreshToken)
	var rt model.RefreshToken
	err = h.db.Where("user_id = ? AND token_hash = ? AND expires_at > ?",
		claims.UserID, tokenHash, time.Now()).First(&rt).Error
	if err != nil {
		response.Unauthorized(c, "refresh token not found or expired")
		return
	}
	h.db.Delete(&rt)

	var user model.User
	if err := h.db.First(&user, "id = ?", claims.UserID).Error; err != nil {
		response.Unauthorized(c, "user not found")
		return
	}

	accessToken, _ := h.jwt.SignAccessToken(user.ID, string(user.Role))
	newRefreshToken, _ := h.jwt.SignRefreshToken(user.ID)

	newRt := model.RefreshToken{
		BaseModel: model.BaseModel{ID: model.GenerateID(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		UserID:    user.ID,
		TokenHash: hashRefreshToken(newRefreshToken),
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	h.db.Create(&newRt)

	c.SetCookie("access_token", accessToken, 900, "/", "", false, true)

	response.OK(c, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		User:         user.ToResponse(),
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	h.db.Where("user_id = ?", userID).Delete(&model.RefreshToken{})
	c.SetCookie("access_token", "", -1, "/", "", false, true)
	response.OK(c, nil)
}

// GetMe handles GET /api/v1/auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var user model.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}

	response.OK(c, user.ToResponse())
}

// RegisterRoutes registers all auth routes on the given router group.
func (h *AuthHandler) RegisterRoutes(public, protected *gin.RouterGroup) {
	auth := public.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
	}

	authProtected := protected.Group("/auth")
	{
		authProtected.POST("/logout", h.Logout)
		authProtected.GET("/me", h.GetMe)
	}
}
