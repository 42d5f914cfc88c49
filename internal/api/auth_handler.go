package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobport/internal/api/middleware"
	"jobport/internal/auth"
	"jobport/internal/database"
	"jobport/internal/storage"
)

// 头像上传约束。
var profilePhotoRules = storage.Rules{
	AllowedExtensions: []string{"jpg", "jpeg", "png"},
	MaxSizeMB:         5,
}

const profilePhotoNamespace = "profiles/photo"

// AuthHandler 处理注册、登录与个人资料。
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	uploader              *storage.Uploader
	redis                 redis.UniversalClient
	logger                *slog.Logger
	loginRateLimitPerHour int
	loginLockThreshold    int
	loginLockTTL          time.Duration
}

// NewAuthHandler 构造认证处理器。redisClient 为 nil 时登录保护退化为放行。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, uploader *storage.Uploader, redisClient redis.UniversalClient, logger *slog.Logger, loginRateLimitPerHour, loginLockThreshold int, loginLockTTL time.Duration) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		uploader:              uploader,
		redis:                 redisClient,
		logger:                logger,
		loginRateLimitPerHour: loginRateLimitPerHour,
		loginLockThreshold:    loginLockThreshold,
		loginLockTTL:          loginLockTTL,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Phone    string `json:"phone" binding:"required,min=8,max=32"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// Register 创建新用户账号，默认角色为 applicant。
// 邮箱与手机号分别检查唯一性，先冲突者决定返回消息。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.String("email", req.Email))

	var count int64
	if err := h.db.WithContext(ctx).Model(&database.User{}).
		Where("email = ?", req.Email).Count(&count).Error; err != nil {
		logger.Error("register email lookup failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if count > 0 {
		logger.Info("register conflict: email already exists")
		Fail(c, http.StatusBadRequest, "Email already exists")
		return
	}

	if err := h.db.WithContext(ctx).Model(&database.User{}).
		Where("phone = ?", req.Phone).Count(&count).Error; err != nil {
		logger.Error("register phone lookup failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if count > 0 {
		logger.Info("register conflict: phone already exists")
		Fail(c, http.StatusBadRequest, "Phone number already exists")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := database.User{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Password: hashed,
		Role:     database.RoleApplicant,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Fail(c, http.StatusBadRequest, "Email or phone number already exists")
			return
		}
		logger.Error("create user failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	Success(c, http.StatusCreated, newUserResponse(user), "Registration successful")
}

type loginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Login 按手机号查找用户并校验口令，签发限时凭证。
// 未知手机号与口令错误返回不同的结果。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.String("phone", req.Phone))

	if !h.allowLoginAttempt(ctx, c.ClientIP(), req.Phone) {
		Fail(c, http.StatusTooManyRequests, "Too many login attempts, try again later")
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("phone = ?", req.Phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			h.recordLoginFailure(ctx, req.Phone)
			Fail(c, http.StatusNotFound, "User not found")
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.Password) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		h.recordLoginFailure(ctx, req.Phone)
		Fail(c, http.StatusUnauthorized, "Incorrect password")
		return
	}

	h.clearLoginFailures(ctx, req.Phone)

	token, err := h.authService.GenerateToken(auth.Identity{
		UserID: user.ID,
		Name:   user.Name,
		Phone:  user.Phone,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		logger.Error("generate token failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	Success(c, http.StatusOK, loginResponse{Token: token, Role: user.Role}, "Login successful")
}

// Profile 返回当前调用方的最新用户记录。
func (h *AuthHandler) Profile(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, "No token provided")
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, identity.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "User not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	Success(c, http.StatusOK, newUserResponse(user), "OK")
}

// UpdateProfile 更新个人资料。照片上传后替换旧对象。
// 仅允许本人（或管理员）更新。
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, "No token provided")
		return
	}

	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid user id")
		return
	}
	if uint(targetID) != identity.UserID && identity.Role != database.RoleAdmin {
		Fail(c, http.StatusForbidden, "You are not allowed to perform this action")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", targetID))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, uint(targetID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "User not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	updates := map[string]any{}
	if name, ok := c.GetPostForm("name"); ok && strings.TrimSpace(name) != "" {
		updates["name"] = strings.TrimSpace(name)
	}
	if address, ok := c.GetPostForm("address"); ok {
		updates["address"] = strings.TrimSpace(address)
	}
	if description, ok := c.GetPostForm("description"); ok {
		updates["description"] = strings.TrimSpace(description)
	}

	if photo, err := c.FormFile("photo"); err == nil && photo != nil {
		photoURL, err := h.uploader.Store(ctx, profilePhotoNamespace, photo, user.PhotoURL, profilePhotoRules)
		if err != nil {
			if vErr, ok := storage.AsFileValidationError(err); ok {
				Fail(c, http.StatusBadRequest, vErr.Reason)
				return
			}
			logger.Error("store profile photo failed", slog.Any("error", err))
			Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		updates["photo_url"] = photoURL
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			logger.Error("update profile failed", slog.Any("error", err))
			Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if err := h.db.WithContext(ctx).First(&user, user.ID).Error; err != nil {
			Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	Success(c, http.StatusOK, newUserResponse(user), "Profile updated")
}

// 登录保护：每 IP+手机号 每小时限流，连续失败后临时锁定。
// Redis 不可用时放行，不以可用性换安全。
func (h *AuthHandler) allowLoginAttempt(ctx context.Context, ip, phone string) bool {
	if h.redis == nil {
		return true
	}

	if ttl, err := h.redis.TTL(ctx, loginLockKey(phone)).Result(); err == nil && ttl > 0 {
		return false
	}

	if h.loginRateLimitPerHour <= 0 {
		return true
	}
	count, err := incrWithTTL(ctx, h.redis, loginRateKey(ip, phone, time.Now()), time.Hour)
	if err != nil {
		return true
	}
	return count <= int64(h.loginRateLimitPerHour)
}

func (h *AuthHandler) recordLoginFailure(ctx context.Context, phone string) {
	if h.redis == nil || h.loginLockThreshold <= 0 {
		return
	}
	count, err := incrWithTTL(ctx, h.redis, loginFailKey(phone), h.loginLockTTL)
	if err != nil {
		return
	}
	if count >= int64(h.loginLockThreshold) {
		_ = h.redis.Set(ctx, loginLockKey(phone), "1", h.loginLockTTL).Err()
	}
}

func (h *AuthHandler) clearLoginFailures(ctx context.Context, phone string) {
	if h.redis == nil {
		return
	}
	_ = h.redis.Del(ctx, loginFailKey(phone)).Err()
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	return h.logger
}

// userResponse 是对外暴露的用户视图，永远不包含密码哈希。
type userResponse struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Address     string     `json:"address"`
	Description string     `json:"description"`
	PhotoURL    string     `json:"photo_url"`
	VerifiedAt  *time.Time `json:"verified_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newUserResponse(user database.User) userResponse {
	return userResponse{
		ID:          user.ID,
		Name:        user.Name,
		Phone:       user.Phone,
		Email:       user.Email,
		Role:        user.Role,
		Address:     user.Address,
		Description: user.Description,
		PhotoURL:    user.PhotoURL,
		VerifiedAt:  user.VerifiedAt,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}
