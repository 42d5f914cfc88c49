package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobport/internal/api/middleware"
	"jobport/internal/auth"
	"jobport/internal/database"
	"jobport/internal/pagination"
)

// UserHandler 提供管理员维度的用户目录 CRUD。
type UserHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewUserHandler 构造用户目录处理器。
func NewUserHandler(db *gorm.DB, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{db: db, logger: logger}
}

// List 分页返回用户，支持在姓名/邮箱/手机号上模糊搜索与角色过滤。
func (h *UserHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	params := pagination.ParseParams(c.Query("page"), c.Query("per_page"), pagination.DefaultPerPage)

	query := h.db.WithContext(ctx).Model(&database.User{})
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("name LIKE ? OR email LIKE ? OR phone LIKE ?", pattern, pattern, pattern)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("count users failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var users []database.User
	if err := query.
		Order("users.id").
		Offset(params.Offset()).
		Limit(params.PerPage).
		Find(&users).Error; err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	data := make([]userResponse, 0, len(users))
	for _, user := range users {
		data = append(data, newUserResponse(user))
	}

	Success(c, http.StatusOK, pagination.New(data, total, params, c.Request.URL.Path), "OK")
}

// Get 按 ID 返回单个用户。
func (h *UserHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid user id")
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "User not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	Success(c, http.StatusOK, newUserResponse(user), "OK")
}

type createUserRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Phone    string `json:"phone" binding:"required,min=8,max=32"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Role     string `json:"role" binding:"required,oneof=applicant admin"`
}

// Create 新增用户，邮箱与手机号需全局唯一。
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()

	if msg, err := h.uniquenessConflict(ctx, req.Email, req.Phone, 0); err != nil {
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	} else if msg != "" {
		Fail(c, http.StatusBadRequest, msg)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := database.User{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Password: hashed,
		Role:     req.Role,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Fail(c, http.StatusBadRequest, "Email or phone number already exists")
			return
		}
		h.logger.Error("create user failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	Success(c, http.StatusCreated, newUserResponse(user), "User created")
}

type updateUserRequest struct {
	Name     string `json:"name" binding:"omitempty,max=255"`
	Phone    string `json:"phone" binding:"omitempty,min=8,max=32"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"omitempty,min=6,max=72"`
	Role     string `json:"role" binding:"omitempty,oneof=applicant admin"`
	Address  string `json:"address" binding:"omitempty,max=512"`
}

// Update 更新用户记录，唯一性检查排除自身。
// 提供新密码时以原生标记重新哈希。
func (h *UserHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid user id")
		return
	}

	var req updateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "User not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	email := user.Email
	if req.Email != "" {
		email = req.Email
	}
	phone := user.Phone
	if req.Phone != "" {
		phone = req.Phone
	}
	if msg, err := h.uniquenessConflict(ctx, email, phone, user.ID); err != nil {
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	} else if msg != "" {
		Fail(c, http.StatusBadRequest, msg)
		return
	}

	updates := map[string]any{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Phone != "" {
		updates["phone"] = req.Phone
	}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.Role != "" {
		updates["role"] = req.Role
	}
	if req.Address != "" {
		updates["address"] = req.Address
	}
	if req.Password != "" {
		hashed, err := auth.HashPassword(req.Password)
		if err != nil {
			h.logger.Error("hash password failed", slog.Any("error", err))
			Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		updates["password"] = hashed
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				Fail(c, http.StatusBadRequest, "Email or phone number already exists")
				return
			}
			h.logger.Error("update user failed", slog.Any("error", err))
			Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if err := h.db.WithContext(ctx).First(&user, user.ID).Error; err != nil {
			Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	Success(c, http.StatusOK, newUserResponse(user), "User updated")
}

// Delete 硬删除用户。管理员不能删除自己。
func (h *UserHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid user id")
		return
	}

	if identity, ok := middleware.Identity(c); ok && identity.UserID == uint(id) {
		Fail(c, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	ctx := c.Request.Context()

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "User not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.db.WithContext(ctx).Unscoped().Delete(&user).Error; err != nil {
		h.logger.Error("delete user failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	Success(c, http.StatusOK, nil, "User deleted")
}

// uniquenessConflict 检查邮箱与手机号是否已被占用，返回冲突消息；
// excludeID 非零时排除该用户自身。
func (h *UserHandler) uniquenessConflict(ctx context.Context, email, phone string, excludeID uint) (string, error) {
	var count int64

	emailQuery := h.db.WithContext(ctx).Model(&database.User{}).Where("email = ?", email)
	if excludeID != 0 {
		emailQuery = emailQuery.Where("id <> ?", excludeID)
	}
	if err := emailQuery.Count(&count).Error; err != nil {
		h.logger.Error("email uniqueness lookup failed", slog.Any("error", err))
		return "", err
	}
	if count > 0 {
		return "Email already exists", nil
	}

	phoneQuery := h.db.WithContext(ctx).Model(&database.User{}).Where("phone = ?", phone)
	if excludeID != 0 {
		phoneQuery = phoneQuery.Where("id <> ?", excludeID)
	}
	if err := phoneQuery.Count(&count).Error; err != nil {
		h.logger.Error("phone uniqueness lookup failed", slog.Any("error", err))
		return "", err
	}
	if count > 0 {
		return "Phone number already exists", nil
	}

	return "", nil
}
