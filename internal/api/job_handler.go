package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jobport/internal/api/middleware"
	"jobport/internal/applicant"
	"jobport/internal/database"
	"jobport/internal/pagination"
)

// JobHandler 负责职位目录查询与应聘工作流相关端点。
type JobHandler struct {
	db      *gorm.DB
	service *applicant.Service
	logger  *slog.Logger
}

// NewJobHandler 构造职位处理器。
func NewJobHandler(db *gorm.DB, service *applicant.Service, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{db: db, service: service, logger: logger}
}

type companyResponse struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo_url"`
}

type jobCategoryResponse struct {
	ID            uint   `json:"id"`
	JobCategoryID uint   `json:"job_category_id"`
	Name          string `json:"name"`
}

type jobPostResponse struct {
	ID           uint                  `json:"id"`
	Status       string                `json:"status"`
	Requirements datatypes.JSON        `json:"requirements,omitempty"`
	Company      companyResponse       `json:"company"`
	Categories   []jobCategoryResponse `json:"categories"`
	CreatedAt    time.Time             `json:"created_at"`
}

func newJobPostResponse(post database.JobPost) jobPostResponse {
	categories := make([]jobCategoryResponse, 0, len(post.Categories))
	for _, category := range post.Categories {
		categories = append(categories, jobCategoryResponse{
			ID:            category.ID,
			JobCategoryID: category.JobCategoryID,
			Name:          category.JobCategory.Name,
		})
	}
	return jobPostResponse{
		ID:           post.ID,
		Status:       post.Status,
		Requirements: post.Requirements,
		Company: companyResponse{
			ID:      post.Company.ID,
			Name:    post.Company.Name,
			LogoURL: post.Company.LogoURL,
		},
		Categories: categories,
		CreatedAt:  post.CreatedAt,
	}
}

type selectionResponse struct {
	ID     uint   `json:"id"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

type applicationResponse struct {
	ID              uint                `json:"id"`
	Status          string              `json:"status"`
	CVURL           string              `json:"cv_url"`
	IdentityCardURL string              `json:"identity_card_url"`
	Category        jobCategoryResponse `json:"category"`
	JobPost         jobPostResponse     `json:"job_post"`
	Selections      []selectionResponse `json:"selections"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newApplicationResponse(record database.Applicant) applicationResponse {
	selections := make([]selectionResponse, 0, len(record.Selections))
	for _, selection := range record.Selections {
		selections = append(selections, selectionResponse{
			ID:     selection.ID,
			Stage:  selection.Stage,
			Status: selection.Status,
		})
	}
	return applicationResponse{
		ID:              record.ID,
		Status:          record.Status,
		CVURL:           record.CVURL,
		IdentityCardURL: record.IdentityCardURL,
		Category: jobCategoryResponse{
			ID:            record.JobPostCategory.ID,
			JobCategoryID: record.JobPostCategory.JobCategoryID,
			Name:          record.JobPostCategory.JobCategory.Name,
		},
		JobPost:    newJobPostResponse(record.JobPostCategory.JobPost),
		Selections: selections,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

// ListJobs 分页返回职位（含公司与类别）。默认每页 10 条。
func (h *JobHandler) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()
	params := pagination.ParseParams(c.Query("page"), c.Query("per_page"), pagination.DefaultJobPerPage)

	query := h.db.WithContext(ctx).Model(&database.JobPost{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("count job posts failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var posts []database.JobPost
	if err := query.
		Preload("Company").
		Preload("Categories.JobCategory").
		Order("job_posts.id").
		Offset(params.Offset()).
		Limit(params.PerPage).
		Find(&posts).Error; err != nil {
		h.logger.Error("list job posts failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	data := make([]jobPostResponse, 0, len(posts))
	for _, post := range posts {
		data = append(data, newJobPostResponse(post))
	}

	Success(c, http.StatusOK, pagination.New(data, total, params, c.Request.URL.Path), "OK")
}

// GetJob 返回单个职位详情。
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid job post id")
		return
	}

	var post database.JobPost
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Company").
		Preload("Categories.JobCategory").
		First(&post, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Fail(c, http.StatusNotFound, "Job post not found")
			return
		}
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	Success(c, http.StatusOK, newJobPostResponse(post), "OK")
}

// ListCompanies 返回未被软删除、且至少有一个开放职位的公司。
func (h *JobHandler) ListCompanies(c *gin.Context) {
	ctx := c.Request.Context()
	params := pagination.ParseParams(c.Query("page"), c.Query("per_page"), pagination.DefaultPerPage)

	openPosts := h.db.WithContext(ctx).
		Model(&database.JobPost{}).
		Select("company_id").
		Where("status = ?", database.JobPostOpen)

	query := h.db.WithContext(ctx).
		Model(&database.Company{}).
		Where("id IN (?)", openPosts)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("count companies failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var companies []database.Company
	if err := query.
		Order("companies.id").
		Offset(params.Offset()).
		Limit(params.PerPage).
		Find(&companies).Error; err != nil {
		h.logger.Error("list companies failed", slog.Any("error", err))
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	data := make([]companyResponse, 0, len(companies))
	for _, company := range companies {
		data = append(data, companyResponse{
			ID:      company.ID,
			Name:    company.Name,
			LogoURL: company.LogoURL,
		})
	}

	Success(c, http.StatusOK, pagination.New(data, total, params, c.Request.URL.Path), "OK")
}

// History 返回调用方自己的应聘记录。
func (h *JobHandler) History(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, "No token provided")
		return
	}

	params := pagination.ParseParams(c.Query("page"), c.Query("per_page"), pagination.DefaultPerPage)
	userID := identity.UserID
	filter := applicant.Filter{UserID: &userID, Status: c.Query("status")}

	items, total, err := h.service.List(c.Request.Context(), filter, params)
	if err != nil {
		FromError(c, err)
		return
	}

	data := make([]applicationResponse, 0, len(items))
	for _, item := range items {
		data = append(data, newApplicationResponse(item))
	}

	Success(c, http.StatusOK, pagination.New(data, total, params, c.Request.URL.Path), "OK")
}

// Apply 提交应聘：multipart 携带 cv 与 national_identity_card 两个文件。
// 路径参数是被应聘的职位类别。
func (h *JobHandler) Apply(c *gin.Context) {
	identity, ok := middleware.Identity(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, "No token provided")
		return
	}

	categoryID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid job post category id")
		return
	}

	cv, err := c.FormFile("cv")
	if err != nil {
		FailValidation(c, map[string]string{"cv": "cv is required"})
		return
	}
	identityCard, err := c.FormFile("national_identity_card")
	if err != nil {
		FailValidation(c, map[string]string{"national_identity_card": "national_identity_card is required"})
		return
	}

	record, err := h.service.Submit(c.Request.Context(), identity.UserID, uint(categoryID), cv, identityCard)
	if err != nil {
		FromError(c, err)
		return
	}

	Success(c, http.StatusCreated, newApplicationResponse(*record), "Application submitted")
}

type approvalRequest struct {
	Status string `json:"status" binding:"required"`
}

// Approval 审批一条应聘记录。路由层已限制为管理员。
func (h *JobHandler) Approval(c *gin.Context) {
	applicantID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid applicant id")
		return
	}

	var req approvalRequest
	if !bindJSON(c, &req) {
		return
	}

	record, err := h.service.Review(c.Request.Context(), uint(applicantID), req.Status)
	if err != nil {
		FromError(c, err)
		return
	}

	Success(c, http.StatusOK, newApplicationResponse(*record), "Application reviewed")
}

// Applicants 返回某职位下的应聘记录，供管理员审阅。
func (h *JobHandler) Applicants(c *gin.Context) {
	jobPostID64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid job post id")
		return
	}

	params := pagination.ParseParams(c.Query("page"), c.Query("per_page"), pagination.DefaultPerPage)
	jobPostID := uint(jobPostID64)
	filter := applicant.Filter{JobPostID: &jobPostID, Status: c.Query("status")}
	if companyIDRaw := c.Query("company_id"); companyIDRaw != "" {
		if companyID64, err := strconv.ParseUint(companyIDRaw, 10, 64); err == nil {
			companyID := uint(companyID64)
			filter.CompanyID = &companyID
		}
	}

	items, total, err := h.service.List(c.Request.Context(), filter, params)
	if err != nil {
		FromError(c, err)
		return
	}

	data := make([]applicationResponse, 0, len(items))
	for _, item := range items {
		data = append(data, newApplicationResponse(item))
	}

	Success(c, http.StatusOK, pagination.New(data, total, params, c.Request.URL.Path), "OK")
}
