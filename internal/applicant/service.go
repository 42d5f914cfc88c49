package applicant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"jobport/internal/apperr"
	"jobport/internal/database"
	"jobport/internal/pagination"
	"jobport/internal/storage"
)

// 上传约束。CV 与证件文件的类型、大小限制与旧系统一致。
var (
	CVRules = storage.Rules{
		AllowedExtensions: []string{"pdf", "doc", "docx"},
		MaxSizeMB:         10,
	}
	IdentityRules = storage.Rules{
		AllowedExtensions: []string{"jpg", "jpeg", "png", "pdf"},
		MaxSizeMB:         5,
	}
)

// 上传命名空间。
const (
	cvNamespace       = "applications/cv"
	identityNamespace = "applications/identity"
)

// NotifyChannel 是按用户分发状态变更事件的 Redis 频道，
// WebSocket 端据此订阅。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("applicant_notify:%d", userID)
}

// StatusEvent 是审批状态变更后推送给应聘者的消息体。
type StatusEvent struct {
	ApplicantID uint   `json:"applicant_id"`
	JobPostID   uint   `json:"job_post_id"`
	Status      string `json:"status"`
}

// Filter 约束应聘记录列表。
type Filter struct {
	UserID    *uint
	Status    string
	CompanyID *uint
	JobPostID *uint
}

// Service 实现应聘工作流：提交、审批与查询。
type Service struct {
	db       *gorm.DB
	uploader *storage.Uploader
	redis    redis.UniversalClient
	logger   *slog.Logger
}

// NewService 构造工作流服务。redisClient 可为 nil，此时不推送状态事件。
func NewService(db *gorm.DB, uploader *storage.Uploader, redisClient redis.UniversalClient, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       db,
		uploader: uploader,
		redis:    redisClient,
		logger:   logger,
	}
}

// Submit 创建一份应聘记录。
// 两个文件先全部通过本地校验、再全部上传成功，之后才落库；
// 应聘记录与三条选拔阶段在同一事务中创建。
// 数据库唯一索引是并发重复提交的最终防线。
func (s *Service) Submit(ctx context.Context, userID, jobPostCategoryID uint, cv, identityCard *multipart.FileHeader) (*database.Applicant, error) {
	var category database.JobPostCategory
	if err := s.db.WithContext(ctx).
		Preload("JobPost").
		First(&category, jobPostCategoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Job post category not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load job post category", err)
	}

	if category.JobPost.Status == database.JobPostClosed {
		return nil, apperr.Conflict("This job post is no longer accepting applications")
	}

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&database.Applicant{}).
		Where("user_id = ? AND job_post_category_id = ?", userID, jobPostCategoryID).
		Count(&existing).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check existing application", err)
	}
	if existing > 0 {
		return nil, apperr.Conflict("You have already applied for this position")
	}

	if err := s.uploader.Validate(cv, CVRules); err != nil {
		return nil, fileError(err)
	}
	if err := s.uploader.Validate(identityCard, IdentityRules); err != nil {
		return nil, fileError(err)
	}

	cvURL, err := s.uploader.Store(ctx, cvNamespace, cv, "", CVRules)
	if err != nil {
		return nil, fileError(err)
	}

	identityURL, err := s.uploader.Store(ctx, identityNamespace, identityCard, "", IdentityRules)
	if err != nil {
		s.cleanupBlob(cvURL)
		return nil, fileError(err)
	}

	record := database.Applicant{
		UserID:            userID,
		JobPostCategoryID: jobPostCategoryID,
		Status:            database.ApplicantPending,
		CVURL:             cvURL,
		IdentityCardURL:   identityURL,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		selections := make([]database.Selection, 0, len(database.SelectionStages))
		for _, stage := range database.SelectionStages {
			selections = append(selections, database.Selection{
				ApplicantID: record.ID,
				Stage:       stage,
				Status:      database.SelectionPending,
			})
		}
		return tx.Create(&selections).Error
	})
	if err != nil {
		s.cleanupBlob(cvURL)
		s.cleanupBlob(identityURL)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("You have already applied for this position")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create application", err)
	}

	return s.load(ctx, record.ID)
}

// Review 更新应聘记录状态。
// 除枚举成员与职位未关闭外不施加迁移规则：任意状态间的跳转都被接受。
// 是否需要禁止某些迁移是产品层面的待决问题，这里保留宽松行为。
func (s *Service) Review(ctx context.Context, applicantID uint, status string) (*database.Applicant, error) {
	if !isApplicantStatus(status) {
		return nil, apperr.Validation("Status must be one of: pending, selection, accepted, rejected")
	}

	record, err := s.load(ctx, applicantID)
	if err != nil {
		return nil, err
	}

	if record.JobPostCategory.JobPost.Status == database.JobPostClosed {
		return nil, apperr.Conflict("This job post is closed")
	}

	if err := s.db.WithContext(ctx).
		Model(&database.Applicant{}).
		Where("id = ?", applicantID).
		Update("status", status).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to update application status", err)
	}
	record.Status = status

	s.publishStatusEvent(ctx, record)

	return record, nil
}

// List 按过滤条件分页查询应聘记录。
func (s *Service) List(ctx context.Context, filter Filter, params pagination.Params) ([]database.Applicant, int64, error) {
	query := s.db.WithContext(ctx).Model(&database.Applicant{})

	if filter.UserID != nil {
		query = query.Where("applicants.user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("applicants.status = ?", filter.Status)
	}
	if filter.CompanyID != nil || filter.JobPostID != nil {
		query = query.
			Joins("JOIN job_post_categories ON job_post_categories.id = applicants.job_post_category_id").
			Joins("JOIN job_posts ON job_posts.id = job_post_categories.job_post_id")
		if filter.CompanyID != nil {
			query = query.Where("job_posts.company_id = ?", *filter.CompanyID)
		}
		if filter.JobPostID != nil {
			query = query.Where("job_posts.id = ?", *filter.JobPostID)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to count applications", err)
	}

	var items []database.Applicant
	if err := query.
		Preload("JobPostCategory.JobCategory").
		Preload("JobPostCategory.JobPost.Company").
		Preload("Selections").
		Order("applicants.id").
		Offset(params.Offset()).
		Limit(params.PerPage).
		Find(&items).Error; err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to list applications", err)
	}

	return items, total, nil
}

func (s *Service) load(ctx context.Context, applicantID uint) (*database.Applicant, error) {
	var record database.Applicant
	if err := s.db.WithContext(ctx).
		Preload("JobPostCategory.JobCategory").
		Preload("JobPostCategory.JobPost.Company").
		Preload("Selections").
		First(&record, applicantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Applicant not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load application", err)
	}
	return &record, nil
}

// cleanupBlob 尽力删除已上传但最终未入库的对象。
// 删除失败只记录日志：残留对象由周期回收任务兜底。
func (s *Service) cleanupBlob(url string) {
	if url == "" {
		return
	}
	if err := s.uploader.Delete(context.Background(), url); err != nil {
		s.logger.Warn("cleanup uploaded blob failed",
			slog.String("url", url),
			slog.Any("error", err),
		)
	}
}

func (s *Service) publishStatusEvent(ctx context.Context, record *database.Applicant) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(StatusEvent{
		ApplicantID: record.ID,
		JobPostID:   record.JobPostCategory.JobPostID,
		Status:      record.Status,
	})
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, NotifyChannel(record.UserID), payload).Err(); err != nil {
		s.logger.Warn("publish status event failed",
			slog.Uint64("applicant_id", uint64(record.ID)),
			slog.Any("error", err),
		)
	}
}

func fileError(err error) error {
	if vErr, ok := storage.AsFileValidationError(err); ok {
		return apperr.Wrap(apperr.KindValidation, vErr.Reason, err)
	}
	return apperr.Wrap(apperr.KindInternal, "file upload failed", err)
}

func isApplicantStatus(status string) bool {
	switch status {
	case database.ApplicantPending, database.ApplicantSelection,
		database.ApplicantAccepted, database.ApplicantRejected:
		return true
	}
	return false
}
