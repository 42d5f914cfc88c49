package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 用户角色。
const (
	RoleApplicant = "applicant"
	RoleAdmin     = "admin"
)

// 职位状态。
const (
	JobPostOpen   = "open"
	JobPostClosed = "closed"
)

// 应聘记录状态。
const (
	ApplicantPending   = "pending"
	ApplicantSelection = "selection"
	ApplicantAccepted  = "accepted"
	ApplicantRejected  = "rejected"
)

// 选拔阶段与阶段状态。
const (
	StagePortfolio      = "portfolio"
	StageInterview      = "interview"
	StageMedicalCheckup = "medical_checkup"

	SelectionPending  = "pending"
	SelectionAccepted = "accepted"
	SelectionRejected = "rejected"
)

// SelectionStages 是每份应聘记录创建时固定生成的阶段集合。
var SelectionStages = []string{StagePortfolio, StageInterview, StageMedicalCheckup}

// User 表示系统中的账号信息。Phone 与 Email 全局唯一。
type User struct {
	gorm.Model
	Name        string `gorm:"size:255"`
	Phone       string `gorm:"uniqueIndex;size:32"`
	Email       string `gorm:"uniqueIndex;size:255"`
	Password    string `gorm:"size:255"`
	Role        string `gorm:"size:32;default:applicant"`
	Address     string `gorm:"size:512"`
	Description string `gorm:"size:1024"`
	PhotoURL    string `gorm:"size:512"`
	VerifiedAt  *time.Time
}

// Company 表示招聘方。通过 gorm.Model 的 DeletedAt 软删除。
type Company struct {
	gorm.Model
	Name    string `gorm:"size:255"`
	LogoURL string `gorm:"size:512"`
}

// JobCategory 表示职位类别字典。
type JobCategory struct {
	gorm.Model
	Name string `gorm:"size:255"`
}

// JobPost 表示公司发布的职位。Status 决定是否接受新的应聘。
type JobPost struct {
	gorm.Model
	CompanyID    uint           `gorm:"index"`
	Company      Company        `gorm:"constraint:OnDelete:CASCADE"`
	Status       string         `gorm:"size:32;default:open"`
	Requirements datatypes.JSON `gorm:"type:jsonb"`
	Categories   []JobPostCategory
}

// JobPostCategory 是用户实际应聘的单位：职位与类别的组合。
type JobPostCategory struct {
	gorm.Model
	JobPostID     uint        `gorm:"index"`
	JobPost       JobPost     `gorm:"constraint:OnDelete:CASCADE"`
	JobCategoryID uint        `gorm:"index"`
	JobCategory   JobCategory `gorm:"constraint:OnDelete:CASCADE"`
}

// Applicant 表示一次应聘。
// (user_id, job_post_category_id) 上的唯一索引是并发重复提交的最终防线，
// 业务层的存在性检查只是优化。
type Applicant struct {
	gorm.Model
	UserID            uint            `gorm:"index;uniqueIndex:idx_applicant_user_category"`
	User              User            `gorm:"constraint:OnDelete:CASCADE"`
	JobPostCategoryID uint            `gorm:"index;uniqueIndex:idx_applicant_user_category"`
	JobPostCategory   JobPostCategory `gorm:"constraint:OnDelete:CASCADE"`
	Status            string          `gorm:"size:32;default:pending"`
	CVURL             string          `gorm:"size:512"`
	IdentityCardURL   string          `gorm:"size:512"`
	Selections        []Selection
}

// Selection 表示应聘记录下的单个选拔阶段。
type Selection struct {
	gorm.Model
	ApplicantID uint      `gorm:"index"`
	Applicant   Applicant `gorm:"constraint:OnDelete:CASCADE"`
	Stage       string    `gorm:"size:32"`
	Status      string    `gorm:"size:32;default:pending"`
}
