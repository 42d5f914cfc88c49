package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"jobport/internal/database"
	"jobport/internal/storage"
	"jobport/internal/tasks"
)

// 回收只处理这些前缀下的对象，避免误删其它用途的数据。
var reconcilePrefixes = []string{
	"applications/cv/",
	"applications/identity/",
	"profiles/photo/",
}

// objectStore 抽象回收所需的存储操作。生产实现是 *storage.Client。
type objectStore interface {
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectMeta, error)
	DeleteObject(ctx context.Context, objectKey string) error
	ObjectKeyFromURL(rawURL string) (string, bool)
}

// BlobTaskHandler 处理存储侧的后台任务：
// 延迟清理指定对象，以及周期性回收无人引用的孤儿对象。
// 上传与落库不在同一事务里，崩溃可能留下孤儿对象，回收是兜底手段。
type BlobTaskHandler struct {
	db          *gorm.DB
	store       objectStore
	logger      *slog.Logger
	gracePeriod time.Duration
}

// NewBlobTaskHandler 构造处理器。gracePeriod 内的新对象不会被回收，
// 防止删掉正在进行的上传。
func NewBlobTaskHandler(db *gorm.DB, store objectStore, logger *slog.Logger, gracePeriod time.Duration) *BlobTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if gracePeriod <= 0 {
		gracePeriod = time.Hour
	}
	return &BlobTaskHandler{
		db:          db,
		store:       store,
		logger:      logger,
		gracePeriod: gracePeriod,
	}
}

// ProcessPurge 删除指定对象。对象不存在也算成功（幂等）。
func (h *BlobTaskHandler) ProcessPurge(ctx context.Context, task *asynq.Task) error {
	var payload tasks.BlobPurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode purge payload: %w", err)
	}
	if payload.ObjectKey == "" {
		return nil
	}

	if err := h.store.DeleteObject(ctx, payload.ObjectKey); err != nil {
		return fmt.Errorf("purge object %q: %w", payload.ObjectKey, err)
	}

	h.logger.Info("purged object", slog.String("object_key", payload.ObjectKey))
	return nil
}

// ProcessReconcile 扫描托管前缀，删除数据库中无引用且超过宽限期的对象。
func (h *BlobTaskHandler) ProcessReconcile(ctx context.Context, _ *asynq.Task) error {
	referenced, err := h.referencedKeys(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-h.gracePeriod)
	removed := 0

	for _, prefix := range reconcilePrefixes {
		objects, err := h.store.ListObjects(ctx, prefix)
		if err != nil {
			return fmt.Errorf("list %q: %w", prefix, err)
		}
		for _, object := range objects {
			if object.LastModified.After(cutoff) {
				continue
			}
			if _, ok := referenced[object.Key]; ok {
				continue
			}
			if err := h.store.DeleteObject(ctx, object.Key); err != nil {
				h.logger.Warn("delete orphaned object failed",
					slog.String("object_key", object.Key),
					slog.Any("error", err),
				)
				continue
			}
			removed++
		}
	}

	h.logger.Info("storage reconcile finished", slog.Int("removed", removed))
	return nil
}

// referencedKeys 收集数据库中仍被引用的对象 Key。
func (h *BlobTaskHandler) referencedKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	addURL := func(rawURL string) {
		if rawURL == "" {
			return
		}
		if key, ok := h.store.ObjectKeyFromURL(rawURL); ok {
			keys[key] = struct{}{}
		}
	}

	var applicants []database.Applicant
	if err := h.db.WithContext(ctx).
		Select("cv_url", "identity_card_url").
		Find(&applicants).Error; err != nil {
		return nil, fmt.Errorf("load applicant urls: %w", err)
	}
	for _, record := range applicants {
		addURL(record.CVURL)
		addURL(record.IdentityCardURL)
	}

	var users []database.User
	if err := h.db.WithContext(ctx).
		Select("photo_url").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load user photo urls: %w", err)
	}
	for _, user := range users {
		addURL(user.PhotoURL)
	}

	return keys, nil
}
