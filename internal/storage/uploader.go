package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/dutchcoders/go-clamd"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"jobport/internal/tasks"
)

// BlobBackend 抽象对象存储，便于测试替换。*Client 是生产实现。
type BlobBackend interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	DeleteObject(ctx context.Context, objectKey string) error
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	ObjectURL(objectKey string) string
	ObjectKeyFromURL(rawURL string) (string, bool)
}

// Rules 描述单次上传的校验约束。大小以 MB 计，比较使用严格大于/小于。
type Rules struct {
	AllowedExtensions []string
	MaxSizeMB         float64
	MinSizeMB         float64
}

// Uploader 实现校验-替换-存储流水线。
// 所有失败（包括底层存储错误）都以 *FileValidationError 暴露。
type Uploader struct {
	backend     BlobBackend
	clamdAddr   string
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewUploader 构造上传流水线。clamdAddr 为空则跳过病毒扫描；
// asynqClient 为 nil 则替换失败的旧对象不做延迟清理。
func NewUploader(backend BlobBackend, clamdAddr string, asynqClient *asynq.Client, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		backend:     backend,
		clamdAddr:   clamdAddr,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

// Validate 只做本地校验，不接触远端存储。
func (u *Uploader) Validate(file *multipart.FileHeader, rules Rules) error {
	if file == nil {
		return validationErr("File is required")
	}

	ext := fileExtension(file.Filename)
	if ext == "" {
		return validationErr("File has no extension")
	}

	allowed := false
	for _, candidate := range rules.AllowedExtensions {
		if strings.EqualFold(candidate, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return validationErr(fmt.Sprintf(
			"File type .%s is not allowed, must be one of: %s",
			ext, strings.Join(rules.AllowedExtensions, ", "),
		))
	}

	if rules.MaxSizeMB > 0 && float64(file.Size) > rules.MaxSizeMB*1024*1024 {
		return validationErr(fmt.Sprintf("File size exceeds the %gMB limit", rules.MaxSizeMB))
	}
	if rules.MinSizeMB > 0 && float64(file.Size) < rules.MinSizeMB*1024*1024 {
		return validationErr(fmt.Sprintf("File size is below the %gMB minimum", rules.MinSizeMB))
	}

	return nil
}

// Store 校验并上传文件，返回公开访问 URL。
// replaceURL 非空时先尽力删除旧对象；删除失败不阻塞本次上传，
// 改为入队延迟清理任务。
func (u *Uploader) Store(ctx context.Context, namespace string, file *multipart.FileHeader, replaceURL string, rules Rules) (string, error) {
	if err := u.Validate(file, rules); err != nil {
		return "", err
	}

	if u.clamdAddr != "" {
		if err := u.scan(file); err != nil {
			return "", err
		}
	}

	if replaceURL != "" {
		u.deleteReplaced(ctx, replaceURL)
	}

	ext := fileExtension(file.Filename)
	objectKey := fmt.Sprintf("%s/%s.%s", strings.Trim(namespace, "/"), uuid.NewString(), ext)

	reader, err := file.Open()
	if err != nil {
		return "", wrapStorageErr("Failed to read uploaded file", err)
	}
	defer reader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := u.backend.UploadFile(ctx, objectKey, reader, file.Size, contentType); err != nil {
		return "", wrapStorageErr("Failed to store uploaded file", err)
	}

	return u.backend.ObjectURL(objectKey), nil
}

// Delete 按公开 URL 删除对象。对象不存在视为成功。
func (u *Uploader) Delete(ctx context.Context, rawURL string) error {
	key, ok := u.backend.ObjectKeyFromURL(rawURL)
	if !ok {
		return nil
	}
	if err := u.backend.DeleteObject(ctx, key); err != nil {
		return wrapStorageErr("Failed to delete stored file", err)
	}
	return nil
}

func (u *Uploader) deleteReplaced(ctx context.Context, replaceURL string) {
	key, ok := u.backend.ObjectKeyFromURL(replaceURL)
	if !ok {
		return
	}

	exists, err := u.backend.ObjectExists(ctx, key)
	if err != nil || !exists {
		return
	}

	if err := u.backend.DeleteObject(ctx, key); err != nil {
		u.logger.Warn("delete replaced object failed, deferring purge",
			slog.String("object_key", key),
			slog.Any("error", err),
		)
		u.deferPurge(key)
	}
}

func (u *Uploader) deferPurge(objectKey string) {
	if u.asynqClient == nil {
		return
	}
	task, err := tasks.NewBlobPurgeTask(objectKey)
	if err != nil {
		u.logger.Error("build purge task failed", slog.Any("error", err))
		return
	}
	if _, err := u.asynqClient.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		u.logger.Error("enqueue purge task failed",
			slog.String("object_key", objectKey),
			slog.Any("error", err),
		)
	}
}

func (u *Uploader) scan(file *multipart.FileHeader) error {
	reader, err := file.Open()
	if err != nil {
		return wrapStorageErr("Failed to read uploaded file", err)
	}
	defer reader.Close()

	clamdClient := clamd.NewClamd(u.clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(reader, abortChan)
	if err != nil {
		return wrapStorageErr("Failed to scan uploaded file", err)
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return validationErr("Malicious file detected")
		}
	}
	return nil
}

func fileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
