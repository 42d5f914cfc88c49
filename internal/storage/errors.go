package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

// FileValidationError 统一承载上传校验与底层存储失败。
// Reason 是可以直接返回给调用方的人类可读消息。
type FileValidationError struct {
	Reason string
	cause  error
}

func (e *FileValidationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.cause)
	}
	return e.Reason
}

func (e *FileValidationError) Unwrap() error { return e.cause }

func validationErr(reason string) error {
	return &FileValidationError{Reason: reason}
}

func wrapStorageErr(reason string, cause error) error {
	return &FileValidationError{Reason: reason, cause: cause}
}

// AsFileValidationError 提取 err 中的 *FileValidationError。
func AsFileValidationError(err error) (*FileValidationError, bool) {
	var e *FileValidationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsNoSuchKey 判断错误是否明确表示对象不存在（S3/MinIO: NoSuchKey/NotFound）。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch strings.ToLower(strings.TrimSpace(minioErr.Code)) {
		case "nosuchkey", "notfound":
			return true
		}
	}

	// 兜底：不同网关/代理可能会把错误包装成字符串。
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "nosuchkey") ||
		strings.Contains(lower, "specified key does not exist") ||
		strings.Contains(lower, "not found")
}
