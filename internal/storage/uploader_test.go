package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeBlobBackend 在内存中模拟对象存储。
type fakeBlobBackend struct {
	objects map[string][]byte
	baseURL string

	uploadErr error
	deleteErr error
	deleted   []string
}

func newFakeBlobBackend() *fakeBlobBackend {
	return &fakeBlobBackend{
		objects: make(map[string][]byte),
		baseURL: "https://blob.test/jobport",
	}
}

func (f *fakeBlobBackend) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectName] = data
	return nil
}

func (f *fakeBlobBackend) DeleteObject(_ context.Context, objectKey string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, objectKey)
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func (f *fakeBlobBackend) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	_, ok := f.objects[objectKey]
	return ok, nil
}

func (f *fakeBlobBackend) ObjectURL(objectKey string) string {
	return f.baseURL + "/" + objectKey
}

func (f *fakeBlobBackend) ObjectKeyFromURL(rawURL string) (string, bool) {
	key, ok := strings.CutPrefix(rawURL, f.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func fileHeader(t *testing.T, fieldName, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	_, header, err := req.FormFile(fieldName)
	if err != nil {
		t.Fatalf("parse form file: %v", err)
	}
	return header
}

var cvRules = Rules{AllowedExtensions: []string{"pdf", "doc", "docx"}, MaxSizeMB: 10}

func TestValidate(t *testing.T) {
	uploader := NewUploader(newFakeBlobBackend(), "", nil, slog.Default())

	cases := []struct {
		name       string
		file       *multipart.FileHeader
		rules      Rules
		wantReason string
	}{
		{"nil file", nil, cvRules, "File is required"},
		{"missing extension", fileHeader(t, "cv", "resume", []byte("x")), cvRules, "File has no extension"},
		{"disallowed extension", fileHeader(t, "cv", "resume.exe", []byte("x")), cvRules,
			"File type .exe is not allowed, must be one of: pdf, doc, docx"},
		{"oversize", fileHeader(t, "cv", "resume.pdf", bytes.Repeat([]byte("a"), 1024*1024+1)),
			Rules{AllowedExtensions: []string{"pdf"}, MaxSizeMB: 1}, "File size exceeds the 1MB limit"},
		{"undersize", fileHeader(t, "cv", "resume.pdf", []byte("tiny")),
			Rules{AllowedExtensions: []string{"pdf"}, MinSizeMB: 1}, "File size is below the 1MB minimum"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := uploader.Validate(tc.file, tc.rules)
			if err == nil {
				t.Fatal("expected validation error")
			}
			fileErr, ok := AsFileValidationError(err)
			if !ok {
				t.Fatalf("expected *FileValidationError, got %T", err)
			}
			if fileErr.Reason != tc.wantReason {
				t.Fatalf("got reason %q, want %q", fileErr.Reason, tc.wantReason)
			}
		})
	}
}

func TestValidateAcceptsBoundaryAndCase(t *testing.T) {
	uploader := NewUploader(newFakeBlobBackend(), "", nil, slog.Default())

	// 大小比较使用严格大于，恰好等于上限的文件通过。
	exact := fileHeader(t, "cv", "resume.pdf", bytes.Repeat([]byte("a"), 1024*1024))
	if err := uploader.Validate(exact, Rules{AllowedExtensions: []string{"pdf"}, MaxSizeMB: 1}); err != nil {
		t.Fatalf("file at the exact size limit must pass: %v", err)
	}

	upper := fileHeader(t, "cv", "RESUME.PDF", []byte("content"))
	if err := uploader.Validate(upper, cvRules); err != nil {
		t.Fatalf("extension match must be case insensitive: %v", err)
	}
}

func TestStoreUploadsWithGeneratedKey(t *testing.T) {
	backend := newFakeBlobBackend()
	uploader := NewUploader(backend, "", nil, slog.Default())

	file := fileHeader(t, "cv", "resume.pdf", []byte("pdf-bytes"))
	url, err := uploader.Store(context.Background(), "applications/cv", file, "", cvRules)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	key, ok := backend.ObjectKeyFromURL(url)
	if !ok {
		t.Fatalf("returned URL %q is not resolvable to an object key", url)
	}
	if !strings.HasPrefix(key, "applications/cv/") || !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("unexpected object key %q", key)
	}
	if key == "applications/cv/resume.pdf" {
		t.Fatal("object key must not reuse the client-supplied filename")
	}
	if got := backend.objects[key]; !bytes.Equal(got, []byte("pdf-bytes")) {
		t.Fatalf("stored content mismatch: %q", got)
	}
}

func TestStoreRejectsInvalidBeforeUpload(t *testing.T) {
	backend := newFakeBlobBackend()
	uploader := NewUploader(backend, "", nil, slog.Default())

	file := fileHeader(t, "cv", "resume.exe", []byte("nope"))
	if _, err := uploader.Store(context.Background(), "applications/cv", file, "", cvRules); err == nil {
		t.Fatal("expected validation error")
	}
	if len(backend.objects) != 0 {
		t.Fatal("invalid file must never reach the backend")
	}
}

func TestStoreDeletesReplacedObject(t *testing.T) {
	backend := newFakeBlobBackend()
	backend.objects["profiles/photo/old.jpg"] = []byte("old")
	uploader := NewUploader(backend, "", nil, slog.Default())

	rules := Rules{AllowedExtensions: []string{"jpg", "jpeg", "png"}, MaxSizeMB: 5}
	file := fileHeader(t, "photo", "me.jpg", []byte("new"))
	oldURL := backend.ObjectURL("profiles/photo/old.jpg")

	if _, err := uploader.Store(context.Background(), "profiles/photo", file, oldURL, rules); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, exists := backend.objects["profiles/photo/old.jpg"]; exists {
		t.Fatal("replaced object must be deleted")
	}
}

func TestStoreIgnoresForeignReplaceURL(t *testing.T) {
	backend := newFakeBlobBackend()
	uploader := NewUploader(backend, "", nil, slog.Default())

	file := fileHeader(t, "photo", "me.jpg", []byte("new"))
	rules := Rules{AllowedExtensions: []string{"jpg"}, MaxSizeMB: 5}

	// 非本存储签发的 URL 直接忽略，不报错。
	if _, err := uploader.Store(context.Background(), "profiles/photo", file, "https://elsewhere.example/x.jpg", rules); err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestStoreWrapsBackendFailure(t *testing.T) {
	backend := newFakeBlobBackend()
	backend.uploadErr = errors.New("connection refused")
	uploader := NewUploader(backend, "", nil, slog.Default())

	file := fileHeader(t, "cv", "resume.pdf", []byte("pdf"))
	_, err := uploader.Store(context.Background(), "applications/cv", file, "", cvRules)
	if err == nil {
		t.Fatal("expected backend failure to surface")
	}
	fileErr, ok := AsFileValidationError(err)
	if !ok {
		t.Fatalf("expected *FileValidationError, got %T", err)
	}
	if fileErr.Reason != "Failed to store uploaded file" {
		t.Fatalf("unexpected reason %q", fileErr.Reason)
	}
	if !errors.Is(err, backend.uploadErr) {
		t.Fatal("wrapped error must preserve the cause")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	backend := newFakeBlobBackend()
	backend.objects["applications/cv/a.pdf"] = []byte("a")
	uploader := NewUploader(backend, "", nil, slog.Default())

	url := backend.ObjectURL("applications/cv/a.pdf")
	if err := uploader.Delete(context.Background(), url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := uploader.Delete(context.Background(), url); err != nil {
		t.Fatalf("second delete must succeed: %v", err)
	}
	if err := uploader.Delete(context.Background(), "https://elsewhere.example/x.pdf"); err != nil {
		t.Fatalf("foreign URL delete must be a no-op: %v", err)
	}
}
