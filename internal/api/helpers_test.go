package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jobport/internal/applicant"
	"jobport/internal/auth"
	"jobport/internal/database"
	"jobport/internal/storage"
)

// fakeBlobBackend 在内存中模拟对象存储。
type fakeBlobBackend struct {
	objects map[string][]byte
	baseURL string
}

func newFakeBlobBackend() *fakeBlobBackend {
	return &fakeBlobBackend{
		objects: make(map[string][]byte),
		baseURL: "https://blob.test/jobport",
	}
}

func (f *fakeBlobBackend) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectName] = data
	return nil
}

func (f *fakeBlobBackend) DeleteObject(_ context.Context, objectKey string) error {
	delete(f.objects, objectKey)
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

type testApp struct {
	router  *gin.Engine
	db      *gorm.DB
	auth    *auth.AuthService
	backend *fakeBlobBackend
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.User{},
		&database.Company{},
		&database.JobCategory{},
		&database.JobPost{},
		&database.JobPostCategory{},
		&database.Applicant{},
		&database.Selection{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	authService, err := auth.NewAuthService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}

	backend := newFakeBlobBackend()
	uploader := storage.NewUploader(backend, "", nil, slog.Default())
	applicantService := applicant.NewService(db, uploader, nil, slog.Default())

	router := gin.New()
	RegisterRoutes(router, Deps{
		DB:               db,
		AuthService:      authService,
		Uploader:         uploader,
		ApplicantService: applicantService,
		Logger:           slog.Default(),
	})

	return &testApp{router: router, db: db, auth: authService, backend: backend}
}

func (app *testApp) createUser(t *testing.T, name, phone, email, password, role string) database.User {
	t.Helper()
	hashed, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := database.User{Name: name, Phone: phone, Email: email, Password: hashed, Role: role}
	if err := app.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (app *testApp) tokenFor(t *testing.T, user database.User) string {
	t.Helper()
	token, err := app.auth.GenerateToken(auth.Identity{
		UserID: user.ID,
		Name:   user.Name,
		Phone:  user.Phone,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

// seedJob 建一家公司、一个开放职位与一个职位类别。
func (app *testApp) seedJob(t *testing.T, companyName, categoryName, status string) (database.JobPost, database.JobPostCategory) {
	t.Helper()
	company := database.Company{Name: companyName}
	if err := app.db.Create(&company).Error; err != nil {
		t.Fatalf("create company: %v", err)
	}
	jobCategory := database.JobCategory{Name: categoryName}
	if err := app.db.Create(&jobCategory).Error; err != nil {
		t.Fatalf("create job category: %v", err)
	}
	post := database.JobPost{CompanyID: company.ID, Status: status}
	if err := app.db.Create(&post).Error; err != nil {
		t.Fatalf("create job post: %v", err)
	}
	category := database.JobPostCategory{JobPostID: post.ID, JobCategoryID: jobCategory.ID}
	if err := app.db.Create(&category).Error; err != nil {
		t.Fatalf("create job post category: %v", err)
	}
	return post, category
}

type testResponse struct {
	Code     int
	Envelope Envelope
	Raw      []byte
}

func (app *testApp) do(t *testing.T, req *http.Request) testResponse {
	t.Helper()
	recorder := httptest.NewRecorder()
	app.router.ServeHTTP(recorder, req)

	var envelope Envelope
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return testResponse{Code: recorder.Code, Envelope: envelope, Raw: recorder.Body.Bytes()}
}

func jsonRequest(t *testing.T, method, target, token string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

type formFile struct {
	field    string
	filename string
	content  []byte
}

func multipartRequest(t *testing.T, method, target, token string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write form field: %v", err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(file.content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func dataMap(t *testing.T, resp testResponse) map[string]any {
	t.Helper()
	data, ok := resp.Envelope.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T: %s", resp.Envelope.Data, resp.Raw)
	}
	return data
}

func assertFailure(t *testing.T, resp testResponse, code int, message string) {
	t.Helper()
	if resp.Code != code {
		t.Fatalf("got status %d, want %d (body: %s)", resp.Code, code, resp.Raw)
	}
	if resp.Envelope.Success {
		t.Fatalf("expected success=false, body: %s", resp.Raw)
	}
	if message != "" && resp.Envelope.Message != message {
		t.Fatalf("got message %q, want %q", resp.Envelope.Message, message)
	}
}
