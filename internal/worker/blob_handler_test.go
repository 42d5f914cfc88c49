package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jobport/internal/database"
	"jobport/internal/storage"
	"jobport/internal/tasks"
)

// fakeObjectStore 在内存中模拟对象存储。
type fakeObjectStore struct {
	objects map[string]time.Time
	baseURL string
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects: make(map[string]time.Time),
		baseURL: "https://blob.test/jobport",
	}
}

func (f *fakeObjectStore) ListObjects(_ context.Context, prefix string) ([]storage.ObjectMeta, error) {
	var metas []storage.ObjectMeta
	for key, modified := range f.objects {
		if strings.HasPrefix(key, prefix) {
			metas = append(metas, storage.ObjectMeta{Key: key, LastModified: modified})
		}
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Key < metas[j].Key })
	return metas, nil
}

func (f *fakeObjectStore) DeleteObject(_ context.Context, objectKey string) error {
	delete(f.objects, objectKey)
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func (f *fakeObjectStore) ObjectKeyFromURL(rawURL string) (string, bool) {
	key, ok := strings.CutPrefix(rawURL, f.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func (f *fakeObjectStore) objectURL(objectKey string) string {
	return f.baseURL + "/" + objectKey
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}, &database.Applicant{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func purgeTask(t *testing.T, objectKey string) *asynq.Task {
	t.Helper()
	task, err := tasks.NewBlobPurgeTask(objectKey)
	if err != nil {
		t.Fatalf("build purge task: %v", err)
	}
	return task
}

func TestProcessPurge(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["applications/cv/a.pdf"] = time.Now()
	handler := NewBlobTaskHandler(newTestDB(t), store, slog.Default(), time.Hour)

	if err := handler.ProcessPurge(context.Background(), purgeTask(t, "applications/cv/a.pdf")); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, exists := store.objects["applications/cv/a.pdf"]; exists {
		t.Fatal("expected object to be deleted")
	}

	// 对象已不存在时重复执行也成功。
	if err := handler.ProcessPurge(context.Background(), purgeTask(t, "applications/cv/a.pdf")); err != nil {
		t.Fatalf("second purge must be idempotent: %v", err)
	}
}

func TestProcessPurgeIgnoresEmptyKey(t *testing.T) {
	store := newFakeObjectStore()
	handler := NewBlobTaskHandler(newTestDB(t), store, slog.Default(), time.Hour)

	payload, err := json.Marshal(tasks.BlobPurgePayload{})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task := asynq.NewTask(tasks.TypeBlobPurge, payload)
	if err := handler.ProcessPurge(context.Background(), task); err != nil {
		t.Fatalf("empty key must be a no-op: %v", err)
	}
	if len(store.deleted) != 0 {
		t.Fatal("no delete expected for an empty key")
	}
}

func TestProcessReconcile(t *testing.T) {
	db := newTestDB(t)
	store := newFakeObjectStore()
	handler := NewBlobTaskHandler(db, store, slog.Default(), time.Hour)

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	// 被引用的旧对象、无引用的旧对象、无引用的新对象、托管前缀之外的对象。
	store.objects["applications/cv/kept.pdf"] = old
	store.objects["applications/identity/kept.jpg"] = old
	store.objects["profiles/photo/kept.png"] = old
	store.objects["applications/cv/orphan.pdf"] = old
	store.objects["applications/identity/orphan.jpg"] = old
	store.objects["applications/cv/inflight.pdf"] = fresh
	store.objects["exports/report.csv"] = old

	applicantRow := database.Applicant{
		UserID:            1,
		JobPostCategoryID: 1,
		CVURL:             store.objectURL("applications/cv/kept.pdf"),
		IdentityCardURL:   store.objectURL("applications/identity/kept.jpg"),
	}
	if err := db.Create(&applicantRow).Error; err != nil {
		t.Fatalf("create applicant: %v", err)
	}
	user := database.User{Name: "Ada", Phone: "081234567890", Email: "ada@example.com",
		PhotoURL: store.objectURL("profiles/photo/kept.png")}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := handler.ProcessReconcile(context.Background(), tasks.NewStorageReconcileTask()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	for _, key := range []string{
		"applications/cv/kept.pdf",
		"applications/identity/kept.jpg",
		"profiles/photo/kept.png",
		"applications/cv/inflight.pdf",
		"exports/report.csv",
	} {
		if _, exists := store.objects[key]; !exists {
			t.Fatalf("object %q must survive reconcile", key)
		}
	}
	for _, key := range []string{
		"applications/cv/orphan.pdf",
		"applications/identity/orphan.jpg",
	} {
		if _, exists := store.objects[key]; exists {
			t.Fatalf("orphan %q must be removed", key)
		}
	}
}
