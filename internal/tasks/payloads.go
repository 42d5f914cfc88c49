package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeBlobPurge        = "storage:purge"
	TypeStorageReconcile = "storage:reconcile"
)

// BlobPurgePayload 描述待删除的对象。
type BlobPurgePayload struct {
	ObjectKey string `json:"object_key"`
}

// NewBlobPurgeTask 构造一个延迟清理对象的任务。
func NewBlobPurgeTask(objectKey string) (*asynq.Task, error) {
	payload, err := json.Marshal(BlobPurgePayload{ObjectKey: objectKey})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBlobPurge, payload), nil
}

// NewStorageReconcileTask 构造孤儿对象回收任务，由调度器周期触发。
func NewStorageReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeStorageReconcile, nil)
}
