package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"jobport/internal/config"
	"jobport/internal/database"
	"jobport/internal/metrics"
	"jobport/internal/storage"
	"jobport/internal/tasks"
	"jobport/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	blobHandler := worker.NewBlobTaskHandler(db, storageClient, logger, time.Hour)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.HandleFunc(tasks.TypeBlobPurge, blobHandler.ProcessPurge)
	mux.HandleFunc(tasks.TypeStorageReconcile, blobHandler.ProcessReconcile)

	// 每小时触发一次孤儿对象回收。
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register("@every 1h", tasks.NewStorageReconcileTask()); err != nil {
		log.Fatalf("register reconcile schedule: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
