package main

import (
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-rms/meridian-rms/jobs"
)

// Enqueues an immediate stock recount instead of waiting for the nightly
// cron. Useful after manual corrections in the units table.
func main() {
	addr := getenv("REDIS_ADDR", "127.0.0.1:6379")
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: addr})
	defer func() { _ = client.Close() }()

	task, err := jobs.NewStockRecountTask(time.Now().UTC())
	if err != nil {
		log.Fatalf("build recount task: %v", err)
	}
	info, err := client.Enqueue(task)
	if err != nil {
		log.Fatalf("enqueue recount: %v", err)
	}
	log.Printf("enqueued %s id=%s queue=%s", jobs.TaskStockRecount, info.ID, info.Queue)
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
