// Command pushjob enqueues a text job on the pending queue, the same way a
// producer service would. Handy for smoke-testing a deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"whatsapp-dispatch/internal/config"
	"whatsapp-dispatch/internal/domain/model"
	red "whatsapp-dispatch/internal/infra/redis"

	"github.com/oklog/ulid/v2"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	phone := flag.String("phone", "", "recipient phone number (required)")
	text := flag.String("text", "Hello from whatsapp-dispatch", "message text")
	queue := flag.String("queue", "", "override the pending queue name")
	redisURL := flag.String("redis", "", "override the redis url")
	count := flag.Int("n", 1, "number of jobs to push")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *redisURL != "" {
		cfg.Redis.URL = *redisURL
	}
	if *queue != "" {
		cfg.Queue.Pending = *queue
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	store := red.NewJobStore(client, cfg.Queue.PollTimeout)
	defer store.Close()

	for i := 0; i < *count; i++ {
		now := time.Now().UTC()
		job := model.Job{
			ID:        ulid.Make().String(),
			Recipient: model.Recipient{Phone: *phone},
			Message:   model.Message{Type: model.MessageTypeText, Text: *text},
			Metadata:  model.Metadata{CreatedAt: &now, InitiatedBy: "pushjob"},
		}
		if err := job.Validate(); err != nil {
			log.Fatalf("invalid job: %v", err)
		}
		payload, err := json.Marshal(job)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		if err := store.Enqueue(ctx, cfg.Queue.Pending, payload); err != nil {
			log.Fatalf("enqueue: %v", err)
		}
		fmt.Printf("queued: %s -> %s (queue=%s)\n", job.ID, *phone, cfg.Queue.Pending)
	}
}
