// Package redis holds the redis-backed transports: the render dispatch
// queue consumed by the render farm, and the progress bus fanned out to
// API instances.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

// RenderCustomData is the correlation payload echoed back verbatim by the
// render farm's completion webhook.
type RenderCustomData struct {
	ClipID     string `json:"clipId"`
	PipelineID string `json:"pipelineId"`
	OutputKey  string `json:"outputKey"`
}

// RenderSpec is one render instruction. RenderID is assigned before enqueue
// so the dispatch record exists whether or not the farm ever answers.
type RenderSpec struct {
	RenderID         string           `json:"renderId"`
	InputVideoKey    string           `json:"inputVideoKey"`
	InputCaptionsKey string           `json:"inputCaptionsKey"`
	OutputKey        string           `json:"outputKey"`
	FontFamily       string           `json:"fontFamily,omitempty"`
	WebhookURL       string           `json:"webhookUrl"`
	CustomData       RenderCustomData `json:"customData"`
}

type RenderQueue interface {
	Enqueue(ctx context.Context, spec RenderSpec) error
	Close() error
}

type renderQueue struct {
	log   *logger.Logger
	rdb   *goredis.Client
	queue string
}

func NewRenderQueue(log *logger.Logger) (RenderQueue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	queue := strings.TrimSpace(os.Getenv("REDIS_RENDER_QUEUE"))
	if queue == "" {
		queue = "render:jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &renderQueue{
		log:   log.With("service", "RedisRenderQueue"),
		rdb:   rdb,
		queue: queue,
	}, nil
}

func (q *renderQueue) Enqueue(ctx context.Context, spec RenderSpec) error {
	if q == nil || q.rdb == nil {
		return fmt.Errorf("render queue not initialized")
	}
	if spec.RenderID == "" {
		return fmt.Errorf("render spec missing renderId")
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.queue, raw).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	q.log.Info("Render enqueued", "render_id", spec.RenderID, "clip_id", spec.CustomData.ClipID)
	return nil
}

func (q *renderQueue) Close() error {
	if q == nil || q.rdb == nil {
		return nil
	}
	return q.rdb.Close()
}
