package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type BatchClient interface {
	Run(ctx context.Context, req BatchRequest) (*BatchResult, error)
}

type BatchConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type BatchRequest struct {
	JobID       string          `json:"jobId"`
	BatchIndex  int             `json:"batchIndex"`
	DownloadURL string          `json:"downloadUrl"`
	FontFamily  string          `json:"fontFamily,omitempty"`
	Moments     []domain.Moment `json:"moments"`
}

// ProcessedClip is one clip descriptor produced by the batch backend.
// OriginalIndex ties it back to the candidate's position in the full
// analysis output, not its position within the batch.
type ProcessedClip struct {
	OriginalIndex   int     `json:"original_index"`
	Title           string  `json:"title"`
	StartSeconds    float64 `json:"start_seconds"`
	EndSeconds      float64 `json:"end_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	ViralScore      float64 `json:"viral_score"`
	HookType        string  `json:"hook_type"`
	RawVideoKey     string  `json:"raw_video_key"`
	CaptionsKey     string  `json:"captions_key"`
}

type FailedClip struct {
	OriginalIndex int    `json:"original_index"`
	Title         string `json:"title"`
	Reason        string `json:"reason,omitempty"`
}

type BatchResult struct {
	envelope
	ProcessedClips []ProcessedClip `json:"processed_clips"`
	FailedClips    []FailedClip    `json:"failed_clips"`
	ClipsProcessed int             `json:"clips_processed"`
	ClipsFailed    int             `json:"clips_failed"`
}

type batchClient struct {
	log  *logger.Logger
	cfg  BatchConfig
	http *http.Client
}

func NewBatchClient(log *logger.Logger, cfg BatchConfig) (BatchClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing batch backend URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	return &batchClient{
		log:  log.With("client", "BatchClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *batchClient) Run(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if strings.TrimSpace(req.DownloadURL) == "" {
		return nil, apperr.New(apperr.KindValidation, "batch: download url required")
	}
	if len(req.Moments) == 0 {
		return &BatchResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/process-batch"
	out, err := doJSON[BatchResult](ctx, c.http, "batch", "POST", u, c.cfg.Token, req)
	if err != nil {
		return nil, err
	}
	if out.failed() {
		return nil, apperr.New(apperr.KindUpstreamClient, out.message("batch backend"))
	}

	c.log.Info("Batch finished",
		"job_id", req.JobID,
		"batch_index", req.BatchIndex,
		"processed", len(out.ProcessedClips),
		"failed", len(out.FailedClips),
		"took", time.Since(start).Round(time.Second).String(),
	)
	return out, nil
}
