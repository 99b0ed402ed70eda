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

type AnalysisClient interface {
	Run(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
}

type AnalysisConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type AnalysisRequest struct {
	DownloadURL string `json:"downloadUrl"`
	JobID       string `json:"jobId"`
	UserID      string `json:"userId"`
}

// AnalysisPerformance is the upstream cost summary the settlement report
// records on the pipeline.
type AnalysisPerformance struct {
	AnalysisSeconds int `json:"analysis_seconds"`
	CostCents       int `json:"cost_cents"`
}

type AnalysisResult struct {
	envelope
	RunID        string              `json:"run_id"`
	ViralMoments []domain.Moment     `json:"viral_moments"`
	Transcript   string              `json:"transcript,omitempty"`
	Performance  AnalysisPerformance `json:"performance"`
}

type analysisClient struct {
	log  *logger.Logger
	cfg  AnalysisConfig
	http *http.Client
}

func NewAnalysisClient(log *logger.Logger, cfg AnalysisConfig) (AnalysisClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing analysis backend URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Minute
	}
	return &analysisClient{
		log:  log.With("client", "AnalysisClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *analysisClient) Run(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if strings.TrimSpace(req.DownloadURL) == "" {
		return nil, apperr.New(apperr.KindValidation, "analysis: download url required")
	}
	if strings.TrimSpace(req.JobID) == "" {
		return nil, apperr.New(apperr.KindValidation, "analysis: job id required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/analyze"
	out, err := doJSON[AnalysisResult](ctx, c.http, "analysis", "POST", u, c.cfg.Token, req)
	if err != nil {
		return nil, err
	}
	if out.failed() {
		return nil, apperr.New(apperr.KindUpstreamClient, out.message("analysis backend"))
	}

	c.log.Info("Analysis finished",
		"job_id", req.JobID,
		"moments", len(out.ViralMoments),
		"took", time.Since(start).Round(time.Second).String(),
	)
	return out, nil
}
