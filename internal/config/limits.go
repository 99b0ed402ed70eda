package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/utils"
)

// Limits is the operational envelope for the pipeline: quota ceilings,
// batching parameters and per-phase deadlines. Loaded from a YAML file when
// LIMITS_CONFIG_PATH is set, then overridden by environment variables.
type Limits struct {
	DailyRequestsPerUser   int `yaml:"daily_requests_per_user"`
	ConcurrentPerUser      int `yaml:"concurrent_per_user"`
	GlobalActivePipelines  int `yaml:"global_active_pipelines"`
	BatchSize              int `yaml:"batch_size"`
	MaxConcurrentBatches   int `yaml:"max_concurrent_batches"`
	MaxPhaseRetries        int `yaml:"max_phase_retries"`
	ResolvePollSeconds     int `yaml:"resolve_poll_seconds"`
	ResolveTimeoutMinutes  int `yaml:"resolve_timeout_minutes"`
	AnalysisTimeoutMinutes int `yaml:"analysis_timeout_minutes"`
	BatchTimeoutMinutes    int `yaml:"batch_timeout_minutes"`
	RenderTimeoutMinutes   int `yaml:"render_timeout_minutes"`
}

func defaults() Limits {
	return Limits{
		DailyRequestsPerUser:   10,
		ConcurrentPerUser:      2,
		GlobalActivePipelines:  20,
		BatchSize:              3,
		MaxConcurrentBatches:   2,
		MaxPhaseRetries:        1,
		ResolvePollSeconds:     5,
		ResolveTimeoutMinutes:  10,
		AnalysisTimeoutMinutes: 8,
		BatchTimeoutMinutes:    20,
		RenderTimeoutMinutes:   60,
	}
}

func Load(log *logger.Logger) (Limits, error) {
	lim := defaults()

	path := utils.GetEnv("LIMITS_CONFIG_PATH", "", log)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return lim, fmt.Errorf("read limits config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &lim); err != nil {
			return lim, fmt.Errorf("parse limits config: %w", err)
		}
	}

	lim.DailyRequestsPerUser = utils.GetEnvAsInt("LIMIT_DAILY_REQUESTS", lim.DailyRequestsPerUser, log)
	lim.ConcurrentPerUser = utils.GetEnvAsInt("LIMIT_CONCURRENT_PER_USER", lim.ConcurrentPerUser, log)
	lim.GlobalActivePipelines = utils.GetEnvAsInt("LIMIT_GLOBAL_ACTIVE", lim.GlobalActivePipelines, log)
	lim.BatchSize = utils.GetEnvAsInt("BATCH_SIZE", lim.BatchSize, log)
	lim.MaxConcurrentBatches = utils.GetEnvAsInt("BATCH_MAX_CONCURRENT", lim.MaxConcurrentBatches, log)

	return lim.sanitized(), nil
}

func (l Limits) sanitized() Limits {
	def := defaults()
	if l.DailyRequestsPerUser < 1 {
		l.DailyRequestsPerUser = def.DailyRequestsPerUser
	}
	if l.ConcurrentPerUser < 1 {
		l.ConcurrentPerUser = def.ConcurrentPerUser
	}
	if l.GlobalActivePipelines < 1 {
		l.GlobalActivePipelines = def.GlobalActivePipelines
	}
	if l.BatchSize < 1 {
		l.BatchSize = def.BatchSize
	}
	if l.MaxConcurrentBatches < 1 {
		l.MaxConcurrentBatches = def.MaxConcurrentBatches
	}
	if l.MaxPhaseRetries < 0 {
		l.MaxPhaseRetries = def.MaxPhaseRetries
	}
	return l
}

func (l Limits) ResolvePollInterval() time.Duration {
	return time.Duration(l.ResolvePollSeconds) * time.Second
}
func (l Limits) ResolveTimeout() time.Duration {
	return time.Duration(l.ResolveTimeoutMinutes) * time.Minute
}
func (l Limits) AnalysisTimeout() time.Duration {
	return time.Duration(l.AnalysisTimeoutMinutes) * time.Minute
}
func (l Limits) BatchTimeout() time.Duration {
	return time.Duration(l.BatchTimeoutMinutes) * time.Minute
}
func (l Limits) RenderTimeout() time.Duration {
	return time.Duration(l.RenderTimeoutMinutes) * time.Minute
}
