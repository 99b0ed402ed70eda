package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Pipeline statuses, in phase order. Terminal side exits (failed, timeout,
// no_credits) are reachable from any active status.
const (
	PipelineStatusPending        = "pending"
	PipelineStatusProcessing     = "processing"
	PipelineStatusAnalysisDone   = "analysis_completed"
	PipelineStatusBatchRunning   = "batch_processing"
	PipelineStatusBatchDone      = "batch_processing_completed"
	PipelineStatusRendering      = "remotion_rendering"
	PipelineStatusRenderQueued   = "remotion_rendering_queued"
	PipelineStatusCompleted      = "completed"
	PipelineStatusFailed         = "failed"
	PipelineStatusTimeout        = "timeout"
	PipelineStatusNoCredits      = "no_credits"
)

// ActivePipelineStatuses are the non-terminal statuses counted against
// concurrency ceilings.
var ActivePipelineStatuses = []string{
	PipelineStatusPending,
	PipelineStatusProcessing,
	PipelineStatusAnalysisDone,
	PipelineStatusBatchRunning,
	PipelineStatusBatchDone,
	PipelineStatusRendering,
	PipelineStatusRenderQueued,
}

func PipelineStatusTerminal(status string) bool {
	switch status {
	case PipelineStatusCompleted, PipelineStatusFailed, PipelineStatusTimeout, PipelineStatusNoCredits:
		return true
	}
	return false
}

// Pipeline is one end-to-end job from source URL to finished clips.
// Mutated exclusively through conditional single-row updates; the row is the
// only durable state the orchestrator carries between steps.
type Pipeline struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	SourceURL  string    `gorm:"column:source_url;not null" json:"source_url"`
	FontFamily string    `gorm:"column:font_family" json:"font_family"`

	Status     string `gorm:"column:status;not null;index" json:"status"`
	Error      string `gorm:"column:error" json:"error,omitempty"`
	ErrorPhase string `gorm:"column:error_phase" json:"error_phase,omitempty"`
	RetryCount int    `gorm:"column:retry_count;not null;default:0" json:"retry_count"`

	// Resolution artifacts from phase 1.
	VideoTitle  string `gorm:"column:video_title" json:"video_title,omitempty"`
	MediaID     string `gorm:"column:media_id" json:"media_id,omitempty"`
	DownloadURL string `gorm:"column:download_url" json:"-"`

	// Candidate moments persisted between phase 1 and phase 2.
	Moments datatypes.JSON `gorm:"column:moments;type:jsonb" json:"-"`

	TotalClips      int `gorm:"column:total_clips;not null;default:0" json:"total_clips"`
	SuccessfulClips int `gorm:"column:successful_clips;not null;default:0" json:"successful_clips"`
	FailedClips     int `gorm:"column:failed_clips;not null;default:0" json:"failed_clips"`

	CostCents         int  `gorm:"column:cost_cents;not null;default:0" json:"cost_cents"`
	AnalysisSeconds   int  `gorm:"column:analysis_seconds;not null;default:0" json:"analysis_seconds"`
	CreditsSettled    bool `gorm:"column:credits_settled;not null;default:false" json:"credits_settled"`

	Phase1StartedAt   *time.Time `gorm:"column:phase1_started_at" json:"phase1_started_at,omitempty"`
	Phase1CompletedAt *time.Time `gorm:"column:phase1_completed_at" json:"phase1_completed_at,omitempty"`
	Phase2StartedAt   *time.Time `gorm:"column:phase2_started_at" json:"phase2_started_at,omitempty"`
	Phase2CompletedAt *time.Time `gorm:"column:phase2_completed_at" json:"phase2_completed_at,omitempty"`
	Phase3StartedAt   *time.Time `gorm:"column:phase3_started_at" json:"phase3_started_at,omitempty"`
	CompletedAt       *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Pipeline) TableName() string { return "pipeline" }

// Moment is one system-identified candidate time range in the source video.
// OriginalIndex pins the candidate to its position in the full analysis
// output so clip ordinals survive batching.
type Moment struct {
	OriginalIndex int     `json:"original_index"`
	Title         string  `json:"title"`
	StartSeconds  float64 `json:"start_seconds"`
	EndSeconds    float64 `json:"end_seconds"`
	ViralScore    float64 `json:"viral_score"`
	HookType      string  `json:"hook_type"`
	Rationale     string  `json:"rationale,omitempty"`
}
