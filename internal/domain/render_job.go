package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RenderJobStatusQueued    = "queued"
	RenderJobStatusRendering = "rendering"
	RenderJobStatusCompleted = "completed"
	RenderJobStatusFailed    = "failed"
)

// RenderJob is one dispatch of a single clip to the external render farm.
// It decouples clip identity from render attempts; the current orchestrator
// performs at most one attempt per clip.
type RenderJob struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RenderID   string    `gorm:"column:render_id;uniqueIndex" json:"render_id"`
	ClipID     uuid.UUID `gorm:"type:uuid;not null;index" json:"clip_id"`
	PipelineID uuid.UUID `gorm:"type:uuid;not null;index" json:"pipeline_id"`

	Status   string `gorm:"column:status;not null;index" json:"status"`
	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Error    string `gorm:"column:error" json:"error,omitempty"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`

	InputVideoKey    string `gorm:"column:input_video_key" json:"input_video_key"`
	InputCaptionsKey string `gorm:"column:input_captions_key" json:"input_captions_key"`
	OutputKey        string `gorm:"column:output_key" json:"output_key,omitempty"`

	CostEstimateCents int `gorm:"column:cost_estimate_cents;not null;default:0" json:"cost_estimate_cents"`

	StartedAt  *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (RenderJob) TableName() string { return "render_job" }
