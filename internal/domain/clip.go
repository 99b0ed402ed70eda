package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ClipStatusPending   = "pending"
	ClipStatusQueued    = "queued"
	ClipStatusRendering = "rendering"
	ClipStatusCompleted = "completed"
	ClipStatusFailed    = "failed"
)

func ClipStatusTerminal(status string) bool {
	return status == ClipStatusCompleted || status == ClipStatusFailed
}

// Clip is one candidate short-form output derived from a pipeline's source
// video. (pipeline_id, idx) is unique; idx is the candidate's position in
// the full analysis output, not its position within a batch.
type Clip struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PipelineID uuid.UUID `gorm:"type:uuid;not null;index:idx_clip_pipeline_idx,unique,priority:1;index" json:"pipeline_id"`
	Idx        int       `gorm:"column:idx;not null;index:idx_clip_pipeline_idx,unique,priority:2" json:"idx"`

	Title           string  `gorm:"column:title" json:"title"`
	StartSeconds    float64 `gorm:"column:start_seconds;not null" json:"start_seconds"`
	EndSeconds      float64 `gorm:"column:end_seconds;not null" json:"end_seconds"`
	DurationSeconds float64 `gorm:"column:duration_seconds;not null" json:"duration_seconds"`
	ViralScore      float64 `gorm:"column:viral_score" json:"viral_score"`
	HookType        string  `gorm:"column:hook_type" json:"hook_type"`

	Status string `gorm:"column:status;not null;index" json:"status"`
	Error  string `gorm:"column:error" json:"error,omitempty"`

	RawVideoKey   string `gorm:"column:raw_video_key" json:"raw_video_key,omitempty"`
	CaptionsKey   string `gorm:"column:captions_key" json:"captions_key,omitempty"`
	FinalVideoKey string `gorm:"column:final_video_key" json:"final_video_key,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Clip) TableName() string { return "clip" }
