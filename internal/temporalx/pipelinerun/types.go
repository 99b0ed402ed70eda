package pipelinerun

const (
	WorkflowName = "pipeline_run"
	ActivityTick = "pipeline_tick"

	// WorkflowIDPrefix keys one workflow per pipeline; starting a duplicate
	// for the same pipeline id is rejected by Temporal.
	WorkflowIDPrefix = "pipeline-"
)

type TickResult struct {
	PipelineID  string `json:"pipeline_id"`
	Status      string `json:"status"`
	Done        bool   `json:"done"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}
