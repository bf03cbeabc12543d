package contracts

import "time"

// RunStatus is the lifecycle state of a workflow run. Terminal once the
// status leaves RunRunning.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// LogLevel levels a RunLog entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// RunLog is one ordered, timestamped entry in a run's per-step log.
type RunLog struct {
	Seq       int       `json:"seq"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	StepIndex *int      `json:"step_index,omitempty"`
	At        time.Time `json:"at"`
}

// RunRecord is the durable account of one end-to-end execution. Only the
// orchestrator mutates it, and only while Status == RunRunning.
type RunRecord struct {
	RunID      string     `json:"run_id"`
	WorkflowID string     `json:"workflow_id,omitempty"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Logs       []RunLog   `json:"logs,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Terminal reports whether the run can no longer change state.
func (r *RunRecord) Terminal() bool {
	return r.Status == RunSuccess || r.Status == RunFailed
}

// StepStatus is the outcome of a single replayed step.
type StepStatus string

const (
	StepSuccess  StepStatus = "success"
	StepRepaired StepStatus = "repaired" // succeeded after selector repair
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
)

// StepResult is the per-step outcome emitted by the replay pipeline.
// Fatal distinguishes failures that abort the run from failures that are
// recorded but tolerated; it is always set explicitly, never inferred from
// the action type.
type StepResult struct {
	Index            int           `json:"index"`
	ActionID         string        `json:"action_id"`
	Status           StepStatus    `json:"status"`
	Attempts         int           `json:"attempts"`
	RepairedSelector string        `json:"repaired_selector,omitempty"`
	ScreenshotRef    string        `json:"screenshot_ref,omitempty"`
	Error            string        `json:"error,omitempty"`
	Fatal            bool          `json:"fatal"`
	Duration         time.Duration `json:"duration"`
}
