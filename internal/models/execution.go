package models

import "time"

// ExecutionStatus is the state of one worker run in the execution ledger.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// WorkerExecution is an append-only ledger row bracketing one scheduled run.
// A crash mid-run leaves the row in running; the ledger is observability, not
// a mutual-exclusion primitive.
type WorkerExecution struct {
	ID             int64                  `json:"id"`
	WorkerName     string                 `json:"workerName"`
	Status         ExecutionStatus        `json:"status"`
	StartedAt      time.Time              `json:"startedAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	DurationMillis *int64                 `json:"durationMs,omitempty"`
	ItemsProcessed int                    `json:"itemsProcessed"`
	ItemsSucceeded int                    `json:"itemsSucceeded"`
	ItemsFailed    int                    `json:"itemsFailed"`
	ErrorMessage   *string                `json:"errorMessage,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// RunStats accumulates item counters during one worker run.
type RunStats struct {
	ItemsProcessed int                    `json:"itemsProcessed"`
	ItemsSucceeded int                    `json:"itemsSucceeded"`
	ItemsFailed    int                    `json:"itemsFailed"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AddSuccess counts one successfully processed item.
func (s *RunStats) AddSuccess() {
	s.ItemsProcessed++
	s.ItemsSucceeded++
}

// AddFailure counts one failed item.
func (s *RunStats) AddFailure() {
	s.ItemsProcessed++
	s.ItemsFailed++
}
