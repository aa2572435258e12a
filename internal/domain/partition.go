package domain

import "time"

// Partition is an isolated crawl unit (one country/source/site)
type Partition struct {
	Name    string
	Profile SiteProfile
}

// StageCount records how many records survived a cleaning stage
type StageCount struct {
	Stage  string `json:"stage"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// PartitionResult is what a finished partition hands to the output sinks
type PartitionResult struct {
	Partition      string       `json:"partition"`
	Records        []*Record    `json:"records"`
	Stats          FetchStats   `json:"stats"`
	CardsCollected int          `json:"cardsCollected"`
	DetailsMerged  int          `json:"detailsMerged"`
	RateLimited    bool         `json:"rateLimited"`
	Stages         []StageCount `json:"stages,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     time.Time    `json:"finishedAt"`
	Error          string       `json:"error,omitempty"`
	SinkErrors     []string     `json:"sinkErrors,omitempty"`
}

// RunStatus is the lifecycle state of a crawl run
type RunStatus string

// Run statuses
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunResult aggregates all partitions of one crawl run
type RunResult struct {
	ID         string            `json:"id"`
	Status     RunStatus         `json:"status"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt,omitempty"`
	Partitions []PartitionResult `json:"partitions"`
	Totals     FetchStats        `json:"totals"`
	Advice     string            `json:"advice,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// RecordCount returns the number of records across all partitions
func (r *RunResult) RecordCount() int {
	total := 0
	for _, p := range r.Partitions {
		total += len(p.Records)
	}
	return total
}
