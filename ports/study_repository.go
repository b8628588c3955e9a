package ports

import (
	"context"

	"alphabias/domain/core"
	"alphabias/domain/run"
)

// StudyRepository stores finished studies.
type StudyRepository interface {
	Save(ctx context.Context, rec *run.Record) error
	Get(ctx context.Context, id core.StudyID) (*run.Record, error)
	List(ctx context.Context, filters StudyFilters) ([]StudySummary, error)
}

// StudyFilters for querying studies
type StudyFilters struct {
	Channel string
	Status  run.Status
	Limit   int
	Offset  int
}

// StudySummary is the list view of a stored study.
type StudySummary struct {
	ID              core.StudyID   `json:"id"`
	Channel         string         `json:"channel"`
	Status          run.Status     `json:"status"`
	Trials          int            `json:"trials"`
	ConvergenceRate float64        `json:"convergence_rate"`
	BiasMean        float64        `json:"bias_mean"`
	PullMean        float64        `json:"pull_mean"`
	PullWidth       float64        `json:"pull_width"`
	CreatedAt       core.Timestamp `json:"created_at"`
}

// Summarize builds the list view of a record.
func Summarize(rec *run.Record) StudySummary {
	return StudySummary{
		ID:              rec.Manifest.StudyID,
		Channel:         rec.Manifest.Channel,
		Status:          rec.Status,
		Trials:          rec.Manifest.Trials,
		ConvergenceRate: rec.Summary.ConvergenceRate,
		BiasMean:        rec.Summary.BiasConverged.Mean,
		PullMean:        rec.Summary.PullConverged.Mean,
		PullWidth:       rec.Summary.PullConverged.StdDev,
		CreatedAt:       rec.Manifest.CreatedAt,
	}
}
