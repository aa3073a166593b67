// Package store persists pipeline runs. Two backends are provided: sqlite
// for single-node deployments and postgres for shared ones.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/apflow/internal/config"
	"github.com/sells-group/apflow/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	State  model.RunState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for pipeline runs.
type Store interface {
	// CreateRun records a freshly received run.
	CreateRun(ctx context.Context, run *model.PipelineRun) error

	// UpdateRunState advances the persisted state as the orchestrator moves
	// through the lifecycle.
	UpdateRunState(ctx context.Context, runID string, state model.RunState) error

	// FinishRun persists the terminal run record: state, outcomes,
	// confidence, decision and report.
	FinishRun(ctx context.Context, run *model.PipelineRun) error

	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by configuration and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
