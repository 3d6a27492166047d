package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/flowmux/internal/engine"
)

// Repository stores and queries recorded runs using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository and migrates its schema.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Record converts a scheduler result into a Run row and persists it.
func (r *Repository) Record(ctx context.Context, result *engine.Result, input string, outputs int, startedAt time.Time) (*Run, error) {
	run := &Run{
		RunID:      result.RunID,
		Input:      input,
		Outputs:    outputs,
		Status:     string(result.Status),
		DurationMS: result.Duration.Milliseconds(),
		Stages:     summarize(result.Stages),
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(result.Duration),
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return run, nil
}

// GetByID retrieves a run by its ULID. Returns nil when no row matches.
func (r *Repository) GetByID(ctx context.Context, id ULID) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting run by ID: %w", err)
	}
	return &run, nil
}

// GetByRunID retrieves a run by its scheduler-assigned run identifier.
func (r *Repository) GetByRunID(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting run by run ID: %w", err)
	}
	return &run, nil
}

// List returns the most recent runs, newest first. A limit <= 0 returns
// everything.
func (r *Repository) List(ctx context.Context, limit int) ([]*Run, error) {
	q := r.db.WithContext(ctx).Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []*Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// ListByStatus returns runs with the given status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, status string, limit int) ([]*Run, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []*Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs by status: %w", err)
	}
	return runs, nil
}

// Prune deletes runs that finished before the retention window. It returns
// the number of rows removed.
func (r *Repository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	res := r.db.WithContext(ctx).Where("finished_at < ?", cutoff).Delete(&Run{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// summarize flattens a scheduler stage report map into deterministic order.
func summarize(stages map[string]engine.StageReport) StageSummaries {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(StageSummaries, 0, len(names))
	for _, name := range names {
		rep := stages[name]
		out = append(out, StageSummary{
			Name:           name,
			Kind:           string(rep.Kind),
			State:          rep.State.String(),
			Abnormal:       rep.Abnormal,
			UnitsIn:        rep.Stats.UnitsIn,
			UnitsOut:       rep.Stats.UnitsOut,
			TransientSkips: rep.Stats.TransientSkips,
		})
	}
	return out
}
