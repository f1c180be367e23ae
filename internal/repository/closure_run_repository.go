package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tracker-closure/internal/models"
	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

const closureRunColumns = `id, program_id, mode, options, state, eligible_count, conflict_count, enrollment_count, event_count, stats, report_path, error_message, created_by, created_at, finished_at`

// ClosureRunRepository persists closure run history.
type ClosureRunRepository struct {
	db *sqlx.DB
}

// NewClosureRunRepository constructs the repository.
func NewClosureRunRepository(db *sqlx.DB) *ClosureRunRepository {
	return &ClosureRunRepository{db: db}
}

// Create inserts a run row, filling id, state and creation time when unset.
func (r *ClosureRunRepository) Create(ctx context.Context, run *models.ClosureRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.State == "" {
		run.State = models.RunStateQueued
	}
	if run.Mode == "" {
		run.Mode = run.Options.Mode()
	}
	if run.ProgramID == "" {
		run.ProgramID = run.Options.ProgramID
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO closure_runs (` + closureRunColumns + `)
VALUES (:id, :program_id, :mode, :options, :state, :eligible_count, :conflict_count, :enrollment_count, :event_count, :stats, :report_path, :error_message, :created_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create closure run: %w", err)
	}
	return nil
}

// GetByID returns a run by its identifier.
func (r *ClosureRunRepository) GetByID(ctx context.Context, id string) (*models.ClosureRun, error) {
	query := `SELECT ` + closureRunColumns + ` FROM closure_runs WHERE id = $1`
	var run models.ClosureRun
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "closure run not found")
		}
		return nil, fmt.Errorf("get closure run: %w", err)
	}
	return &run, nil
}

// UpdateClosureRunParams defines the mutable fields of a run.
type UpdateClosureRunParams struct {
	State        *models.RunState
	Counts       *models.RunCounts
	Stats        *models.Stats
	ReportPath   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a run.
func (r *ClosureRunRepository) Update(ctx context.Context, id string, params UpdateClosureRunParams) error {
	set := make([]string, 0, 9)
	args := make([]interface{}, 0, 10)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.State != nil {
		add("state", *params.State)
	}
	if params.Counts != nil {
		add("eligible_count", params.Counts.Eligible)
		add("conflict_count", params.Counts.Conflicts)
		add("enrollment_count", params.Counts.Enrollments)
		add("event_count", params.Counts.Events)
	}
	if params.Stats != nil {
		add("stats", models.NullableStats{Stats: params.Stats})
	}
	if params.ReportPath != nil {
		add("report_path", *params.ReportPath)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE closure_runs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update closure run: %w", err)
	}
	return nil
}

// ListQueued fetches queued runs, oldest first (used for cold start recovery).
func (r *ClosureRunRepository) ListQueued(ctx context.Context, limit int) ([]models.ClosureRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + closureRunColumns + ` FROM closure_runs WHERE state = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var runs []models.ClosureRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued closure runs: %w", err)
	}
	return runs, nil
}

// ListByProgram returns the most recent runs of a program.
func (r *ClosureRunRepository) ListByProgram(ctx context.Context, programID string, limit int) ([]models.ClosureRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + closureRunColumns + ` FROM closure_runs WHERE program_id = $1 ORDER BY created_at DESC LIMIT $2`
	var runs []models.ClosureRun
	if err := r.db.SelectContext(ctx, &runs, query, programID, limit); err != nil {
		return nil, fmt.Errorf("list closure runs: %w", err)
	}
	return runs, nil
}
