package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/dto"
	"github.com/noah-isme/tracker-closure/internal/models"
	"github.com/noah-isme/tracker-closure/internal/repository"
	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
	"github.com/noah-isme/tracker-closure/pkg/jobs"
	"github.com/noah-isme/tracker-closure/pkg/logger"
)

type closureRunner interface {
	Execute(ctx context.Context, opts models.ClosePatientsOptions) (*RunResult, error)
}

type closureRunStore interface {
	Create(ctx context.Context, run *models.ClosureRun) error
	GetByID(ctx context.Context, id string) (*models.ClosureRun, error)
	Update(ctx context.Context, id string, params repository.UpdateClosureRunParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ClosureRun, error)
	ListByProgram(ctx context.Context, programID string, limit int) ([]models.ClosureRun, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ClosureRunServiceConfig tunes run bookkeeping.
type ClosureRunServiceConfig struct {
	// AutoReport names a report after the run id for queued runs that did
	// not ask for one. Relative names resolve under the reports directory.
	AutoReport bool
}

// ClosureRunService records closure runs and dispatches them, synchronously for
// the CLI and preview endpoint, through the job queue for submissions over HTTP.
type ClosureRunService struct {
	runner closureRunner
	store  closureRunStore
	queue  jobDispatcher
	cfg    ClosureRunServiceConfig
	clock  Clock
	logger *zap.Logger
}

// NewClosureRunService constructs the service. store may be nil when run
// history is disabled; queue may be nil outside serve mode.
func NewClosureRunService(runner closureRunner, store closureRunStore, queue jobDispatcher, cfg ClosureRunServiceConfig, logger *zap.Logger) *ClosureRunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClosureRunService{
		runner: runner,
		store:  store,
		queue:  queue,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger,
	}
}

// SetQueue wires the dispatcher once the queue that calls back into Handle exists.
func (s *ClosureRunService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// RunNow executes a closure in the caller's goroutine and records its outcome
// when history is enabled.
func (s *ClosureRunService) RunNow(ctx context.Context, opts models.ClosePatientsOptions, actor string) (*RunResult, *models.ClosureRun, error) {
	run := &models.ClosureRun{
		ProgramID: opts.ProgramID,
		Mode:      opts.Mode(),
		Options:   opts,
		State:     models.RunStateRunning,
		CreatedBy: actor,
		CreatedAt: s.clock().UTC(),
	}
	if s.store != nil {
		if err := s.store.Create(ctx, run); err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record closure run")
		}
	}

	log := logger.WithRun(s.logger, run.ID, opts.ProgramID)
	result, err := s.runner.Execute(ctx, opts)
	s.finish(ctx, log, run, result, err)
	return result, run, err
}

// Submit validates a request, stores it as QUEUED and hands it to the queue.
func (s *ClosureRunService) Submit(ctx context.Context, req dto.ClosePatientsRequest, actor string) (*dto.ClosureRunResponse, error) {
	if err := req.ValidateQueued(); err != nil {
		return nil, err
	}
	if s.store == nil || s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "queued closure runs require run history")
	}
	opts := req.ToOptions()
	run := &models.ClosureRun{
		ProgramID: opts.ProgramID,
		Mode:      opts.Mode(),
		Options:   opts,
		State:     models.RunStateQueued,
		CreatedBy: actor,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.Create(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create closure run")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: run.ID}); err != nil {
		failed := models.RunStateFailed
		msg := "failed to enqueue closure run"
		now := s.clock().UTC()
		if uerr := s.store.Update(ctx, run.ID, repository.UpdateClosureRunParams{State: &failed, ErrorMessage: &msg, FinishedAt: &now}); uerr != nil {
			s.logger.Warn("failed to mark closure run failed", zap.String("run_id", run.ID), zap.Error(uerr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
	}
	return &dto.ClosureRunResponse{ID: run.ID, State: run.State}, nil
}

// Preview runs the pipeline without posting and returns what would be submitted.
func (s *ClosureRunService) Preview(ctx context.Context, req dto.ClosePatientsRequest, actor string) (*dto.ClosurePreviewResponse, error) {
	req.Post = false
	req.Report = ""
	if err := req.Validate(); err != nil {
		return nil, err
	}
	result, _, err := s.RunNow(ctx, req.ToOptions(), actor)
	if err != nil {
		return nil, classifyRunError(err)
	}
	conflicts := make([]string, 0, len(result.Conflicts))
	for _, entity := range result.Conflicts {
		conflicts = append(conflicts, entity.TrackedEntity)
	}
	return &dto.ClosurePreviewResponse{
		State:     result.State,
		Counts:    result.Counts(),
		Payload:   result.Payload,
		Conflicts: conflicts,
	}, nil
}

// Get returns a recorded run.
func (s *ClosureRunService) Get(ctx context.Context, id string) (*models.ClosureRun, error) {
	if s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "run history is disabled")
	}
	run, err := s.store.GetByID(ctx, id)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load closure run")
	}
	return run, nil
}

// List returns the latest runs of a program, newest first.
func (s *ClosureRunService) List(ctx context.Context, programID string, limit int) ([]models.ClosureRun, error) {
	if programID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "programId required")
	}
	if s.store == nil {
		return []models.ClosureRun{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := s.store.ListByProgram(ctx, programID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list closure runs")
	}
	if runs == nil {
		runs = []models.ClosureRun{}
	}
	return runs, nil
}

// Handle processes a queued run. Closure failures end in a FAILED record and
// are not retried; only bookkeeping errors are returned to the queue.
func (s *ClosureRunService) Handle(ctx context.Context, job jobs.Job) error {
	run, err := s.store.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if run.State != models.RunStateQueued {
		s.logger.Info("skipping closure run that is no longer queued", zap.String("run_id", run.ID), zap.String("state", string(run.State)))
		return nil
	}
	running := models.RunStateRunning
	if err := s.store.Update(ctx, run.ID, repository.UpdateClosureRunParams{State: &running}); err != nil {
		return err
	}
	run.State = running

	opts := run.Options
	if opts.ReportPath == "" && s.cfg.AutoReport {
		opts.ReportPath = "closure-" + run.ID + ".csv"
	}
	log := logger.WithRun(s.logger, run.ID, run.ProgramID)
	log.Info("closure run started", zap.String("mode", string(run.Mode)), zap.Int("attempt", job.Attempt))

	result, execErr := s.runner.Execute(ctx, opts)
	s.finish(ctx, log, run, result, execErr)
	return nil
}

// RecoverPending re-enqueues runs left QUEUED by a previous process.
func (s *ClosureRunService) RecoverPending(ctx context.Context) {
	if s.store == nil || s.queue == nil {
		return
	}
	pending, err := s.store.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued closure runs", zap.Error(err))
		return
	}
	for _, run := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: run.ID}); err != nil {
			s.logger.Warn("failed to requeue closure run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered queued closure runs", zap.Int("count", len(pending)))
	}
}

func (s *ClosureRunService) finish(ctx context.Context, log *zap.Logger, run *models.ClosureRun, result *RunResult, execErr error) {
	now := s.clock().UTC()
	state := models.RunStateFailed
	counts := models.RunCounts{}
	params := repository.UpdateClosureRunParams{FinishedAt: &now}
	if result != nil {
		if result.State.Terminal() {
			state = result.State
		}
		counts = result.Counts()
		if result.Save != nil {
			params.Stats = &result.Save.Stats
		}
		if len(result.ReportPaths) > 0 {
			path := result.ReportPaths[0]
			params.ReportPath = &path
			run.ReportPath = &path
		}
	}
	if execErr != nil {
		state = models.RunStateFailed
		msg := execErr.Error()
		params.ErrorMessage = &msg
		run.ErrorMessage = &msg
	}
	params.State = &state
	params.Counts = &counts

	run.State = state
	run.RunCounts = counts
	run.FinishedAt = &now
	if params.Stats != nil {
		run.Stats = models.NullableStats{Stats: params.Stats}
	}

	log.Info("closure run finished",
		zap.String("state", string(state)),
		zap.Int("eligible", counts.Eligible),
		zap.Int("conflicts", counts.Conflicts),
		zap.Int("events", counts.Events),
	)
	if s.store == nil {
		return
	}
	// The run outcome must be stored even when the request context is gone.
	if err := s.store.Update(context.WithoutCancel(ctx), run.ID, params); err != nil {
		log.Warn("failed to record closure run outcome", zap.Error(err))
	}
}

// classifyRunError maps pipeline failures onto API errors.
func classifyRunError(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return appErrors.Wrap(err, appErrors.ErrRejected.Code, appErrors.ErrRejected.Status, verr.Error())
	}
	var terr *models.TransportError
	if errors.As(err, &terr) {
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, terr.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "closure run failed")
}
