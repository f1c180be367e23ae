package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/models"
)

type trackerRepository interface {
	Get(ctx context.Context, query models.TrackerQuery) ([]models.TrackedEntity, error)
	Save(ctx context.Context, payload models.ClosurePayload) (*models.SaveResult, error)
}

type reportSink interface {
	Save(ctx context.Context, opts ReportSaveOptions) (string, error)
	SaveStats(ctx context.Context, outputPath string, result *models.SaveResult) (string, error)
	SaveErrors(ctx context.Context, outputPath string, payload models.ClosurePayload, verr *models.ValidationError) (string, error)
}

type programLocker interface {
	Acquire(ctx context.Context, programID string) (func(context.Context) error, error)
}

// RunResult is the outcome of one closure run.
type RunResult struct {
	State       models.RunState
	Eligible    []models.TrackedEntity
	Conflicts   []models.TrackedEntity
	Payload     models.ClosurePayload
	Save        *models.SaveResult
	ReportPaths []string
	Duration    time.Duration
}

// Counts summarises the result for persistence.
func (r *RunResult) Counts() models.RunCounts {
	if r == nil {
		return models.RunCounts{}
	}
	return models.RunCounts{
		Eligible:    len(r.Eligible),
		Conflicts:   len(r.Conflicts),
		Enrollments: len(r.Payload.Enrollments),
		Events:      len(r.Payload.Events),
	}
}

// ClosePatientsService runs the lost-to-follow-up closure pipeline:
// fetch, filter, synthesize, then print or submit.
type ClosePatientsService struct {
	tracker trackerRepository
	reports reportSink
	locker  programLocker
	metrics *MetricsService
	printer io.Writer
	clock   Clock
	logger  *zap.Logger
}

// ClosePatientsDeps groups the optional collaborators of ClosePatientsService.
type ClosePatientsDeps struct {
	Reports reportSink
	Locker  programLocker
	Metrics *MetricsService
	// Printer receives the previewed payload as indented JSON.
	Printer io.Writer
	Clock   Clock
}

// NewClosePatientsService constructs ClosePatientsService.
func NewClosePatientsService(tracker trackerRepository, deps ClosePatientsDeps, logger *zap.Logger) *ClosePatientsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ClosePatientsService{
		tracker: tracker,
		reports: deps.Reports,
		locker:  deps.Locker,
		metrics: deps.Metrics,
		printer: deps.Printer,
		clock:   clock,
		logger:  logger,
	}
}

// Execute runs one closure. The returned result is non-nil even on failure and
// carries whatever stage the run reached.
func (s *ClosePatientsService) Execute(ctx context.Context, opts models.ClosePatientsOptions) (*RunResult, error) {
	start := s.clock()
	result := &RunResult{State: models.RunStateRunning}
	defer func() {
		result.Duration = s.clock().Sub(start)
		s.metrics.ObserveRun(opts.Mode(), result.State, result.Duration)
	}()

	if opts.Post && s.locker != nil {
		release, err := s.locker.Acquire(ctx, opts.ProgramID)
		if err != nil {
			result.State = models.RunStateFailed
			return result, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.logger.Warn("failed to release program lock", zap.String("program_id", opts.ProgramID), zap.Error(err))
			}
		}()
	}

	entities, err := s.tracker.Get(ctx, models.TrackerQuery{
		ProgramID:  opts.ProgramID,
		OrgUnitIDs: opts.OrgUnitIDs,
		StartDate:  opts.StartDate,
		EndDate:    opts.EndDate,
	})
	if err != nil {
		result.State = models.RunStateFailed
		s.logger.Error(fmt.Sprintf("GET /tracker/trackedEntities: %s", messageOf(err)))
		return result, err
	}
	s.logger.Info("tracked entities fetched", zap.Int("count", len(entities)))

	now := s.clock()
	filtered := FilterEnrollmentsWithoutClosure(entities, EligibilityCriteria{
		ProgramID:      opts.ProgramID,
		ClosureStageID: opts.ClosureStageID,
		OrgUnitIDs:     opts.OrgUnitIDs,
	}, s.logger)
	result.Eligible = FilterStaleEntities(filtered.Eligible, opts.ProgramStageIDs, opts.TimeOfReference, now)
	result.Conflicts = FilterStaleEntities(filtered.Conflicts, opts.ProgramStageIDs, opts.TimeOfReference, now)
	s.metrics.ObserveEntities(len(result.Eligible), len(result.Conflicts))

	result.Payload = BuildClosurePayload(result.Eligible, PayloadOptions{
		ConsultationStageIDs: opts.ProgramStageIDs,
		TimeOfReference:      opts.TimeOfReference,
		DataValuePairs:       opts.DataValuePairs,
		Comment:              opts.Comment,
		ClosureStageID:       opts.ClosureStageID,
	}, now, s.logger)
	s.logger.Info("closure payload built",
		zap.Int("eligible", len(result.Eligible)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("enrollments", len(result.Payload.Enrollments)),
		zap.Int("events", len(result.Payload.Events)),
	)

	if !opts.Post {
		if err := s.printPayload(result.Payload); err != nil {
			result.State = models.RunStateFailed
			return result, err
		}
		result.State = models.RunStatePrinted
		return result, nil
	}

	if len(result.Conflicts) > 0 && s.reports != nil && opts.ReportPath != "" {
		path, err := s.reports.Save(ctx, ReportSaveOptions{
			OutputPath: opts.ReportPath,
			ProgramID:  opts.ProgramID,
			Entities:   result.Eligible,
			Conflicts:  result.Conflicts,
		})
		if err != nil {
			result.State = models.RunStateFailed
			return result, fmt.Errorf("write closure report: %w", err)
		}
		result.ReportPaths = append(result.ReportPaths, path)
		s.logger.Info("closure report written", zap.String("path", path), zap.Int("conflicts", len(result.Conflicts)))
	}

	saved, err := s.tracker.Save(ctx, result.Payload)
	if err != nil {
		result.State = models.RunStateFailed
		s.logger.Error(fmt.Sprintf("POST /tracker: %s", messageOf(err)))
		var verr *models.ValidationError
		if errors.As(err, &verr) && s.reports != nil && opts.ReportPath != "" {
			path, rerr := s.reports.SaveErrors(ctx, opts.ReportPath, result.Payload, verr)
			if rerr != nil {
				s.logger.Warn("failed to write error report", zap.Error(rerr))
			} else {
				result.ReportPaths = append(result.ReportPaths, path)
			}
		}
		return result, err
	}

	result.Save = saved
	result.State = models.RunStateSubmitted
	s.metrics.ObservePayload(len(result.Payload.Enrollments), len(result.Payload.Events))

	if s.reports != nil && opts.ReportPath != "" {
		path, err := s.reports.SaveStats(ctx, opts.ReportPath, saved)
		if err != nil {
			s.logger.Warn("failed to write stats report", zap.Error(err))
		} else {
			result.ReportPaths = append(result.ReportPaths, path)
		}
	}

	stats, _ := json.Marshal(saved.Stats)
	s.logger.Info(fmt.Sprintf("Closed patients: enrollments and closure events: %s", stats),
		zap.Int("created", saved.Stats.Created),
		zap.Int("updated", saved.Stats.Updated),
		zap.Int("ignored", saved.Stats.Ignored),
		zap.Int("total", saved.Stats.Total),
	)
	return result, nil
}

func (s *ClosePatientsService) printPayload(payload models.ClosurePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal closure payload: %w", err)
	}
	s.logger.Info(fmt.Sprintf("Payload: %s", raw))
	if s.printer == nil {
		return nil
	}
	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal closure payload: %w", err)
	}
	if _, err := fmt.Fprintln(s.printer, string(pretty)); err != nil {
		return fmt.Errorf("print closure payload: %w", err)
	}
	return nil
}

func messageOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
