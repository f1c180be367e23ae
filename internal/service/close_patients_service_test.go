package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/models"
	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

type trackerStub struct {
	entities []models.TrackedEntity
	getErr   error
	saveErr  error
	result   *models.SaveResult

	query models.TrackerQuery
	saved []models.ClosurePayload
}

func (s *trackerStub) Get(ctx context.Context, query models.TrackerQuery) ([]models.TrackedEntity, error) {
	s.query = query
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entities, nil
}

func (s *trackerStub) Save(ctx context.Context, payload models.ClosurePayload) (*models.SaveResult, error) {
	s.saved = append(s.saved, payload)
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &models.SaveResult{}, nil
}

type sinkStub struct {
	saved  []ReportSaveOptions
	stats  int
	errors int
}

func (s *sinkStub) Save(ctx context.Context, opts ReportSaveOptions) (string, error) {
	s.saved = append(s.saved, opts)
	return opts.OutputPath, nil
}

func (s *sinkStub) SaveStats(ctx context.Context, outputPath string, result *models.SaveResult) (string, error) {
	s.stats++
	return outputPath + "-stats", nil
}

func (s *sinkStub) SaveErrors(ctx context.Context, outputPath string, payload models.ClosurePayload, verr *models.ValidationError) (string, error) {
	s.errors++
	return outputPath + "-errors", nil
}

type lockerStub struct {
	acquired []string
	released int
	err      error
}

func (l *lockerStub) Acquire(ctx context.Context, programID string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, programID)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func closureOptions(post bool) models.ClosePatientsOptions {
	return models.ClosePatientsOptions{
		OrgUnitIDs:      []string{"OU1"},
		ProgramID:       "P1",
		ProgramStageIDs: []string{"CONSULT1"},
		ClosureStageID:  "CLOSE1",
		TimeOfReference: 30,
		DataValuePairs:  []models.Pair{{Key: "DE1", Value: "LTFU"}},
		Post:            post,
		ReportPath:      "reports/closure.csv",
	}
}

func scenarioEntities() []models.TrackedEntity {
	return []models.TrackedEntity{
		trackedEntity("E1", enrollment("EN1", "P1", "OU1", models.EnrollmentStatusActive, event("CONSULT1", "OU1", "2024-01-01T12:00:00.000Z"))),
		trackedEntity("E2", enrollment("EN2", "P1", "OU2", models.EnrollmentStatusActive, event("CONSULT1", "OU2", "2024-01-01T12:00:00.000Z"))),
		trackedEntity("E3", enrollment("EN3", "P1", "OU1", models.EnrollmentStatusCompleted, event("CONSULT1", "OU1", "2024-01-01T12:00:00.000Z"))),
		trackedEntity("E4", enrollment("EN4", "P1", "OU1", models.EnrollmentStatusActive, event("CONSULT1", "OU1", "2024-02-25T12:00:00.000Z"))),
	}
}

func TestClosePatientsPreviewPrintsPayload(t *testing.T) {
	tracker := &trackerStub{entities: scenarioEntities()}
	locker := &lockerStub{}
	var out bytes.Buffer
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Locker: locker, Printer: &out, Clock: fixedClock}, zap.NewNop())

	result, err := svc.Execute(context.Background(), closureOptions(false))
	require.NoError(t, err)

	assert.Equal(t, models.RunStatePrinted, result.State)
	assert.Equal(t, models.TrackerQuery{ProgramID: "P1", OrgUnitIDs: []string{"OU1"}}, tracker.query)
	assert.Empty(t, tracker.saved)
	assert.Empty(t, locker.acquired)

	require.Len(t, result.Eligible, 1)
	assert.Equal(t, "E1", result.Eligible[0].TrackedEntity)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "E3", result.Conflicts[0].TrackedEntity)

	var printed models.ClosurePayload
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.Len(t, printed.Events, 1)
	assert.True(t, strings.HasPrefix(printed.Events[0].OccurredAt, "2024-01-31T"))
	assert.Equal(t, "EN1", printed.Enrollments[0].Enrollment)
	assert.Equal(t, models.RunCounts{Eligible: 1, Conflicts: 1, Enrollments: 1, Events: 1}, result.Counts())
}

func TestClosePatientsSubmit(t *testing.T) {
	tracker := &trackerStub{
		entities: scenarioEntities(),
		result:   &models.SaveResult{Stats: models.Stats{Created: 1, Updated: 1, Total: 2}},
	}
	sink := &sinkStub{}
	locker := &lockerStub{}
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Reports: sink, Locker: locker, Clock: fixedClock}, nil)

	result, err := svc.Execute(context.Background(), closureOptions(true))
	require.NoError(t, err)

	assert.Equal(t, models.RunStateSubmitted, result.State)
	assert.Equal(t, []string{"P1"}, locker.acquired)
	assert.Equal(t, 1, locker.released)

	require.Len(t, tracker.saved, 1)
	for _, e := range tracker.saved[0].Enrollments {
		assert.NotEqual(t, "EN3", e.Enrollment)
	}

	require.Len(t, sink.saved, 1)
	assert.Equal(t, "P1", sink.saved[0].ProgramID)
	assert.Len(t, sink.saved[0].Conflicts, 1)
	assert.Equal(t, 1, sink.stats)
	assert.Equal(t, []string{"reports/closure.csv", "reports/closure.csv-stats"}, result.ReportPaths)
	assert.Equal(t, 2, result.Save.Stats.Total)
}

func TestClosePatientsSubmitWithoutConflictsSkipsReport(t *testing.T) {
	tracker := &trackerStub{entities: scenarioEntities()[:1]}
	sink := &sinkStub{}
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Reports: sink, Clock: fixedClock}, nil)

	result, err := svc.Execute(context.Background(), closureOptions(true))
	require.NoError(t, err)
	assert.Equal(t, models.RunStateSubmitted, result.State)
	assert.Empty(t, sink.saved)
	assert.Equal(t, 1, sink.stats)
}

func TestClosePatientsSubmitRejected(t *testing.T) {
	verr := models.NewValidationError(models.ImportResponse{Status: models.ImportStatusError, Message: "rejected"})
	tracker := &trackerStub{entities: scenarioEntities(), saveErr: verr}
	sink := &sinkStub{}
	locker := &lockerStub{}
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Reports: sink, Locker: locker, Clock: fixedClock}, nil)

	result, err := svc.Execute(context.Background(), closureOptions(true))
	require.Error(t, err)

	var target *models.ValidationError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, models.RunStateFailed, result.State)
	assert.Equal(t, 1, sink.errors)
	assert.Equal(t, 0, sink.stats)
	assert.Equal(t, 1, locker.released)
	assert.Contains(t, result.ReportPaths, "reports/closure.csv-errors")
}

func TestClosePatientsGetFailure(t *testing.T) {
	tracker := &trackerStub{getErr: &models.TransportError{Operation: "GET /tracker/trackedEntities", StatusCode: 401, Message: "Unauthorized"}}
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Clock: fixedClock}, nil)

	result, err := svc.Execute(context.Background(), closureOptions(false))
	require.Error(t, err)
	assert.Equal(t, models.RunStateFailed, result.State)
	assert.True(t, result.Payload.Empty())
}

func TestClosePatientsLockedProgram(t *testing.T) {
	tracker := &trackerStub{entities: scenarioEntities()}
	locker := &lockerStub{err: appErrors.Clone(appErrors.ErrLocked, "locked")}
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Locker: locker, Clock: fixedClock}, nil)

	result, err := svc.Execute(context.Background(), closureOptions(true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrLocked))
	assert.Equal(t, models.RunStateFailed, result.State)
	assert.Empty(t, tracker.saved)
}

func TestClosePatientsDurationFollowsClock(t *testing.T) {
	tick := fixedClock()
	clock := func() time.Time {
		now := tick
		tick = tick.Add(1500 * time.Millisecond)
		return now
	}
	tracker := &trackerStub{entities: scenarioEntities()}
	svc := NewClosePatientsService(tracker, ClosePatientsDeps{Clock: clock}, nil)

	result, err := svc.Execute(context.Background(), closureOptions(false))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePrinted, result.State)
	assert.Equal(t, tick.Sub(fixedClock())-1500*time.Millisecond, result.Duration)
	assert.Greater(t, result.Duration, time.Duration(0))
}
