package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/models"
)

// PayloadOptions carries what the synthesizer stamps on closure events.
type PayloadOptions struct {
	ConsultationStageIDs []string
	TimeOfReference      int
	DataValuePairs       []models.Pair
	Comment              *models.Pair
	ClosureStageID       string
}

// BuildClosurePayload turns closure candidates into completed enrollments and
// new closure events. The closure event is dated timeOfReference days after
// the last consultation. An entity without a consultation date is skipped
// entirely so that no completion is written without its closure event.
func BuildClosurePayload(entities []models.TrackedEntity, opts PayloadOptions, now time.Time, logger *zap.Logger) models.ClosurePayload {
	if logger == nil {
		logger = zap.NewNop()
	}
	stages := toSet(opts.ConsultationStageIDs)
	stamp := models.FormatInstant(now)
	dataValues := closureDataValues(opts.DataValuePairs, opts.Comment)

	payload := models.ClosurePayload{
		Enrollments: make([]models.Enrollment, 0, len(entities)),
		Events:      make([]models.Event, 0, len(entities)),
	}
	for _, entity := range entities {
		enrollment, ok := entity.FirstEnrollment()
		if !ok {
			continue
		}
		anchor, ok := lastConsultationDate(entity, stages)
		if !ok {
			logger.Warn("closure candidate has no consultation date, skipping",
				zap.String("tracked_entity", entity.TrackedEntity),
				zap.String("enrollment", enrollment.Enrollment),
			)
			continue
		}

		payload.Enrollments = append(payload.Enrollments, completedEnrollment(enrollment))
		payload.Events = append(payload.Events, models.Event{
			Status:       models.EventStatusCompleted,
			ProgramStage: opts.ClosureStageID,
			Enrollment:   enrollment.Enrollment,
			OrgUnit:      enrollment.OrgUnit,
			OccurredAt:   models.FormatInstant(RelativeDate(opts.TimeOfReference, anchor)),
			CreatedAt:    stamp,
			UpdatedAt:    stamp,
			DataValues:   append([]models.DataValue(nil), dataValues...),
		})
	}
	return payload
}

func completedEnrollment(e models.Enrollment) models.Enrollment {
	return models.Enrollment{
		OrgUnit:       e.OrgUnit,
		Program:       e.Program,
		TrackedEntity: e.TrackedEntity,
		Enrollment:    e.Enrollment,
		EnrolledAt:    e.EnrolledAt,
		OccurredAt:    e.OccurredAt,
		Status:        models.EnrollmentStatusCompleted,
	}
}

func closureDataValues(pairs []models.Pair, comment *models.Pair) []models.DataValue {
	values := make([]models.DataValue, 0, len(pairs)+1)
	for _, pair := range pairs {
		values = append(values, models.DataValue{DataElement: pair.Key, Value: pair.Value})
	}
	if comment != nil && comment.Key != "" && comment.Value != "" {
		values = append(values, models.DataValue{DataElement: comment.Key, Value: comment.Value})
	}
	return values
}
