package service

import (
	"time"

	"github.com/noah-isme/tracker-closure/internal/models"
)

// FilterStaleEntities keeps entities whose latest consultation is at least
// timeOfReference days old relative to now. Entities without any consultation
// are never considered stale.
func FilterStaleEntities(entities []models.TrackedEntity, consultationStageIDs []string, timeOfReference int, now time.Time) []models.TrackedEntity {
	threshold := RelativeDate(-timeOfReference, now)
	stages := toSet(consultationStageIDs)

	stale := make([]models.TrackedEntity, 0, len(entities))
	for _, entity := range entities {
		last, ok := lastConsultationDate(entity, stages)
		if !ok {
			continue
		}
		if !last.After(threshold) {
			stale = append(stale, entity)
		}
	}
	return stale
}

// lastConsultationDate returns the most recent occurredAt among the live events
// of the entity's selected enrollment whose stage is a consultation stage.
func lastConsultationDate(entity models.TrackedEntity, stages map[string]struct{}) (time.Time, bool) {
	enrollment, ok := entity.FirstEnrollment()
	if !ok {
		return time.Time{}, false
	}

	var (
		last  time.Time
		found bool
	)
	for _, event := range enrollment.Events {
		if event.Deleted {
			continue
		}
		if _, in := stages[event.ProgramStage]; !in {
			continue
		}
		occurred, ok := models.ParseInstant(event.OccurredAt)
		if !ok {
			continue
		}
		if !found || occurred.After(last) {
			last = occurred
			found = true
		}
	}
	return last, found
}
