package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/tracker-closure/internal/models"
)

func TestFilterStaleEntities(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	entities := []models.TrackedEntity{
		trackedEntity("OLD", enrollment("EN1", "P1", "OU1", models.EnrollmentStatusActive, event("CONSULT1", "OU1", "2024-01-01"))),
		trackedEntity("RECENT", enrollment("EN2", "P1", "OU1", models.EnrollmentStatusActive,
			event("CONSULT1", "OU1", "2024-01-01"),
			event("CONSULT2", "OU1", "2024-02-20"),
		)),
		trackedEntity("NONE", enrollment("EN3", "P1", "OU1", models.EnrollmentStatusActive, event("OTHER", "OU1", "2023-01-01"))),
		trackedEntity("EMPTY"),
	}

	stale := FilterStaleEntities(entities, []string{"CONSULT1", "CONSULT2"}, 30, now)

	ids := make([]string, 0, len(stale))
	for _, e := range stale {
		ids = append(ids, e.TrackedEntity)
	}
	assert.Equal(t, []string{"OLD"}, ids)
}

func TestFilterStaleEntitiesThresholdIsInclusive(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	onThreshold := now.AddDate(0, 0, -30).Format("2006-01-02T15:04:05")
	justAfter := now.AddDate(0, 0, -30).Add(time.Minute).Format("2006-01-02T15:04:05")

	entities := []models.TrackedEntity{
		trackedEntity("TIE", enrollment("EN1", "P1", "OU1", models.EnrollmentStatusActive, event("CONSULT1", "OU1", onThreshold))),
		trackedEntity("AFTER", enrollment("EN2", "P1", "OU1", models.EnrollmentStatusActive, event("CONSULT1", "OU1", justAfter))),
	}

	stale := FilterStaleEntities(entities, []string{"CONSULT1"}, 30, now)
	if assert.Len(t, stale, 1) {
		assert.Equal(t, "TIE", stale[0].TrackedEntity)
	}
}

func TestFilterStaleEntitiesSkipsDeletedAndUnparseableEvents(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	deleted := event("CONSULT1", "OU1", "2024-02-28")
	deleted.Deleted = true

	entities := []models.TrackedEntity{
		trackedEntity("E1", enrollment("EN1", "P1", "OU1", models.EnrollmentStatusActive,
			event("CONSULT1", "OU1", "2024-01-01"),
			deleted,
			event("CONSULT1", "OU1", "not-a-date"),
		)),
		trackedEntity("E2", enrollment("EN2", "P1", "OU1", models.EnrollmentStatusActive, event("CONSULT1", "OU1", ""))),
	}

	stale := FilterStaleEntities(entities, []string{"CONSULT1"}, 30, now)
	if assert.Len(t, stale, 1) {
		assert.Equal(t, "E1", stale[0].TrackedEntity)
	}
}

func TestFilterStaleEntitiesWithoutQualifyingEventsNeverStale(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	deleted := event("CONSULT1", "OU1", "2020-01-01")
	deleted.Deleted = true
	entities := []models.TrackedEntity{
		trackedEntity("OTHER_STAGE", enrollment("EN1", "P1", "OU1", models.EnrollmentStatusActive, event("OTHER", "OU1", "2020-01-01"))),
		trackedEntity("ONLY_DELETED", enrollment("EN2", "P1", "OU1", models.EnrollmentStatusActive, deleted)),
		trackedEntity("NO_EVENTS", enrollment("EN3", "P1", "OU1", models.EnrollmentStatusActive)),
		trackedEntity("NO_ENROLLMENT"),
	}

	for _, tor := range []int{0, -30, 30, 36500, -36500} {
		t.Run(fmt.Sprintf("tor=%d", tor), func(t *testing.T) {
			assert.Empty(t, FilterStaleEntities(entities, []string{"CONSULT1"}, tor, now))
		})
	}
}
