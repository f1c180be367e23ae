package service

import (
	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/models"
)

// EligibilityCriteria selects the enrollment that a closure run looks at.
type EligibilityCriteria struct {
	ProgramID      string
	ClosureStageID string
	// OrgUnitIDs restricts enrollments to these org units; empty keeps all.
	OrgUnitIDs []string
}

// FilterEnrollmentsWithoutClosure picks, per tracked entity, the first enrollment
// of the target program inside the allowed org units and classifies it:
// ACTIVE without a closure event is eligible, COMPLETED without one is a
// conflict. Returned entities carry only the selected enrollment.
func FilterEnrollmentsWithoutClosure(entities []models.TrackedEntity, criteria EligibilityCriteria, logger *zap.Logger) models.FilterResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := toSet(criteria.OrgUnitIDs)

	result := models.FilterResult{
		Eligible:  make([]models.TrackedEntity, 0),
		Conflicts: make([]models.TrackedEntity, 0),
	}
	for _, entity := range entities {
		enrollment, ok := selectEnrollment(entity, criteria.ProgramID, allowed, logger)
		if !ok {
			continue
		}
		if hasClosureEvent(enrollment, criteria.ClosureStageID) {
			continue
		}

		selected := entity
		selected.Enrollments = []models.Enrollment{enrollment}

		switch enrollment.Status {
		case models.EnrollmentStatusActive:
			result.Eligible = append(result.Eligible, selected)
		case models.EnrollmentStatusCompleted:
			result.Conflicts = append(result.Conflicts, selected)
		}
	}
	return result
}

func selectEnrollment(entity models.TrackedEntity, programID string, allowed map[string]struct{}, logger *zap.Logger) (models.Enrollment, bool) {
	for _, enrollment := range entity.Enrollments {
		normalised, ok := normaliseOrgUnit(enrollment)
		if !ok {
			logger.Error("enrollment events span more than one org unit",
				zap.String("tracked_entity", entity.TrackedEntity),
				zap.String("enrollment", enrollment.Enrollment),
			)
			continue
		}
		if len(allowed) > 0 {
			if _, in := allowed[normalised.OrgUnit]; !in {
				continue
			}
		}
		if normalised.Program == programID {
			return normalised, true
		}
	}
	return models.Enrollment{}, false
}

// normaliseOrgUnit works around enrollments reported under the wrong org unit:
// when the enrollment's live events agree on a single org unit, that one wins.
// Events that disagree make the enrollment unusable.
func normaliseOrgUnit(enrollment models.Enrollment) (models.Enrollment, bool) {
	var orgUnit, orgUnitName string
	for _, event := range enrollment.Events {
		if event.OrgUnit == "" || event.Deleted {
			continue
		}
		if orgUnit != "" && event.OrgUnit != orgUnit {
			return enrollment, false
		}
		orgUnit = event.OrgUnit
		if event.OrgUnitName != "" {
			orgUnitName = event.OrgUnitName
		}
	}
	if orgUnit != "" {
		enrollment.OrgUnit = orgUnit
		if orgUnitName != "" {
			enrollment.OrgUnitName = orgUnitName
		}
	}
	return enrollment, true
}

func hasClosureEvent(enrollment models.Enrollment, closureStageID string) bool {
	for _, event := range enrollment.Events {
		if event.ProgramStage == closureStageID && !event.Deleted {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
