package models

// EnrollmentStatus represents the lifecycle of a tracker enrollment.
type EnrollmentStatus string

// Possible enrollment statuses reported by the tracker.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// EventStatus represents the lifecycle of a tracker event.
type EventStatus string

const (
	EventStatusActive    EventStatus = "ACTIVE"
	EventStatusCompleted EventStatus = "COMPLETED"
)

// TrackedEntity is a patient record.
type TrackedEntity struct {
	TrackedEntity     string       `json:"trackedEntity"`
	TrackedEntityType string       `json:"trackedEntityType,omitempty"`
	OrgUnit           string       `json:"orgUnit,omitempty"`
	Enrollments       []Enrollment `json:"enrollments"`
}

// FirstEnrollment returns the enrollment selected by the eligibility filter.
func (t TrackedEntity) FirstEnrollment() (Enrollment, bool) {
	if len(t.Enrollments) == 0 {
		return Enrollment{}, false
	}
	return t.Enrollments[0], true
}

// Enrollment is a patient's participation in a tracker program.
type Enrollment struct {
	Enrollment    string           `json:"enrollment"`
	Program       string           `json:"program"`
	OrgUnit       string           `json:"orgUnit"`
	OrgUnitName   string           `json:"orgUnitName,omitempty"`
	TrackedEntity string           `json:"trackedEntity"`
	EnrolledAt    string           `json:"enrolledAt,omitempty"`
	OccurredAt    string           `json:"occurredAt,omitempty"`
	Status        EnrollmentStatus `json:"status"`
	Events        []Event          `json:"events,omitempty"`
}

// Event is a single occurrence within an enrollment, tied to a program stage.
type Event struct {
	Event        string      `json:"event,omitempty"`
	Status       EventStatus `json:"status,omitempty"`
	ProgramStage string      `json:"programStage"`
	Enrollment   string      `json:"enrollment,omitempty"`
	OrgUnit      string      `json:"orgUnit"`
	OrgUnitName  string      `json:"orgUnitName,omitempty"`
	OccurredAt   string      `json:"occurredAt,omitempty"`
	CreatedAt    string      `json:"createdAt,omitempty"`
	UpdatedAt    string      `json:"updatedAt,omitempty"`
	Deleted      bool        `json:"deleted,omitempty"`
	DataValues   []DataValue `json:"dataValues"`
}

// DataValue is a data element value recorded on an event.
type DataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

// ClosurePayload is the write unit submitted to the tracker import endpoint.
type ClosurePayload struct {
	Enrollments []Enrollment `json:"enrollments"`
	Events      []Event      `json:"events"`
}

// Empty reports whether the payload carries nothing to import.
func (p ClosurePayload) Empty() bool {
	return len(p.Enrollments) == 0 && len(p.Events) == 0
}

// FilterResult splits tracked entities into closure candidates and conflicts
// (already completed enrollments that never received a closure event).
type FilterResult struct {
	Eligible  []TrackedEntity
	Conflicts []TrackedEntity
}

// TrackerQuery selects the tracked entities fetched for a closure run.
type TrackerQuery struct {
	ProgramID  string
	OrgUnitIDs []string
	StartDate  string
	EndDate    string
}
