package models

// ImportStatus is the overall outcome reported by the tracker import endpoint.
type ImportStatus string

const (
	ImportStatusOK      ImportStatus = "OK"
	ImportStatusError   ImportStatus = "ERROR"
	ImportStatusWarning ImportStatus = "WARNING"
)

// TrackerType names the kind of object an import report refers to.
type TrackerType string

const (
	TrackerTypeTrackedEntity TrackerType = "TRACKED_ENTITY"
	TrackerTypeEnrollment    TrackerType = "ENROLLMENT"
	TrackerTypeEvent         TrackerType = "EVENT"
	TrackerTypeRelationship  TrackerType = "RELATIONSHIP"
)

// TrackerTypes lists tracker types in the order reports are written.
var TrackerTypes = []TrackerType{
	TrackerTypeTrackedEntity,
	TrackerTypeEnrollment,
	TrackerTypeEvent,
	TrackerTypeRelationship,
}

// Stats counts the objects touched by an import.
type Stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Ignored int `json:"ignored"`
	Total   int `json:"total"`
}

// ErrorReport describes a single rejected or warned object.
type ErrorReport struct {
	Message     string      `json:"message"`
	ErrorCode   string      `json:"errorCode,omitempty"`
	WarningCode string      `json:"warningCode,omitempty"`
	TrackerType TrackerType `json:"trackerType"`
	UID         string      `json:"uid"`
}

// Code returns the error code, or the warning code for warning reports.
func (r ErrorReport) Code() string {
	if r.ErrorCode != "" {
		return r.ErrorCode
	}
	return r.WarningCode
}

// ValidationReport lists the objects the tracker refused or warned about.
type ValidationReport struct {
	ErrorReports   []ErrorReport `json:"errorReports,omitempty"`
	WarningReports []ErrorReport `json:"warningReports,omitempty"`
}

// ObjectReport is the per-object outcome inside a type report.
type ObjectReport struct {
	TrackerType  TrackerType   `json:"trackerType"`
	UID          string        `json:"uid"`
	Index        int           `json:"index"`
	ErrorReports []ErrorReport `json:"errorReports"`
}

// TypeReport aggregates object reports for one tracker type.
type TypeReport struct {
	TrackerType   TrackerType    `json:"trackerType"`
	Stats         Stats          `json:"stats"`
	ObjectReports []ObjectReport `json:"objectReports"`
}

// BundleReport is the commit report of a synchronous import.
type BundleReport struct {
	Status        ImportStatus               `json:"status"`
	Stats         Stats                      `json:"stats"`
	TypeReportMap map[TrackerType]TypeReport `json:"typeReportMap"`
}

// ImportResponse is the body returned by POST /api/tracker.
type ImportResponse struct {
	Status           ImportStatus      `json:"status"`
	Message          string            `json:"message,omitempty"`
	Stats            Stats             `json:"stats"`
	BundleReport     *BundleReport     `json:"bundleReport,omitempty"`
	ValidationReport *ValidationReport `json:"validationReport,omitempty"`
}

// SaveResult is what a successful submission yields.
type SaveResult struct {
	Stats        Stats         `json:"stats"`
	BundleReport *BundleReport `json:"bundleReport,omitempty"`
}
