package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RunState captures the lifecycle of a closure run.
type RunState string

const (
	RunStateQueued    RunState = "QUEUED"
	RunStateRunning   RunState = "RUNNING"
	RunStatePrinted   RunState = "PRINTED"
	RunStateSubmitted RunState = "SUBMITTED"
	RunStateFailed    RunState = "FAILED"
)

// Terminal reports whether no further transition is expected.
func (s RunState) Terminal() bool {
	return s == RunStatePrinted || s == RunStateSubmitted || s == RunStateFailed
}

// RunMode distinguishes previews from submissions.
type RunMode string

const (
	RunModePreview RunMode = "preview"
	RunModeSubmit  RunMode = "submit"
)

// Pair is an ordered (key, value) couple parsed from "KEY-value" arguments.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ClosePatientsOptions drives one closure run.
type ClosePatientsOptions struct {
	OrgUnitIDs      []string `json:"orgUnitIds,omitempty"`
	StartDate       string   `json:"startDate,omitempty"`
	EndDate         string   `json:"endDate,omitempty"`
	ProgramID       string   `json:"programId"`
	ProgramStageIDs []string `json:"programStageIds"`
	ClosureStageID  string   `json:"closureStageId"`
	TimeOfReference int      `json:"timeOfReference"`
	DataValuePairs  []Pair   `json:"dataValuePairs"`
	Comment         *Pair    `json:"comment,omitempty"`
	Post            bool     `json:"post"`
	ReportPath      string   `json:"reportPath,omitempty"`
}

// Mode returns the run mode implied by the post flag.
func (o ClosePatientsOptions) Mode() RunMode {
	if o.Post {
		return RunModeSubmit
	}
	return RunModePreview
}

// Value marshals options to JSON for persistence.
func (o ClosePatientsOptions) Value() (driver.Value, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal closure options: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the options struct.
func (o *ClosePatientsOptions) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan closure options: %w", err)
	}
	if len(data) == 0 {
		*o = ClosePatientsOptions{}
		return nil
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("unmarshal closure options: %w", err)
	}
	return nil
}

// RunCounts summarises what a run found and produced.
type RunCounts struct {
	Eligible    int `db:"eligible_count" json:"eligible"`
	Conflicts   int `db:"conflict_count" json:"conflicts"`
	Enrollments int `db:"enrollment_count" json:"enrollments"`
	Events      int `db:"event_count" json:"events"`
}

// NullableStats persists import stats as JSONB, NULL when absent.
type NullableStats struct {
	Stats *Stats
}

// Value marshals stats to JSON for persistence.
func (s NullableStats) Value() (driver.Value, error) {
	if s.Stats == nil {
		return nil, nil
	}
	data, err := json.Marshal(s.Stats)
	if err != nil {
		return nil, fmt.Errorf("marshal run stats: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the stats pointer.
func (s *NullableStats) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan run stats: %w", err)
	}
	if len(data) == 0 {
		s.Stats = nil
		return nil
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return fmt.Errorf("unmarshal run stats: %w", err)
	}
	s.Stats = &stats
	return nil
}

// MarshalJSON exposes the wrapped stats directly.
func (s NullableStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Stats)
}

// ClosureRun is the persisted record of one closure run.
type ClosureRun struct {
	RunCounts

	ID           string               `db:"id" json:"id"`
	ProgramID    string               `db:"program_id" json:"programId"`
	Mode         RunMode              `db:"mode" json:"mode"`
	Options      ClosePatientsOptions `db:"options" json:"options"`
	State        RunState             `db:"state" json:"state"`
	Stats        NullableStats        `db:"stats" json:"stats"`
	ReportPath   *string              `db:"report_path" json:"reportPath,omitempty"`
	ErrorMessage *string              `db:"error_message" json:"errorMessage,omitempty"`
	CreatedBy    string               `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time            `db:"created_at" json:"createdAt"`
	FinishedAt   *time.Time           `db:"finished_at" json:"finishedAt,omitempty"`
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
