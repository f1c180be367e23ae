package dto

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tracker-closure/internal/models"
	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

// DataValuePair is a data element and the value stamped on closure events.
type DataValuePair struct {
	DataElement string `json:"dataElement" validate:"required"`
	Value       string `json:"value" validate:"required"`
}

// ClosePatientsRequest captures POST /closures and POST /closures/preview payloads.
type ClosePatientsRequest struct {
	OrgUnitIDs      []string        `json:"orgUnitIds,omitempty" validate:"omitempty,dive,required"`
	StartDate       string          `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate         string          `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ProgramID       string          `json:"programId" validate:"required"`
	ProgramStageIDs []string        `json:"programStageIds" validate:"required,min=1,dive,required"`
	ClosureStageID  string          `json:"closureStageId" validate:"required"`
	TimeOfReference *int            `json:"timeOfReference" validate:"required,gte=0"`
	DataValuePairs  []DataValuePair `json:"dataValuePairs" validate:"required,min=1,dive"`
	Comment         *DataValuePair  `json:"comment,omitempty" validate:"omitempty"`
	Post            bool            `json:"post"`
	Report          string          `json:"report,omitempty"`
}

// ClosureRunResponse is returned once a run is queued or finished.
type ClosureRunResponse struct {
	ID    string          `json:"id"`
	State models.RunState `json:"state"`
}

// ClosurePreviewResponse is returned by the synchronous preview endpoint.
type ClosurePreviewResponse struct {
	State     models.RunState       `json:"state"`
	Counts    models.RunCounts      `json:"counts"`
	Payload   models.ClosurePayload `json:"payload"`
	Conflicts []string              `json:"conflicts"`
}

const dateLayout = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("reportname", func(fl validator.FieldLevel) bool {
		return isReportName(fl.Field().String())
	})
	return v
}

// isReportName accepts relative names that stay inside the reports directory.
func isReportName(name string) bool {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) || filepath.VolumeName(name) != "" {
		return false
	}
	for _, segment := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return false
		}
	}
	return true
}

// Validate checks struct tags and cross-field rules.
func (r ClosePatientsRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, validationMessage(err))
	}
	if r.StartDate != "" && r.EndDate != "" && r.StartDate > r.EndDate {
		return appErrors.Clone(appErrors.ErrValidation, "startDate must not be after endDate")
	}
	return nil
}

// ValidateQueued applies Validate plus the rules for runs submitted over HTTP:
// the report, when set, must be a relative name without ".." segments.
func (r ClosePatientsRequest) ValidateQueued() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Report == "" {
		return nil
	}
	if err := validate.Var(r.Report, "reportname"); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "report must be a relative name inside the reports directory")
	}
	return nil
}

// ToOptions converts a validated request into run options.
func (r ClosePatientsRequest) ToOptions() models.ClosePatientsOptions {
	opts := models.ClosePatientsOptions{
		OrgUnitIDs:      r.OrgUnitIDs,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		ProgramID:       r.ProgramID,
		ProgramStageIDs: r.ProgramStageIDs,
		ClosureStageID:  r.ClosureStageID,
		Post:            r.Post,
		ReportPath:      r.Report,
	}
	if r.TimeOfReference != nil {
		opts.TimeOfReference = *r.TimeOfReference
	}
	opts.DataValuePairs = make([]models.Pair, 0, len(r.DataValuePairs))
	for _, p := range r.DataValuePairs {
		opts.DataValuePairs = append(opts.DataValuePairs, models.Pair{Key: p.DataElement, Value: p.Value})
	}
	if r.Comment != nil {
		opts.Comment = &models.Pair{Key: r.Comment.DataElement, Value: r.Comment.Value}
	}
	return opts
}

// ClosePatientsFlags holds the raw command-line values of `patients close`.
type ClosePatientsFlags struct {
	OrgUnitIDs      string
	Period          string
	ProgramID       string
	ProgramStageIDs string
	ClosureStageID  string
	TimeOfReference string
	PairsDEValue    string
	Comments        string
	Post            bool
	Report          string
}

// ParseClosePatientsFlags turns raw flag strings into a validated request.
func ParseClosePatientsFlags(f ClosePatientsFlags) (ClosePatientsRequest, error) {
	req := ClosePatientsRequest{
		OrgUnitIDs:      SplitCommaList(f.OrgUnitIDs),
		ProgramID:       strings.TrimSpace(f.ProgramID),
		ProgramStageIDs: SplitCommaList(f.ProgramStageIDs),
		ClosureStageID:  strings.TrimSpace(f.ClosureStageID),
		Post:            f.Post,
		Report:          strings.TrimSpace(f.Report),
	}
	if len(req.ProgramStageIDs) == 0 {
		return req, appErrors.Clone(appErrors.ErrValidation, "Missing program stages IDs")
	}

	if strings.TrimSpace(f.Period) != "" {
		start, end, err := ParsePeriod(f.Period)
		if err != nil {
			return req, err
		}
		req.StartDate, req.EndDate = start, end
	}

	days, err := strconv.Atoi(strings.TrimSpace(f.TimeOfReference))
	if err != nil {
		return req, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time of reference must be a number of days, got %q", f.TimeOfReference))
	}
	req.TimeOfReference = &days

	pairs, err := ParsePairs(f.PairsDEValue)
	if err != nil {
		return req, err
	}
	if len(pairs) == 0 {
		return req, appErrors.Clone(appErrors.ErrValidation, "Missing data element value pairs")
	}
	req.DataValuePairs = pairs

	if strings.TrimSpace(f.Comments) != "" {
		comment, err := ParsePair(f.Comments)
		if err != nil {
			return req, err
		}
		req.Comment = &comment
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// SplitCommaList splits "a,b, c" into trimmed non-empty items.
func SplitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParsePair splits "KEY-value" on the first dash. Values may contain dashes.
func ParsePair(raw string) (DataValuePair, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(raw), "-")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return DataValuePair{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid pair %q, expected KEY-value", raw))
	}
	return DataValuePair{DataElement: key, Value: value}, nil
}

// ParsePairs parses "DE1-Value1,DE2-Value2".
func ParsePairs(raw string) ([]DataValuePair, error) {
	items := SplitCommaList(raw)
	pairs := make([]DataValuePair, 0, len(items))
	for _, item := range items {
		pair, err := ParsePair(item)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// ParsePeriod splits a dash-separated date pair. Both "20240101-20240301" and
// "2024-01-01-2024-03-01" are accepted.
func ParsePeriod(raw string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	var start, end string
	switch {
	case len(parts) == 2:
		start, end = parts[0], parts[1]
	case len(parts) > 2 && len(parts)%2 == 0:
		half := len(parts) / 2
		start, end = strings.Join(parts[:half], "-"), strings.Join(parts[half:], "-")
	default:
		return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid period %q, expected START-END", raw))
	}
	start, end = normaliseDate(strings.TrimSpace(start)), normaliseDate(strings.TrimSpace(end))
	for _, d := range []string{start, end} {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid period %q, expected YYYY-MM-DD-YYYY-MM-DD", raw))
		}
	}
	return start, end, nil
}

// normaliseDate rewrites compact YYYYMMDD dates as YYYY-MM-DD.
func normaliseDate(s string) string {
	if len(s) == 8 {
		if _, err := strconv.Atoi(s); err == nil {
			return s[:4] + "-" + s[4:6] + "-" + s[6:]
		}
	}
	return s
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return appErrors.ErrValidation.Message
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
