package dto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracker-closure/internal/models"
	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

func validFlags() ClosePatientsFlags {
	return ClosePatientsFlags{
		OrgUnitIDs:      "OU1, OU2,",
		Period:          "2024-01-01-2024-03-01",
		ProgramID:       "P1",
		ProgramStageIDs: "CONSULT1,CONSULT2",
		ClosureStageID:  "CLOSE",
		TimeOfReference: "30",
		PairsDEValue:    "DE1-LTFU,DE2-2024-03-01",
		Comments:        "DECOMMENT-closed by job",
		Post:            true,
		Report:          "reports/closure.csv",
	}
}

func TestParseClosePatientsFlags(t *testing.T) {
	req, err := ParseClosePatientsFlags(validFlags())
	require.NoError(t, err)

	assert.Equal(t, []string{"OU1", "OU2"}, req.OrgUnitIDs)
	assert.Equal(t, "2024-01-01", req.StartDate)
	assert.Equal(t, "2024-03-01", req.EndDate)
	assert.Equal(t, []string{"CONSULT1", "CONSULT2"}, req.ProgramStageIDs)
	require.NotNil(t, req.TimeOfReference)
	assert.Equal(t, 30, *req.TimeOfReference)
	assert.Equal(t, []DataValuePair{{"DE1", "LTFU"}, {"DE2", "2024-03-01"}}, req.DataValuePairs)
	require.NotNil(t, req.Comment)
	assert.Equal(t, DataValuePair{"DECOMMENT", "closed by job"}, *req.Comment)

	opts := req.ToOptions()
	assert.Equal(t, models.RunModeSubmit, opts.Mode())
	assert.Equal(t, []models.Pair{{Key: "DE1", Value: "LTFU"}, {Key: "DE2", Value: "2024-03-01"}}, opts.DataValuePairs)
	assert.Equal(t, &models.Pair{Key: "DECOMMENT", Value: "closed by job"}, opts.Comment)
	assert.Equal(t, "reports/closure.csv", opts.ReportPath)
}

func TestParseClosePatientsFlagsRejectsBadInput(t *testing.T) {
	cases := map[string]func(*ClosePatientsFlags){
		"missing stages":     func(f *ClosePatientsFlags) { f.ProgramStageIDs = " , " },
		"missing pairs":      func(f *ClosePatientsFlags) { f.PairsDEValue = "" },
		"malformed pair":     func(f *ClosePatientsFlags) { f.PairsDEValue = "DE1" },
		"non numeric tor":    func(f *ClosePatientsFlags) { f.TimeOfReference = "thirty" },
		"negative tor":       func(f *ClosePatientsFlags) { f.TimeOfReference = "-1" },
		"missing program":    func(f *ClosePatientsFlags) { f.ProgramID = "" },
		"missing closure":    func(f *ClosePatientsFlags) { f.ClosureStageID = "" },
		"bad period":         func(f *ClosePatientsFlags) { f.Period = "2024-01-01" },
		"reversed period":    func(f *ClosePatientsFlags) { f.Period = "2024-03-01-2024-01-01" },
		"malformed comment":  func(f *ClosePatientsFlags) { f.Comments = "no dash here" },
		"unparseable period": func(f *ClosePatientsFlags) { f.Period = "jan-feb" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			flags := validFlags()
			mutate(&flags)
			_, err := ParseClosePatientsFlags(flags)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation))
		})
	}
}

func TestParseClosePatientsFlagsOptionalParts(t *testing.T) {
	flags := validFlags()
	flags.OrgUnitIDs = ""
	flags.Period = ""
	flags.Comments = ""
	flags.Post = false

	req, err := ParseClosePatientsFlags(flags)
	require.NoError(t, err)
	assert.Nil(t, req.OrgUnitIDs)
	assert.Empty(t, req.StartDate)
	assert.Nil(t, req.Comment)
	assert.Equal(t, models.RunModePreview, req.ToOptions().Mode())
}

func TestParsePeriod(t *testing.T) {
	start, end, err := ParsePeriod("20240101-20240301")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", start)
	assert.Equal(t, "2024-03-01", end)

	start, end, err = ParsePeriod("2024-01-01-2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", start)
	assert.Equal(t, "2024-03-01", end)

	_, _, err = ParsePeriod("2024-01-01-")
	require.Error(t, err)
}

func TestParsePairSplitsOnFirstDash(t *testing.T) {
	pair, err := ParsePair("DE1-value-with-dashes")
	require.NoError(t, err)
	assert.Equal(t, DataValuePair{DataElement: "DE1", Value: "value-with-dashes"}, pair)

	_, err = ParsePair("-value")
	require.Error(t, err)
}

func TestClosePatientsRequestValidate(t *testing.T) {
	tor := 30
	req := ClosePatientsRequest{
		ProgramID:       "P1",
		ProgramStageIDs: []string{"CONSULT"},
		ClosureStageID:  "CLOSE",
		TimeOfReference: &tor,
		DataValuePairs:  []DataValuePair{{DataElement: "DE1", Value: "V"}},
	}
	require.NoError(t, req.Validate())

	req.TimeOfReference = nil
	require.Error(t, req.Validate())

	req.TimeOfReference = &tor
	req.DataValuePairs = []DataValuePair{{DataElement: "DE1"}}
	require.Error(t, req.Validate())
}

func TestClosePatientsRequestValidateQueuedReportName(t *testing.T) {
	req, err := ParseClosePatientsFlags(validFlags())
	require.NoError(t, err)
	require.NoError(t, req.ValidateQueued())

	for _, report := range []string{"../owned.csv", "../../escaped/owned.csv", "a/../../owned.csv", `..\owned.csv`, "/tmp/owned.csv"} {
		req.Report = report
		err := req.ValidateQueued()
		require.Error(t, err, report)
		assert.True(t, errors.Is(err, appErrors.ErrValidation), report)
	}

	req.Report = "nested/..closure.csv"
	assert.NoError(t, req.ValidateQueued())
}

func TestParseClosePatientsFlagsKeepsAbsoluteReport(t *testing.T) {
	flags := validFlags()
	flags.Report = "/var/lib/closure/report.csv"
	req, err := ParseClosePatientsFlags(flags)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/closure/report.csv", req.ToOptions().ReportPath)
}
