package models

import (
	"fmt"
	"strings"
)

// TransportError is a network or HTTP failure while talking to the tracker.
type TransportError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "Unknown error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Operation, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Operation, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when the tracker accepted the request but
// rejected some or all of the submitted objects.
type ValidationError struct {
	Status   ImportStatus
	Message  string
	Reports  []ErrorReport
	Warnings []ErrorReport
}

func (e *ValidationError) Error() string {
	if len(e.Reports) > 0 {
		return strings.Join(e.Messages(), "\n")
	}
	if e.Message != "" {
		return e.Message
	}
	return "Unknown error"
}

// Messages returns the per-object error messages in report order.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Reports))
	for _, report := range e.Reports {
		out = append(out, report.Message)
	}
	return out
}

// NewValidationError builds a ValidationError from an import response body.
func NewValidationError(resp ImportResponse) *ValidationError {
	verr := &ValidationError{Status: resp.Status, Message: resp.Message}
	if resp.ValidationReport != nil {
		verr.Reports = resp.ValidationReport.ErrorReports
		verr.Warnings = resp.ValidationReport.WarningReports
	}
	return verr
}
