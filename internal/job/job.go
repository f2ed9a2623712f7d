package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// DefaultTimeoutSeconds applies when a definition omits its timeout.
const DefaultTimeoutSeconds = 60

// Sentinel causes for validation failures; match with errors.Is.
var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidTimeout  = errors.New("invalid timeout")
	ErrMissingID       = errors.New("job id required")
	ErrMissingCommand  = errors.New("job command required")
)

// Definition describes one schedulable unit: a shell command plus six
// cron-style fields and an execution timeout in seconds.
//
// Definitions are plain values. The datastore keys them by ID; storing a
// definition with an existing ID overwrites it.
type Definition struct {
	ID        string `json:"id"`
	Command   string `json:"command"`
	Second    string `json:"second"`
	Minute    string `json:"minute"`
	Hour      string `json:"hour"`
	Day       string `json:"day"`
	Month     string `json:"month"`
	DayOfWeek string `json:"day_of_week"`
	Timeout   int    `json:"timeout"` // seconds
}

// New returns a definition firing every second with the default timeout.
func New(id, command string) Definition {
	return Definition{ID: id, Command: command}.Normalized()
}

// Normalized fills omitted schedule fields with "*" and the omitted timeout
// with DefaultTimeoutSeconds. It never touches non-empty values, so an
// explicitly invalid definition still fails Validate.
func (d Definition) Normalized() Definition {
	fill := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "*"
		}
		return strings.TrimSpace(s)
	}
	d.Second = fill(d.Second)
	d.Minute = fill(d.Minute)
	d.Hour = fill(d.Hour)
	d.Day = fill(d.Day)
	d.Month = fill(d.Month)
	d.DayOfWeek = fill(d.DayOfWeek)
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeoutSeconds
	}
	return d
}

// Spec renders the six cron fields as a single second-granularity cron
// expression, the format the schedule parser and the cron engine consume.
func (d Definition) Spec() string {
	return strings.Join([]string{d.Second, d.Minute, d.Hour, d.Day, d.Month, d.DayOfWeek}, " ")
}

// fieldParser accepts full six-field expressions (seconds required).
var fieldParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parser returns the cron parser matching Definition's six-field format.
func Parser() cron.Parser { return fieldParser }

// ValidationError reports which part of a definition was rejected.
// It unwraps to one of the sentinel causes above.
type ValidationError struct {
	JobID string
	Field string // schedule field name, or "timeout"
	Value string
	cause error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("job %q: %v", e.JobID, e.cause)
	}
	return fmt.Sprintf("job %q: field %s=%q: %v", e.JobID, e.Field, e.Value, e.cause)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// Validate checks the definition without side effects. Schedule fields are
// checked per position so the error names the offending field.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return &ValidationError{JobID: d.ID, cause: ErrMissingID}
	}
	if strings.TrimSpace(d.Command) == "" {
		return &ValidationError{JobID: d.ID, cause: ErrMissingCommand}
	}

	fields := []struct {
		name  string
		value string
	}{
		{"second", d.Second},
		{"minute", d.Minute},
		{"hour", d.Hour},
		{"day", d.Day},
		{"month", d.Month},
		{"day_of_week", d.DayOfWeek},
	}
	probe := []string{"*", "*", "*", "*", "*", "*"}
	for i, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{JobID: d.ID, Field: f.name, Value: f.value, cause: ErrInvalidSchedule}
		}
		// Substitute a single field into an otherwise-wildcard expression so
		// the parse failure is attributable to this position.
		probe[i] = f.value
		_, err := fieldParser.Parse(strings.Join(probe, " "))
		probe[i] = "*"
		if err != nil {
			return &ValidationError{JobID: d.ID, Field: f.name, Value: f.value, cause: ErrInvalidSchedule}
		}
	}
	// Whole-expression parse catches cross-field issues the per-field probe
	// cannot (fields containing embedded whitespace).
	if _, err := fieldParser.Parse(d.Spec()); err != nil {
		return &ValidationError{JobID: d.ID, Field: "schedule", Value: d.Spec(), cause: ErrInvalidSchedule}
	}

	if d.Timeout <= 0 {
		return &ValidationError{JobID: d.ID, Field: "timeout", Value: fmt.Sprint(d.Timeout), cause: ErrInvalidTimeout}
	}
	return nil
}
