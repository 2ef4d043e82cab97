// Package fault defines the error taxonomy shared by every pipeline stage.
package fault

import (
	"errors"
	"fmt"
)

// GeometryLoadError reports malformed or unreadable input geometry. It is
// always fatal for the run.
type GeometryLoadError struct {
	Collection string
	Path       string
	ID         string
	Reason     string
	Err        error
}

func (e *GeometryLoadError) Error() string {
	msg := fmt.Sprintf("geometry load: %s", e.Collection)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" id=%q", e.ID)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GeometryLoadError) Unwrap() error {
	return e.Err
}

// NewGeometryLoadError builds a GeometryLoadError for a collection.
func NewGeometryLoadError(collection, path, reason string, err error) *GeometryLoadError {
	return &GeometryLoadError{Collection: collection, Path: path, Reason: reason, Err: err}
}

// NotFoundError reports a lookup of an identifier that an upstream stage
// never produced.
type NotFoundError struct {
	Stage string
	Kind  string
	ID    string
}

func (e *NotFoundError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("not found: %s %q", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s: not found: %s %q", e.Stage, e.Kind, e.ID)
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(stage, kind, id string) *NotFoundError {
	return &NotFoundError{Stage: stage, Kind: kind, ID: id}
}

// SchemaMismatchError reports a raw OD row that is missing a required field
// or carries an invalid value. Row is 1-based and counts data rows only.
type SchemaMismatchError struct {
	Source string
	Row    int
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("schema mismatch: source %s row %d field %q: %s", e.Source, e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema mismatch: source %s field %q: %s", e.Source, e.Field, e.Reason)
}

// ConfigurationError reports an invalid or missing recognized option.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Option, e.Reason)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(option, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Option: option, Reason: fmt.Sprintf(format, args...)}
}

// ToleranceError reports that the ratio of skipped rows in a source exceeded
// the configured tolerance.
type ToleranceError struct {
	Source    string
	Skipped   int
	Total     int
	Tolerance float64
	First     *SchemaMismatchError
}

func (e *ToleranceError) Error() string {
	msg := fmt.Sprintf("source %s: skipped %d of %d rows, above tolerance %.4f",
		e.Source, e.Skipped, e.Total, e.Tolerance)
	if e.First != nil {
		msg += " (first: " + e.First.Error() + ")"
	}
	return msg
}

func (e *ToleranceError) Unwrap() error {
	if e.First == nil {
		return nil
	}
	return e.First
}

// StageError attaches the failing stage name to a structural error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsGeometryLoad reports whether err (or any error in its chain) is a GeometryLoadError.
func IsGeometryLoad(err error) bool {
	var target *GeometryLoadError
	return errors.As(err, &target)
}

// IsNotFound reports whether err (or any error in its chain) is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsSchemaMismatch reports whether err (or any error in its chain) is a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var target *SchemaMismatchError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err (or any error in its chain) is a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsTolerance reports whether err (or any error in its chain) is a ToleranceError.
func IsTolerance(err error) bool {
	var target *ToleranceError
	return errors.As(err, &target)
}

// StageOf returns the stage name attached to err, or "" when none is.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
