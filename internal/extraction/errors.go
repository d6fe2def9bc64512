package extraction

// Error codes reference
//
// Errors returned by the engine are classified with the sentinels below and
// mapped to coded user messages by [MapError]:
//
//	EXT001 - Unknown format: no extraction type matches the request
//	         Sentinel: ErrNotFound
//
//	EXT002 - Ambiguous format: several extraction types match the request
//	         Sentinel: ErrAmbiguous
//
//	EXT003 - Invalid request: the filter or strata do not fit the type
//	         Sentinel: ErrDataIntegrity
//
//	EXT004 - No data: the extraction produced no rows
//	         Sentinel: ErrNoData
//
//	EXT005 - Storage failure: the database rejected an operation
//	         Sentinel: ErrTechnical, or any pgx/sqlite error
//
//	EXT006 - Timeout: the execution ran past its deadline
//	         Patterns: context.DeadlineExceeded
//
//	EXT007 - System busy: all execution slots are taken
//	         Sentinel: ErrTooManyExecutions
//
//	ERR000 - Unknown error: fallback, check the logs for the original error
//
// ErrNoData is marked as ErrNotFound, so errors.Is(err, ErrNotFound) holds
// for both. Check ErrNoData first when the distinction matters.

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound: unresolved type, unknown product.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous: more than one type matches a loose reference.
	ErrAmbiguous = errors.New("ambiguous")

	// ErrDataIntegrity: malformed filter or strata, raised before any I/O.
	ErrDataIntegrity = errors.New("invalid filter or strata")

	// ErrNoData: execution produced no rows.
	ErrNoData = errors.Mark(errors.New("no data"), ErrNotFound)

	// ErrTechnical: storage failure during execute, read or dump.
	ErrTechnical = errors.New("storage failure")

	// ErrTooManyExecutions is returned when no execution slot frees up in time.
	ErrTooManyExecutions = errors.New("too many concurrent executions, please try again later")
)

func notFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

func ambiguousf(format string, args ...any) error {
	return errors.Wrapf(ErrAmbiguous, format, args...)
}

func integrityf(format string, args ...any) error {
	return errors.Wrapf(ErrDataIntegrity, format, args...)
}

func noDataf(format string, args ...any) error {
	return errors.Wrapf(ErrNoData, format, args...)
}

// technical marks a storage error, keeping its message and cause.
func technical(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrTechnical)
}

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

type errorClass struct {
	target error
	msg    UserMessage
}

// Order matters: ErrNoData must be tested before ErrNotFound.
var errorClasses = []errorClass{
	{ErrNoData, UserMessage{
		Message: "The extraction produced no data",
		Action:  "Widen the filter criteria",
		Code:    "EXT004",
	}},
	{ErrNotFound, UserMessage{
		Message: "Unknown extraction format",
		Action:  "Check the format, version or product label",
		Code:    "EXT001",
	}},
	{ErrAmbiguous, UserMessage{
		Message: "Several extraction formats match",
		Action:  "Specify the category or version",
		Code:    "EXT002",
	}},
	{ErrDataIntegrity, UserMessage{
		Message: "The filter or strata are not valid for this extraction",
		Action:  "Check sheet and column names",
		Code:    "EXT003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "The extraction timed out",
		Action:  "Narrow the filter or try again later",
		Code:    "EXT006",
	}},
	{ErrTooManyExecutions, UserMessage{
		Message: "System is busy processing other extractions",
		Action:  "Please wait a moment and try again",
		Code:    "EXT007",
	}},
	{ErrTechnical, storageMessage},
}

var storageMessage = UserMessage{
	Message: "The database rejected the operation",
	Action:  "Please try again or contact support",
	Code:    "EXT005",
}

// storage errors that escaped marking
var storagePatterns = []string{
	"sqlstate",
	"sqlite",
	"connection refused",
	"connection reset",
	"deadlock",
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
// Returns the zero UserMessage for a nil error and ERR000 when nothing matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range storagePatterns {
		if strings.Contains(errStr, p) {
			return storageMessage
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
