// Package errs defines the structured error taxonomy shared by every
// subsystem: mailbox, reservations, lock, deferred, hive, and memory all
// fail through the same Code/Error shape so callers can branch on
// errors.Is instead of parsing strings.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Code names one entry in the taxonomy. Values are stable and safe to
// compare with errors.Is via the sentinel errors below.
type Code string

const (
	NotInitialized       Code = "not_initialized"
	NotFound             Code = "not_found"
	Conflict             Code = "conflict"
	ReservationConflict  Code = "reservation_conflict"
	Cycle                Code = "cycle"
	LockTimeout          Code = "lock_timeout"
	LockContention       Code = "lock_contention"
	LockNotHeld          Code = "lock_not_held"
	TimeoutError         Code = "timeout"
	Validation           Code = "validation"
	SchemaDrift          Code = "schema_drift"
	InferenceUnavailable Code = "inference_unavailable"
	Storage              Code = "storage"
)

// sentinels holds one plain error per Code; Unwrap falls back to it when an
// *Error has no cause, so the unwrap chain always ends in a code value.
var sentinels = map[Code]error{}

func init() {
	for _, c := range []Code{
		NotInitialized, NotFound, Conflict, ReservationConflict, Cycle,
		LockTimeout, LockContention, LockNotHeld, TimeoutError, Validation,
		SchemaDrift, InferenceUnavailable, Storage,
	} {
		sentinels[c] = errors.New(string(c))
	}
}

// Error carries the structured context a coordinating agent needs to
// recover: which agent and cell/epic it touched, when, its place in the
// event sequence, recent events, and suggestions for recovery.
type Error struct {
	Code         Code
	Message      string
	Cause        error
	Agent        string
	CellID       string
	EpicID       string
	Timestamp    time.Time
	Sequence     int64
	RecentEvents []string
	Suggestions  []string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return sentinels[e.Code]
}

// Is lets errors.Is(err, errs.New(Code, "")) match any *Error with the
// same code, regardless of message or context.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return errors.Is(sentinels[e.Code], target)
}

// New builds a minimal structured error. Use With* to attach context.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Timestamp: time.Now()}
}

// Wrap attaches a taxonomy code to an underlying cause (typically a
// storage fault).
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause, Timestamp: time.Now()}
}

func (e *Error) WithAgent(agent string) *Error       { e.Agent = agent; return e }
func (e *Error) WithCell(cellID string) *Error       { e.CellID = cellID; return e }
func (e *Error) WithEpic(epicID string) *Error       { e.EpicID = epicID; return e }
func (e *Error) WithSequence(seq int64) *Error       { e.Sequence = seq; return e }
func (e *Error) WithRecent(events []string) *Error   { e.RecentEvents = events; return e }
func (e *Error) WithSuggestions(s ...string) *Error  { e.Suggestions = append(e.Suggestions, s...); return e }

// CodeOf extracts the taxonomy code from err, or "" if err is nil or not
// one of ours.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
