package match

import (
	"errors"
	"fmt"
)

var (
	ErrTransitionNotAllowed      = errors.New("transition not allowed")
	ErrValidationRejected        = errors.New("validation rejected")
	ErrPlayerExpelled            = errors.New("Player is expelled.")
	ErrTransientSendFailure      = errors.New("transient send failure")
	ErrSubstitutionRuleViolation = errors.New("substitution rule violation")
	ErrForbidden                 = errors.New("forbidden for role")
	ErrSessionInactive           = errors.New("match session is not active")
	ErrNothingToUndo             = errors.New("no event to undo")
)

// TransitionError names the violated precondition of a rejected period
// transition.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transition %s -> %s not allowed", e.From, e.To)
	}
	return fmt.Sprintf("transition %s -> %s not allowed: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrTransitionNotAllowed }

// ValidationError is an inline-feedback rejection of a single field.
type ValidationError struct {
	Field string
	Msg   string
	Err   error // optional, more specific cause (e.g. ErrPlayerExpelled)
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidationRejected, e.Err}
	}
	return []error{ErrValidationRejected}
}

// Expelled builds the dedicated rejection for an expelled player.
func Expelled(field, playerID string) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf("%s (%s)", ErrPlayerExpelled.Error(), playerID), Err: ErrPlayerExpelled}
}

// TeamStatus is the substitution status the remote rule service reports.
type TeamStatus struct {
	TotalSubstitutions     int  `json:"total_substitutions"`
	MaxSubstitutions       int  `json:"max_substitutions"`
	RemainingSubstitutions int  `json:"remaining_substitutions"`
	WindowsUsed            int  `json:"windows_used"`
	MaxWindows             int  `json:"max_windows"`
	RemainingWindows       int  `json:"remaining_windows"`
	IsExtraTime            bool `json:"is_extra_time"`
	ConcussionSubsUsed     int  `json:"concussion_subs_used"`
}

// SubstitutionViolation blocks confirmation of a substitution. The caller
// keeps its in-progress selection.
type SubstitutionViolation struct {
	Message    string
	TeamStatus TeamStatus
}

func (e *SubstitutionViolation) Error() string {
	return "substitution rejected: " + e.Message
}

func (e *SubstitutionViolation) Unwrap() error { return ErrSubstitutionRuleViolation }
