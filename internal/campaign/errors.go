package campaign

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/segmentry/internal/models"
)

var (
	// ErrNotFound is returned when a campaign does not exist.
	ErrNotFound = errors.New("campaign not found")

	// ErrStepNotFound is returned when a step does not exist.
	ErrStepNotFound = errors.New("campaign step not found")

	// ErrAudienceNotFound is returned when an audience entry does not exist.
	ErrAudienceNotFound = errors.New("campaign audience not found")

	// ErrAlreadyAttached is returned when a segment is attached to a
	// campaign it is already part of.
	ErrAlreadyAttached = errors.New("segment is already attached to campaign")
)

// ValidationError reports a campaign mutation that violates an invariant.
// It is raised before anything is written.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid campaign request: " + e.Reason
}

// GuardError reports a rejected activation with every failed precondition.
type GuardError struct {
	Missing []string
}

func (e *GuardError) Error() string {
	return "cannot activate campaign: " + strings.Join(e.Missing, "; ")
}

// TransitionError reports a lifecycle transition the state machine does not
// define, such as leaving a terminal state.
type TransitionError struct {
	From models.CampaignStatus
	To   models.CampaignStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal campaign transition %s -> %s", e.From, e.To)
}
