package task

import (
	"fmt"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
)

// transitions is the directed lifecycle graph. cancelled is added for every
// non-terminal source in CanTransition.
var transitions = map[Status][]Status{
	StatusInbox:      {StatusPlanned, StatusInProgress},
	StatusPlanned:    {StatusInProgress, StatusInbox},
	StatusInProgress: {StatusReview, StatusDone, StatusInbox, StatusPending},
	StatusPending:    {StatusInProgress, StatusInbox},
	StatusReview:     {StatusDone, StatusInbox, StatusInProgress},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// Same-status writes are allowed so idempotent updates do not fail.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns domain.ErrInvalidTransition for illegal edges.
func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q: %w", to, domain.ErrValidation)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	return nil
}

// Phase identifies which workflow wants to progress a task.
type Phase int

const (
	// PhaseRun is an agent execution or its completion routing.
	PhaseRun Phase = iota
	// PhasePlannedMeeting is the pre-execution kickoff meeting.
	PhasePlannedMeeting
	// PhaseReviewMeeting is a review consensus round.
	PhaseReviewMeeting
)

// Interrupted reports whether a workflow in the given phase must abort
// because the task moved (cancelled, paused, reset, finished) underneath it.
func Interrupted(s Status, p Phase) bool {
	switch p {
	case PhaseRun:
		return s != StatusInProgress
	case PhasePlannedMeeting:
		return s != StatusPlanned && s != StatusInbox && s != StatusInProgress
	case PhaseReviewMeeting:
		return s != StatusReview
	}
	return true
}
