package lifecycle

import (
	"errors"
	"fmt"

	"quorum/api/internal/resolution"
)

// Trigger names a lifecycle event applied to a resolution.
type Trigger string

const (
	TriggerSecretaryApprove  Trigger = "secretary_approve"
	TriggerSecretaryReject   Trigger = "secretary_reject"
	TriggerCEOApprove        Trigger = "ceo_approve"
	TriggerAccept            Trigger = "accept"
	TriggerReturn            Trigger = "return"
	TriggerReturnToSecretary Trigger = "return_to_secretary"
	TriggerComplete          Trigger = "complete"
	TriggerEscalate          Trigger = "escalate"
)

func ParseTrigger(value string) (Trigger, bool) {
	switch Trigger(value) {
	case TriggerSecretaryApprove, TriggerSecretaryReject, TriggerCEOApprove, TriggerAccept,
		TriggerReturn, TriggerReturnToSecretary, TriggerComplete, TriggerEscalate:
		return Trigger(value), true
	default:
		return "", false
	}
}

// ActionType is the lifecycle entry type recorded in the interaction log
// whenever a trigger is applied. The set is closed; escalation reuses the
// acceptance type and marks itself in the entry payload, and completion is
// recorded as the progress update that closed the work.
type ActionType string

const (
	ActionCreated             ActionType = "create"
	ActionSecretaryApproved   ActionType = "secretary_approved"
	ActionCEOApproved         ActionType = "ceo_approved"
	ActionAccepted            ActionType = "executor_accepted"
	ActionReturned            ActionType = "return"
	ActionReturnedToSecretary ActionType = "return_to_secretary"
	ActionEdited              ActionType = "edit"
	ActionCompleted           ActionType = "progress_update"
	ActionEscalated           ActionType = "executor_accepted"
)

// Outcome is the result of applying a trigger: the status the resolution
// moves to and the log entry type that records the move.
type Outcome struct {
	Status resolution.Status
	Action ActionType
}

// ErrInvalidTransition reports a trigger that the current status does not
// accept. Callers map it to a conflict-style response.
var ErrInvalidTransition = errors.New("invalid transition")

// Initial returns the status a freshly created resolution starts in. A
// secretary's own resolutions skip the secretariat review round.
func Initial(creator resolution.Position) resolution.Status {
	if creator == resolution.PositionSecretary {
		return resolution.StatusPendingCEO
	}
	return resolution.StatusPendingSecretary
}

// Decide applies a trigger to the resolution snapshot and returns the
// outcome. It only validates the state table; whether the acting user may
// fire the trigger is the access engine's concern.
func Decide(trigger Trigger, snap resolution.Snapshot) (Outcome, error) {
	switch trigger {
	case TriggerSecretaryApprove:
		if snap.Status != resolution.StatusPendingSecretary {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusPendingCEO, Action: ActionSecretaryApproved}, nil

	case TriggerSecretaryReject:
		if snap.Status != resolution.StatusPendingSecretary {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusCancelled, Action: ActionReturned}, nil

	case TriggerCEOApprove:
		if snap.Status != resolution.StatusPendingCEO && snap.Status != resolution.StatusReturnedToSecretary {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		if snap.Kind == resolution.KindInformational {
			return Outcome{Status: resolution.StatusCompleted, Action: ActionCEOApproved}, nil
		}
		return Outcome{Status: resolution.StatusNotified, Action: ActionCEOApproved}, nil

	case TriggerAccept:
		if snap.Status != resolution.StatusNotified && snap.Status != resolution.StatusReturnedToSecretary {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusInProgress, Action: ActionAccepted}, nil

	case TriggerReturn:
		if snap.Status != resolution.StatusNotified {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusPendingCEO, Action: ActionReturned}, nil

	case TriggerReturnToSecretary:
		if snap.Status == resolution.StatusReturnedToSecretary {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusReturnedToSecretary, Action: ActionReturnedToSecretary}, nil

	case TriggerComplete:
		if snap.Status != resolution.StatusInProgress {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusCompleted, Action: ActionCompleted}, nil

	case TriggerEscalate:
		if snap.Status != resolution.StatusNotified {
			return Outcome{}, transitionError(trigger, snap.Status)
		}
		return Outcome{Status: resolution.StatusInProgress, Action: ActionEscalated}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown trigger %q: %w", trigger, ErrInvalidTransition)
	}
}

// EditOutcome reports the transition an edit itself causes. A secretary who
// reworks a returned resolution resubmits it to the chief executive; a chief
// executive who edits while the resolution waits on their desk approves it in
// the same stroke, landing on notified or completed by kind. Any other edit
// leaves the status alone.
func EditOutcome(editor resolution.Position, snap resolution.Snapshot) (Outcome, bool) {
	switch editor {
	case resolution.PositionSecretary:
		if snap.Status == resolution.StatusReturnedToSecretary {
			return Outcome{Status: resolution.StatusPendingCEO, Action: ActionSecretaryApproved}, true
		}
	case resolution.PositionCEO:
		if snap.Status == resolution.StatusPendingCEO || snap.Status == resolution.StatusReturnedToSecretary {
			if snap.Kind == resolution.KindInformational {
				return Outcome{Status: resolution.StatusCompleted, Action: ActionCEOApproved}, true
			}
			return Outcome{Status: resolution.StatusNotified, Action: ActionCEOApproved}, true
		}
	}
	return Outcome{}, false
}

func transitionError(trigger Trigger, status resolution.Status) error {
	return fmt.Errorf("%s from %s: %w", trigger, status, ErrInvalidTransition)
}
