package rbac

import "quorum/api/internal/resolution"

// CanView reports whether the actor may open the resolution at all.
// Oversight positions see every resolution; everyone else must appear on it.
func CanView(actor resolution.Actor, snap resolution.Snapshot) bool {
	switch actor.Position {
	case resolution.PositionSecretary, resolution.PositionCEO, resolution.PositionAuditor:
		return true
	}
	return snap.IsRelated(actor.ID)
}

// CanChat reports whether the actor may read and post in the resolution
// conversation. Membership shifts with status: during approval rounds the
// conversation belongs to the oversight chain and the executor, once work
// starts it belongs to the working group and the secretary drops out.
func CanChat(actor resolution.Actor, snap resolution.Snapshot) bool {
	switch snap.Status {
	case resolution.StatusNotified, resolution.StatusPendingCEO, resolution.StatusReturnedToSecretary:
		if actor.Position == resolution.PositionSecretary ||
			actor.Position == resolution.PositionCEO ||
			actor.Position == resolution.PositionAuditor {
			return true
		}
		return actor.ID == snap.ExecutorID
	case resolution.StatusInProgress, resolution.StatusCompleted:
		if actor.Position == resolution.PositionSecretary {
			return false
		}
		if actor.Position == resolution.PositionCEO || actor.Position == resolution.PositionAuditor {
			return true
		}
		return actor.ID == snap.ExecutorID ||
			snap.IsCoworker(actor.ID) || snap.IsInformUnit(actor.ID) || snap.IsParticipant(actor.ID)
	default:
		if actor.Position == resolution.PositionCEO {
			return true
		}
		return actor.ID == snap.ExecutorID || actor.ID == snap.CreatorID ||
			snap.IsCoworker(actor.ID) || snap.IsInformUnit(actor.ID) || snap.IsParticipant(actor.ID)
	}
}

// CanEdit reports whether the actor may change the resolution body. The
// secretary can always edit; the chief executive only while the resolution
// waits on their desk. Auditors never edit.
func CanEdit(actor resolution.Actor, snap resolution.Snapshot) bool {
	switch actor.Position {
	case resolution.PositionSecretary:
		return true
	case resolution.PositionCEO:
		return snap.Status == resolution.StatusPendingCEO || snap.Status == resolution.StatusReturnedToSecretary
	default:
		return false
	}
}

// CanPostProgress reports whether the actor may record a progress update.
// Progress only moves while the work is underway; auditors observe but never
// report progress themselves.
func CanPostProgress(actor resolution.Actor, snap resolution.Snapshot) bool {
	if actor.Position == resolution.PositionAuditor {
		return false
	}
	if snap.Status != resolution.StatusInProgress {
		return false
	}
	return CanChat(actor, snap)
}

// CanRefer reports whether the actor may pull additional users into the
// resolution as participants via referral.
func CanRefer(actor resolution.Actor, snap resolution.Snapshot) bool {
	return actor.ID == snap.ExecutorID || snap.IsCoworker(actor.ID)
}

// CanManageParticipants reports whether the actor's position allows adding
// or removing participants. The subordinate check happens against the
// supervision chain and lives with the caller.
func CanManageParticipants(actor resolution.Actor) bool {
	return actor.Position == resolution.PositionDeputy || actor.Position == resolution.PositionManager
}
