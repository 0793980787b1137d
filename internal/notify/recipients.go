package notify

import (
	"sort"

	"quorum/api/internal/resolution"
)

// EventKind names a lifecycle or conversation event that fans out to users.
type EventKind string

const (
	EventSubmitted          EventKind = "submitted"
	EventSecretaryApproved  EventKind = "secretary_approved"
	EventSecretaryRejected  EventKind = "secretary_rejected"
	EventCEOApproved        EventKind = "ceo_approved"
	EventAccepted           EventKind = "accepted"
	EventReturned           EventKind = "returned"
	EventReturnedToCreator  EventKind = "returned_to_secretary"
	EventEscalated          EventKind = "escalated"
	EventProgressUpdated    EventKind = "progress_updated"
	EventCompleted          EventKind = "completed"
	EventReferred           EventKind = "referred"
	EventParticipantAdded   EventKind = "participant_added"
	EventParticipantRemoved EventKind = "participant_removed"
	EventMentioned          EventKind = "mentioned"
	EventReplied            EventKind = "replied"
	EventDeadlineNear       EventKind = "deadline_approaching"
)

// Directory carries the position-wide audiences a snapshot cannot know.
type Directory struct {
	SecretaryIDs []string
	CEOIDs       []string
	AuditorIDs   []string
}

// Event is one occurrence to fan out. TargetIDs carries the users the event
// explicitly names: referred users, added or removed participants, mentioned
// users, the author being replied to.
type Event struct {
	Kind      EventKind
	ActorID   string
	TargetIDs []string
}

// Recipients computes who an event reaches. It is pure: the same snapshot,
// directory and event always produce the same sorted, deduplicated list.
// The acting user is never among the recipients.
func Recipients(snap resolution.Snapshot, dir Directory, ev Event) []string {
	set := make(map[string]struct{})
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" && id != ev.ActorID {
				set[id] = struct{}{}
			}
		}
	}

	switch ev.Kind {
	case EventSubmitted:
		if snap.Status == resolution.StatusPendingCEO {
			add(dir.CEOIDs...)
		} else {
			add(dir.SecretaryIDs...)
		}
	case EventSecretaryApproved:
		add(snap.CreatorID)
		add(dir.CEOIDs...)
	case EventSecretaryRejected:
		add(snap.CreatorID)
	case EventCEOApproved:
		if snap.Kind == resolution.KindOperational {
			add(snap.ExecutorID)
			add(snap.CoworkerIDs...)
		}
		add(snap.InformUnitIDs...)
		add(snap.CreatorID)
	case EventAccepted:
		add(snap.CreatorID)
	case EventReturned:
		add(dir.CEOIDs...)
	case EventReturnedToCreator:
		add(snap.CreatorID)
	case EventEscalated:
		add(snap.ExecutorID)
		add(snap.CoworkerIDs...)
		add(dir.AuditorIDs...)
	case EventDeadlineNear:
		add(snap.ExecutorID)
		add(snap.CoworkerIDs...)
	case EventProgressUpdated:
		add(snap.CreatorID, snap.ExecutorID)
		add(snap.CoworkerIDs...)
		add(snap.InformUnitIDs...)
		add(snap.ParticipantIDs...)
		add(dir.AuditorIDs...)
	case EventCompleted:
		add(snap.CreatorID)
		add(snap.InformUnitIDs...)
		add(dir.AuditorIDs...)
	case EventReferred, EventParticipantAdded, EventParticipantRemoved, EventMentioned, EventReplied:
		add(ev.TargetIDs...)
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
