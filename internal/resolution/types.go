package resolution

// Status tracks where a resolution sits in its approval and execution flow.
type Status string

const (
	StatusPendingSecretary    Status = "pending_secretary_approval"
	StatusPendingCEO          Status = "pending_ceo_approval"
	StatusNotified            Status = "notified"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusReturnedToSecretary Status = "returned_to_secretary"
)

func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusPendingSecretary, StatusPendingCEO, StatusNotified,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusReturnedToSecretary:
		return Status(value), true
	default:
		return "", false
	}
}

// Kind distinguishes resolutions that require execution from ones that only
// inform. Informational resolutions complete on final approval.
type Kind string

const (
	KindOperational   Kind = "operational"
	KindInformational Kind = "informational"
)

func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindOperational, KindInformational:
		return Kind(value), true
	default:
		return "", false
	}
}

// Position is an organizational role. Every user carries exactly one.
type Position string

const (
	PositionSecretariatExpert Position = "secretariat_expert"
	PositionSecretary         Position = "secretary"
	PositionCEO               Position = "ceo"
	PositionAuditor           Position = "auditor"
	PositionDeputy            Position = "deputy"
	PositionManager           Position = "manager"
	PositionHead              Position = "head"
	PositionEmployee          Position = "employee"
	PositionBoard             Position = "board"
)

func ParsePosition(value string) (Position, bool) {
	switch Position(value) {
	case PositionSecretariatExpert, PositionSecretary, PositionCEO, PositionAuditor,
		PositionDeputy, PositionManager, PositionHead, PositionEmployee, PositionBoard:
		return Position(value), true
	default:
		return "", false
	}
}

// Actor is the authenticated user a permission or transition decision is
// evaluated for.
type Actor struct {
	ID       string
	Position Position
}

// Snapshot is the slice of a resolution that permission and recipient
// decisions depend on. It is a value type so decisions stay pure.
type Snapshot struct {
	ID              string
	Status          Status
	Kind            Kind
	CreatorID       string
	CreatorPosition Position
	ExecutorID      string
	CoworkerIDs     []string
	InformUnitIDs   []string
	ParticipantIDs  []string
}

func (s Snapshot) IsCoworker(userID string) bool {
	return contains(s.CoworkerIDs, userID)
}

func (s Snapshot) IsInformUnit(userID string) bool {
	return contains(s.InformUnitIDs, userID)
}

func (s Snapshot) IsParticipant(userID string) bool {
	return contains(s.ParticipantIDs, userID)
}

// IsRelated reports whether the user appears anywhere on the resolution.
func (s Snapshot) IsRelated(userID string) bool {
	return userID == s.CreatorID || userID == s.ExecutorID ||
		s.IsCoworker(userID) || s.IsInformUnit(userID) || s.IsParticipant(userID)
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
