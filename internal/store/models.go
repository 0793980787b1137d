package store

import (
	"time"

	"quorum/api/internal/resolution"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	Position     resolution.Position
	SupervisorID *string
	CreatedAt    time.Time
}

type Meeting struct {
	ID        string
	Number    int
	Title     string
	HeldAt    time.Time
	CreatedAt time.Time
}

// Resolution is the stored record plus the joined fields the access engine
// and serializers need. Relation slices are always loaded alongside it.
type Resolution struct {
	ID              string
	PublicID        string
	MeetingID       string
	MeetingNumber   int
	Clause          string
	Subclause       string
	Kind            resolution.Kind
	Status          resolution.Status
	Text            string
	Progress        int
	CanEdit         bool
	CreatorID       string
	CreatorName     string
	CreatorPosition resolution.Position
	ExecutorID      string
	ExecutorName    string
	CoworkerIDs     []string
	InformUnitIDs   []string
	ParticipantIDs  []string
	Deadline        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r Resolution) Snapshot() resolution.Snapshot {
	return resolution.Snapshot{
		ID:              r.ID,
		Status:          r.Status,
		Kind:            r.Kind,
		CreatorID:       r.CreatorID,
		CreatorPosition: r.CreatorPosition,
		ExecutorID:      r.ExecutorID,
		CoworkerIDs:     r.CoworkerIDs,
		InformUnitIDs:   r.InformUnitIDs,
		ParticipantIDs:  r.ParticipantIDs,
	}
}

// Interaction kinds. The log is append-only and flat; replies reference a
// root entry and surface as a count, never as a nested tree.
const (
	InteractionAction   = "action"
	InteractionComment  = "comment"
	InteractionProgress = "progress"
)

type Interaction struct {
	ID           string
	ResolutionID string
	Kind         string
	ActionType   string
	AuthorID     string
	AuthorName   string
	Body         string
	Payload      map[string]any
	Progress     *int
	ReplyToID    *string
	ReplyCount   int
	MentionIDs   []string
	Attachments  []Attachment
	CreatedAt    time.Time
}

type Attachment struct {
	ID            string
	InteractionID string
	FileName      string
	ObjectKey     string
	ContentType   string
	Size          int64
}

// Notification severity classes and delivery priorities.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"

	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type Notification struct {
	ID            string
	UserID        string
	Kind          string
	Type          string
	Priority      string
	Message       string
	ResolutionID  *string
	InteractionID *string
	ReadAt        *time.Time
	CreatedAt     time.Time
}

// ViewRecord marks the first time a user opened a resolution. Later views
// never move the timestamp.
type ViewRecord struct {
	ResolutionID  string
	UserID        string
	UserName      string
	FirstViewedAt time.Time
}
