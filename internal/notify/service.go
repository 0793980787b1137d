// Package notify computes notification audiences and fans events out over
// storage, websockets and email.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"quorum/api/internal/realtime"
	"quorum/api/internal/resolution"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type dataStore interface {
	InsertNotifications(ctx context.Context, items []store.Notification) error
	ListUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error)
	ListUserIDsByPosition(ctx context.Context, position resolution.Position) ([]string, error)
	DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type publisher interface {
	Publish(ctx context.Context, group string, payload any) error
}

type mailer interface {
	IsConfigured() bool
	SendResolutionNotification(to, userName, message, resolutionRef string) error
}

// MeetingSummary is the meeting slice embedded in pushed notifications.
type MeetingSummary struct {
	Number int `json:"number"`
}

// ResolutionSummary identifies the resolution a notification refers to.
// Only the public id ever leaves the server.
type ResolutionSummary struct {
	ID        string         `json:"id"`
	Clause    string         `json:"clause"`
	Subclause string         `json:"subclause"`
	Meeting   MeetingSummary `json:"meeting"`
}

type pushPayload struct {
	Type             string             `json:"type"`
	NotificationID   string             `json:"notification_id"`
	NotificationType string             `json:"notification_type"`
	Message          string             `json:"message"`
	Timestamp        string             `json:"timestamp"`
	Resolution       *ResolutionSummary `json:"resolution,omitempty"`
}

// severity classifies an event for the stored notification: how it should
// render and how urgently it should be delivered.
func severity(kind EventKind) (string, string) {
	switch kind {
	case EventSecretaryRejected:
		return store.NotificationError, store.PriorityHigh
	case EventEscalated:
		return store.NotificationWarning, store.PriorityUrgent
	case EventDeadlineNear:
		return store.NotificationWarning, store.PriorityHigh
	case EventReturned, EventReturnedToCreator, EventParticipantRemoved:
		return store.NotificationWarning, store.PriorityNormal
	case EventSecretaryApproved, EventCEOApproved, EventAccepted, EventCompleted:
		return store.NotificationSuccess, store.PriorityNormal
	default:
		return store.NotificationInfo, store.PriorityNormal
	}
}

// Service persists notifications and pushes them to connected clients.
// Email delivery is best effort and never fails the dispatch.
type Service struct {
	store  dataStore
	broker publisher
	mailer mailer
}

func NewService(store dataStore, broker publisher, mailer mailer) *Service {
	return &Service{store: store, broker: broker, mailer: mailer}
}

func (s *Service) directory(ctx context.Context) (Directory, error) {
	var dir Directory
	var err error
	if dir.SecretaryIDs, err = s.store.ListUserIDsByPosition(ctx, resolution.PositionSecretary); err != nil {
		return Directory{}, err
	}
	if dir.CEOIDs, err = s.store.ListUserIDsByPosition(ctx, resolution.PositionCEO); err != nil {
		return Directory{}, err
	}
	if dir.AuditorIDs, err = s.store.ListUserIDsByPosition(ctx, resolution.PositionAuditor); err != nil {
		return Directory{}, err
	}
	return dir, nil
}

// Dispatch resolves the audience for an event, stores one notification per
// recipient and pushes it to each recipient's group. The resolution summary
// is omitted for removed participants so they receive no link back.
func (s *Service) Dispatch(ctx context.Context, snap resolution.Snapshot, summary ResolutionSummary, ev Event, message string) error {
	dir, err := s.directory(ctx)
	if err != nil {
		return err
	}

	recipients := Recipients(snap, dir, ev)
	if len(recipients) == 0 {
		return nil
	}

	withSummary := ev.Kind != EventParticipantRemoved
	class, priority := severity(ev.Kind)

	items := make([]store.Notification, 0, len(recipients))
	for _, userID := range recipients {
		item := store.Notification{
			ID:       util.NewID("ntf"),
			UserID:   userID,
			Kind:     string(ev.Kind),
			Type:     class,
			Priority: priority,
			Message:  message,
		}
		if withSummary {
			resolutionID := snap.ID
			item.ResolutionID = &resolutionID
		}
		items = append(items, item)
	}
	if err := s.store.InsertNotifications(ctx, items); err != nil {
		return err
	}

	pushType := realtime.TypeNotification
	if ev.Kind == EventMentioned || ev.Kind == EventReplied {
		pushType = realtime.TypeInteractionNotification
	}

	sentAt := time.Now().UTC().Format(time.RFC3339)
	for _, item := range items {
		payload := pushPayload{
			Type:             pushType,
			NotificationID:   item.ID,
			NotificationType: item.Kind,
			Message:          item.Message,
			Timestamp:        sentAt,
		}
		if withSummary {
			copied := summary
			payload.Resolution = &copied
		}
		if err := s.broker.Publish(ctx, realtime.UserGroup(item.UserID), payload); err != nil {
			log.Printf(`{"level":"warn","component":"notify","msg":"push failed","user":%q,"error":%q}`, item.UserID, err.Error())
		}
	}

	s.emailRecipients(ctx, recipients, message, summary, withSummary)
	return nil
}

func (s *Service) emailRecipients(ctx context.Context, recipients []string, message string, summary ResolutionSummary, withSummary bool) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	users, err := s.store.ListUsersByIDs(ctx, recipients)
	if err != nil {
		log.Printf(`{"level":"warn","component":"notify","msg":"email lookup failed","error":%q}`, err.Error())
		return
	}
	ref := ""
	if withSummary {
		ref = fmt.Sprintf("%d/%s", summary.Meeting.Number, summary.Clause)
		if summary.Subclause != "" {
			ref += "/" + summary.Subclause
		}
	}
	for _, user := range users {
		if user.Email == "" {
			continue
		}
		if err := s.mailer.SendResolutionNotification(user.Email, user.DisplayName, message, ref); err != nil {
			log.Printf(`{"level":"warn","component":"notify","msg":"email failed","user":%q,"error":%q}`, user.ID, err.Error())
		}
	}
}

// CleanupRead deletes read notifications older than the retention window.
func (s *Service) CleanupRead(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteReadNotificationsBefore(ctx, time.Now().Add(-retention))
}
