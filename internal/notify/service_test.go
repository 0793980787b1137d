package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"quorum/api/internal/realtime"
	"quorum/api/internal/resolution"
	"quorum/api/internal/store"
)

type fakeNotifyStore struct {
	inserted  []store.Notification
	deleted   time.Time
	positions map[resolution.Position][]string
	users     []store.User
}

func (f *fakeNotifyStore) InsertNotifications(ctx context.Context, items []store.Notification) error {
	f.inserted = append(f.inserted, items...)
	return nil
}

func (f *fakeNotifyStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error) {
	return f.users, nil
}

func (f *fakeNotifyStore) ListUserIDsByPosition(ctx context.Context, position resolution.Position) ([]string, error) {
	return f.positions[position], nil
}

func (f *fakeNotifyStore) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleted = cutoff
	return 3, nil
}

type publishedFrame struct {
	group   string
	payload any
}

type fakeBroker struct {
	frames []publishedFrame
}

func (f *fakeBroker) Publish(ctx context.Context, group string, payload any) error {
	f.frames = append(f.frames, publishedFrame{group: group, payload: payload})
	return nil
}

type fakeMailer struct {
	configured bool
	sent       []string
	refs       []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendResolutionNotification(to, userName, message, resolutionRef string) error {
	f.sent = append(f.sent, to)
	f.refs = append(f.refs, resolutionRef)
	return nil
}

func testSummary() ResolutionSummary {
	return ResolutionSummary{
		ID:        "pub-res-1",
		Clause:    "3",
		Subclause: "a",
		Meeting:   MeetingSummary{Number: 12},
	}
}

func TestDispatchStoresAndPushesPerRecipient(t *testing.T) {
	fake := &fakeNotifyStore{positions: map[resolution.Position][]string{
		resolution.PositionSecretary: {"usr_sec"},
	}}
	broker := &fakeBroker{}
	svc := NewService(fake, broker, nil)

	snap := testSnapshot()
	snap.Status = resolution.StatusPendingSecretary
	ev := Event{Kind: EventSubmitted, ActorID: "usr_creator"}

	if err := svc.Dispatch(context.Background(), snap, testSummary(), ev, "A resolution awaits review"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(fake.inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(fake.inserted))
	}
	item := fake.inserted[0]
	if item.UserID != "usr_sec" {
		t.Fatalf("notification user = %q, want usr_sec", item.UserID)
	}
	if item.ResolutionID == nil || *item.ResolutionID != snap.ID {
		t.Fatal("notification should carry the resolution id")
	}
	if item.Type != store.NotificationInfo || item.Priority != store.PriorityNormal {
		t.Fatalf("severity = %s/%s, want info/normal", item.Type, item.Priority)
	}

	if len(broker.frames) != 1 {
		t.Fatalf("published %d frames, want 1", len(broker.frames))
	}
	if broker.frames[0].group != realtime.UserGroup("usr_sec") {
		t.Fatalf("frame group = %q, want the recipient user group", broker.frames[0].group)
	}
	payload, ok := broker.frames[0].payload.(pushPayload)
	if !ok {
		t.Fatalf("payload is %T, want pushPayload", broker.frames[0].payload)
	}
	if payload.Type != realtime.TypeNotification {
		t.Fatalf("payload type = %q, want %q", payload.Type, realtime.TypeNotification)
	}
	if payload.Resolution == nil || payload.Resolution.ID != "pub-res-1" {
		t.Fatal("payload should reference the resolution by public id")
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Fatalf("payload timestamp %q is not RFC 3339: %v", payload.Timestamp, err)
	}
}

func TestDispatchSeverityByKind(t *testing.T) {
	cases := []struct {
		name         string
		ev           Event
		wantType     string
		wantPriority string
	}{
		{"escalation is urgent", Event{Kind: EventEscalated, ActorID: "system"}, store.NotificationWarning, store.PriorityUrgent},
		{"rejection is an error", Event{Kind: EventSecretaryRejected, ActorID: "usr_sec"}, store.NotificationError, store.PriorityHigh},
		{"approaching deadline warns", Event{Kind: EventDeadlineNear, ActorID: "system"}, store.NotificationWarning, store.PriorityHigh},
		{"completion is a success", Event{Kind: EventCompleted, ActorID: "usr_executor"}, store.NotificationSuccess, store.PriorityNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeNotifyStore{positions: map[resolution.Position][]string{}}
			svc := NewService(fake, &fakeBroker{}, nil)

			if err := svc.Dispatch(context.Background(), testSnapshot(), testSummary(), tc.ev, "update"); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if len(fake.inserted) == 0 {
				t.Fatal("expected at least one notification")
			}
			for _, item := range fake.inserted {
				if item.Type != tc.wantType || item.Priority != tc.wantPriority {
					t.Fatalf("severity = %s/%s, want %s/%s", item.Type, item.Priority, tc.wantType, tc.wantPriority)
				}
			}
		})
	}
}

func TestDispatchMentionUsesInteractionType(t *testing.T) {
	fake := &fakeNotifyStore{positions: map[resolution.Position][]string{}}
	broker := &fakeBroker{}
	svc := NewService(fake, broker, nil)

	ev := Event{Kind: EventMentioned, ActorID: "usr_executor", TargetIDs: []string{"usr_cow1"}}
	if err := svc.Dispatch(context.Background(), testSnapshot(), testSummary(), ev, "You were mentioned"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(broker.frames) != 1 {
		t.Fatalf("published %d frames, want 1", len(broker.frames))
	}
	payload := broker.frames[0].payload.(pushPayload)
	if payload.Type != realtime.TypeInteractionNotification {
		t.Fatalf("payload type = %q, want %q", payload.Type, realtime.TypeInteractionNotification)
	}
}

func TestDispatchParticipantRemovedOmitsResolution(t *testing.T) {
	fake := &fakeNotifyStore{
		positions: map[resolution.Position][]string{},
		users:     []store.User{{ID: "usr_part", DisplayName: "Pat", Email: "pat@example.com"}},
	}
	broker := &fakeBroker{}
	mailer := &fakeMailer{configured: true}
	svc := NewService(fake, broker, mailer)

	ev := Event{Kind: EventParticipantRemoved, ActorID: "usr_executor", TargetIDs: []string{"usr_part"}}
	if err := svc.Dispatch(context.Background(), testSnapshot(), testSummary(), ev, "You were removed from a resolution"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(fake.inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(fake.inserted))
	}
	if fake.inserted[0].ResolutionID != nil {
		t.Fatal("removal notification must not carry the resolution id")
	}
	payload := broker.frames[0].payload.(pushPayload)
	if payload.Resolution != nil {
		t.Fatal("removal push must not reference the resolution")
	}
	if len(mailer.refs) != 1 || mailer.refs[0] != "" {
		t.Fatalf("removal email ref = %v, want one empty ref", mailer.refs)
	}
}

func TestDispatchEmailsRecipientsWithReference(t *testing.T) {
	fake := &fakeNotifyStore{
		positions: map[resolution.Position][]string{
			resolution.PositionSecretary: {"usr_sec"},
		},
		users: []store.User{{ID: "usr_sec", DisplayName: "Sam", Email: "sam@example.com"}},
	}
	mailer := &fakeMailer{configured: true}
	svc := NewService(fake, &fakeBroker{}, mailer)

	snap := testSnapshot()
	snap.Status = resolution.StatusPendingSecretary
	ev := Event{Kind: EventSubmitted, ActorID: "usr_creator"}
	if err := svc.Dispatch(context.Background(), snap, testSummary(), ev, "A resolution awaits review"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(mailer.sent) != 1 || mailer.sent[0] != "sam@example.com" {
		t.Fatalf("emails sent to %v, want sam@example.com", mailer.sent)
	}
	if mailer.refs[0] != "12/3/a" {
		t.Fatalf("email ref = %q, want 12/3/a", mailer.refs[0])
	}
}

func TestDispatchUnconfiguredMailerSkipsEmail(t *testing.T) {
	fake := &fakeNotifyStore{
		positions: map[resolution.Position][]string{
			resolution.PositionSecretary: {"usr_sec"},
		},
		users: []store.User{{ID: "usr_sec", Email: "sam@example.com"}},
	}
	mailer := &fakeMailer{configured: false}
	svc := NewService(fake, &fakeBroker{}, mailer)

	snap := testSnapshot()
	snap.Status = resolution.StatusPendingSecretary
	ev := Event{Kind: EventSubmitted, ActorID: "usr_creator"}
	if err := svc.Dispatch(context.Background(), snap, testSummary(), ev, "A resolution awaits review"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("emails sent to %v, want none", mailer.sent)
	}
}

func TestDispatchNoRecipientsIsNoop(t *testing.T) {
	fake := &fakeNotifyStore{positions: map[resolution.Position][]string{}}
	broker := &fakeBroker{}
	svc := NewService(fake, broker, nil)

	snap := testSnapshot()
	snap.Status = resolution.StatusPendingSecretary
	ev := Event{Kind: EventSubmitted, ActorID: "usr_creator"}
	if err := svc.Dispatch(context.Background(), snap, testSummary(), ev, "A resolution awaits review"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(fake.inserted) != 0 || len(broker.frames) != 0 {
		t.Fatal("no recipients should mean no writes and no pushes")
	}
}

func TestCleanupReadUsesRetentionCutoff(t *testing.T) {
	fake := &fakeNotifyStore{}
	svc := NewService(fake, &fakeBroker{}, nil)

	count, err := svc.CleanupRead(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupRead: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	wantBefore := time.Now().Add(-30 * 24 * time.Hour)
	if fake.deleted.After(wantBefore.Add(time.Minute)) || fake.deleted.Before(wantBefore.Add(-time.Minute)) {
		t.Fatalf("cutoff %v not near %v", fake.deleted, wantBefore)
	}
}

func TestNotificationIDsArePrefixed(t *testing.T) {
	fake := &fakeNotifyStore{positions: map[resolution.Position][]string{
		resolution.PositionSecretary: {"usr_sec"},
	}}
	svc := NewService(fake, &fakeBroker{}, nil)

	snap := testSnapshot()
	snap.Status = resolution.StatusPendingSecretary
	ev := Event{Kind: EventSubmitted, ActorID: "usr_creator"}
	if err := svc.Dispatch(context.Background(), snap, testSummary(), ev, "A resolution awaits review"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.HasPrefix(fake.inserted[0].ID, "ntf_") {
		t.Fatalf("notification id %q missing ntf_ prefix", fake.inserted[0].ID)
	}
}
