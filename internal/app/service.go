package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"quorum/api/internal/auth"
	"quorum/api/internal/config"
	"quorum/api/internal/export"
	"quorum/api/internal/files"
	"quorum/api/internal/lifecycle"
	"quorum/api/internal/notify"
	"quorum/api/internal/rbac"
	"quorum/api/internal/realtime"
	"quorum/api/internal/resolution"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Position  resolution.Position
	JTI       string
	ExpiresAt time.Time
}

func (s Session) actor() resolution.Actor {
	return resolution.Actor{ID: s.UserID, Position: s.Position}
}

type CreateMeetingInput struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	HeldAt string `json:"heldAt"`
}

type CreateResolutionInput struct {
	MeetingID     string   `json:"meetingId"`
	Clause        string   `json:"clause"`
	Subclause     string   `json:"subclause"`
	Kind          string   `json:"kind"`
	Text          string   `json:"text"`
	Deadline      string   `json:"deadline"`
	ExecutorID    string   `json:"executorId"`
	CoworkerIDs   []string `json:"coworkerIds"`
	InformUnitIDs []string `json:"informUnitIds"`
}

type EditResolutionInput struct {
	Clause    string `json:"clause"`
	Subclause string `json:"subclause"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Deadline  string `json:"deadline"`
}

type TransitionInput struct {
	Trigger string `json:"trigger"`
	Comment string `json:"comment"`
}

type ProgressInput struct {
	Progress int    `json:"progress"`
	Note     string `json:"note"`
}

type PostInteractionInput struct {
	Content     string             `json:"content"`
	ReplyTo     string             `json:"replyTo"`
	MentionIDs  []string           `json:"mentions"`
	Attachments []store.Attachment `json:"attachments"`
}

type dataStore interface {
	EnsureUserByName(ctx context.Context, name string, position resolution.Position) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsersByIDs(ctx context.Context, userIDs []string) ([]store.User, error)
	IsSubordinate(ctx context.Context, supervisorID, userID string) (bool, error)
	InsertMeeting(ctx context.Context, meeting store.Meeting) error
	GetMeeting(ctx context.Context, meetingID string) (store.Meeting, error)
	ListMeetings(ctx context.Context) ([]store.Meeting, error)
	InsertResolution(ctx context.Context, item store.Resolution, entry store.Interaction) error
	GetResolutionByPublicID(ctx context.Context, publicID string) (store.Resolution, error)
	ListResolutionsForUser(ctx context.Context, userID string, position resolution.Position, status string) ([]store.Resolution, error)
	UpdateResolutionBody(ctx context.Context, resolutionID, clause, subclause, body string, kind resolution.Kind, deadline *time.Time) error
	ApplyTransition(ctx context.Context, resolutionID string, status resolution.Status, canEdit bool, entry store.Interaction) error
	UpdateProgress(ctx context.Context, resolutionID string, progress int) error
	AddParticipants(ctx context.Context, resolutionID string, userIDs []string) error
	RemoveParticipant(ctx context.Context, resolutionID, userID string) (bool, error)
	ListStaleNotified(ctx context.Context, cutoff time.Time) ([]store.Resolution, error)
	InsertInteraction(ctx context.Context, entry store.Interaction) error
	GetInteraction(ctx context.Context, interactionID string) (store.Interaction, error)
	ListInteractions(ctx context.Context, resolutionID string) ([]store.Interaction, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	RecordFirstView(ctx context.Context, resolutionID, userID string) (store.ViewRecord, error)
	ListFirstViews(ctx context.Context, resolutionID string) ([]store.ViewRecord, error)
	ListViewedResolutionIDs(ctx context.Context, userID string) ([]string, error)
	Ping(ctx context.Context) error
}

type notifier interface {
	Dispatch(ctx context.Context, snap resolution.Snapshot, summary notify.ResolutionSummary, ev notify.Event, message string) error
}

type publisher interface {
	Publish(ctx context.Context, group string, payload any) error
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexResolution(record search.ResolutionRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notify   notifier
	broker   publisher
	search   searcher
	exporter *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, notifyService *notify.Service, broker *realtime.Broker, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		notify:   notifyService,
		broker:   broker,
		search:   searchService,
		exporter: export.NewService(reportSource{store: dataStore}),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login issues a short-lived access token for the named user, creating the
// user on first sight. There is no password flow; identity comes from the
// organization directory upstream.
func (s *Service) Login(ctx context.Context, name, position string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	pos, ok := resolution.ParsePosition(strings.TrimSpace(position))
	if !ok {
		pos = resolution.PositionEmployee
	}

	user, err := s.store.EnsureUserByName(ctx, userName, pos)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Name:     user.DisplayName,
		Position: string(user.Position),
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Position:  user.Position,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Position:  user.Position,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) CreateMeeting(ctx context.Context, session Session, input CreateMeetingInput) (map[string]any, error) {
	if session.Position != resolution.PositionSecretary {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only the secretary records meetings", nil)
	}
	if input.Number <= 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "number must be positive", nil)
	}
	heldAt := time.Now()
	if raw := strings.TrimSpace(input.HeldAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "heldAt must be RFC 3339", nil)
		}
		heldAt = parsed
	}
	meeting := store.Meeting{
		ID:     util.NewID("mtg"),
		Number: input.Number,
		Title:  strings.TrimSpace(input.Title),
		HeldAt: heldAt,
	}
	if err := s.store.InsertMeeting(ctx, meeting); err != nil {
		return nil, err
	}
	return meetingPayload(meeting), nil
}

func (s *Service) ListMeetings(ctx context.Context) ([]map[string]any, error) {
	meetings, err := s.store.ListMeetings(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(meetings))
	for _, meeting := range meetings {
		items = append(items, meetingPayload(meeting))
	}
	return items, nil
}

func meetingPayload(meeting store.Meeting) map[string]any {
	return map[string]any{
		"id":     meeting.ID,
		"number": meeting.Number,
		"title":  meeting.Title,
		"heldAt": meeting.HeldAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) CreateResolution(ctx context.Context, session Session, input CreateResolutionInput) (map[string]any, error) {
	if session.Position != resolution.PositionSecretary && session.Position != resolution.PositionSecretariatExpert {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only the secretariat records resolutions", nil)
	}
	kind, ok := resolution.ParseKind(strings.TrimSpace(input.Kind))
	if !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "kind must be operational or informational", nil)
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "text is required", nil)
	}
	if strings.TrimSpace(input.Clause) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "clause is required", nil)
	}
	if kind == resolution.KindOperational && strings.TrimSpace(input.ExecutorID) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "operational resolutions need an executor", nil)
	}
	deadline, err := parseDeadline(input.Deadline)
	if err != nil {
		return nil, err
	}
	meeting, err := s.store.GetMeeting(ctx, strings.TrimSpace(input.MeetingID))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	id := util.NewID("res")
	item := store.Resolution{
		ID:              id,
		PublicID:        util.PublicID(id, now, s.cfg.PublicIDSecret),
		MeetingID:       meeting.ID,
		MeetingNumber:   meeting.Number,
		Clause:          strings.TrimSpace(input.Clause),
		Subclause:       strings.TrimSpace(input.Subclause),
		Kind:            kind,
		Status:          lifecycle.Initial(session.Position),
		Text:            text,
		CanEdit:         true,
		CreatorID:       session.UserID,
		CreatorName:     session.UserName,
		CreatorPosition: session.Position,
		ExecutorID:      strings.TrimSpace(input.ExecutorID),
		CoworkerIDs:     dedupe(input.CoworkerIDs),
		InformUnitIDs:   dedupe(input.InformUnitIDs),
		Deadline:        deadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// the resolution and its opening log entry commit together
	created := store.Interaction{
		ID:           util.NewID("int"),
		ResolutionID: id,
		Kind:         store.InteractionAction,
		ActionType:   string(lifecycle.ActionCreated),
		AuthorID:     session.UserID,
		AuthorName:   session.UserName,
		Body:         fmt.Sprintf("Resolution %s was recorded", resolutionRef(item)),
		CreatedAt:    now,
	}
	if err := s.store.InsertResolution(ctx, item, created); err != nil {
		return nil, err
	}

	s.indexResolution(item)
	s.dispatch(ctx, item, notify.Event{Kind: notify.EventSubmitted, ActorID: session.UserID},
		fmt.Sprintf("Resolution %s was submitted for review", resolutionRef(item)))

	return s.resolutionPayload(item, session), nil
}

func (s *Service) ListResolutions(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	if status != "" {
		if _, ok := resolution.ParseStatus(status); !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid status filter", nil)
		}
	}
	items, err := s.store.ListResolutionsForUser(ctx, session.UserID, session.Position, status)
	if err != nil {
		return nil, err
	}
	viewedIDs, err := s.store.ListViewedResolutionIDs(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	viewed := make(map[string]struct{}, len(viewedIDs))
	for _, id := range viewedIDs {
		viewed[id] = struct{}{}
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := resolutionSummaryPayload(item)
		_, seen := viewed[item.ID]
		entry["unread"] = !seen
		payload = append(payload, entry)
	}
	return payload, nil
}

// GetResolution returns the full resolution for a permitted viewer and
// records the viewer's first visit. Repeat visits never move the recorded
// timestamp.
func (s *Service) GetResolution(ctx context.Context, session Session, publicID string) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.RecordFirstView(ctx, item.ID, session.UserID); err != nil {
		return nil, err
	}
	return s.resolutionPayload(item, session), nil
}

func (s *Service) ListFirstViews(ctx context.Context, session Session, publicID string) ([]map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	views, err := s.store.ListFirstViews(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(views))
	for _, view := range views {
		payload = append(payload, map[string]any{
			"userId":        view.UserID,
			"userName":      view.UserName,
			"firstViewedAt": view.FirstViewedAt.UTC().Format(time.RFC3339),
		})
	}
	return payload, nil
}

func (s *Service) EditResolution(ctx context.Context, session Session, publicID string, input EditResolutionInput) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanEdit(session.actor(), item.Snapshot()) || !item.CanEdit {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "resolution is not editable by this user", nil)
	}
	kind := item.Kind
	if raw := strings.TrimSpace(input.Kind); raw != "" {
		parsed, ok := resolution.ParseKind(raw)
		if !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "kind must be operational or informational", nil)
		}
		kind = parsed
	}
	clause := firstNonBlank(strings.TrimSpace(input.Clause), item.Clause)
	subclause := item.Subclause
	if trimmed := strings.TrimSpace(input.Subclause); trimmed != "" {
		subclause = trimmed
	}
	text := firstNonBlank(strings.TrimSpace(input.Text), item.Text)
	deadline := item.Deadline
	if strings.TrimSpace(input.Deadline) != "" {
		parsed, err := parseDeadline(input.Deadline)
		if err != nil {
			return nil, err
		}
		deadline = parsed
	}
	if err := s.store.UpdateResolutionBody(ctx, item.ID, clause, subclause, text, kind, deadline); err != nil {
		return nil, err
	}
	item.Clause, item.Subclause, item.Text, item.Kind, item.Deadline = clause, subclause, text, kind, deadline

	edited := store.Interaction{
		ID:           util.NewID("int"),
		ResolutionID: item.ID,
		Kind:         store.InteractionAction,
		ActionType:   string(lifecycle.ActionEdited),
		AuthorID:     session.UserID,
		AuthorName:   session.UserName,
		Body:         fmt.Sprintf("Resolution %s was edited", resolutionRef(item)),
		CreatedAt:    time.Now(),
	}
	if err := s.store.InsertInteraction(ctx, edited); err != nil {
		return nil, err
	}

	// reworking a resolution moves it forward: the secretary's edit resubmits
	// it to the chief executive, the chief executive's edit approves it
	if outcome, moved := lifecycle.EditOutcome(session.Position, item.Snapshot()); moved {
		entry := store.Interaction{
			ID:           util.NewID("int"),
			ResolutionID: item.ID,
			Kind:         store.InteractionAction,
			ActionType:   string(outcome.Action),
			AuthorID:     session.UserID,
			AuthorName:   session.UserName,
			CreatedAt:    time.Now(),
		}
		ev := notify.Event{Kind: notify.EventSecretaryApproved, ActorID: session.UserID}
		entry.Body = fmt.Sprintf("Resolution %s was reworked and resubmitted for approval", resolutionRef(item))
		if outcome.Action == lifecycle.ActionCEOApproved {
			ev.Kind = notify.EventCEOApproved
			entry.Body = fmt.Sprintf("Resolution %s was edited and approved by the chief executive", resolutionRef(item))
		}
		if err := s.store.ApplyTransition(ctx, item.ID, outcome.Status, editable(outcome.Status), entry); err != nil {
			return nil, err
		}
		item.Status = outcome.Status
		item.CanEdit = editable(outcome.Status)
		s.dispatch(ctx, item, ev, entry.Body)
	}

	s.indexResolution(item)
	return s.resolutionPayload(item, session), nil
}

func parseDeadline(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "deadline must be a YYYY-MM-DD date", nil)
	}
	return &parsed, nil
}

// editable keeps the body open while the resolution sits in a review round.
func editable(status resolution.Status) bool {
	switch status {
	case resolution.StatusPendingSecretary, resolution.StatusPendingCEO, resolution.StatusReturnedToSecretary:
		return true
	default:
		return false
	}
}

// ApplyTrigger moves the resolution through its lifecycle. Concurrent
// transitions are not serialized: both log entries persist and the later
// commit decides the final status.
func (s *Service) ApplyTrigger(ctx context.Context, session Session, publicID string, input TransitionInput) (map[string]any, error) {
	trigger, ok := lifecycle.ParseTrigger(strings.TrimSpace(input.Trigger))
	if !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown trigger", nil)
	}
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !triggerAllowed(trigger, session, item) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "trigger not allowed for this user", nil)
	}
	reason := strings.TrimSpace(input.Comment)
	returning := trigger == lifecycle.TriggerReturn || trigger == lifecycle.TriggerReturnToSecretary
	if returning && reason == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a reason is required to return a resolution", nil)
	}

	outcome, err := lifecycle.Decide(trigger, item.Snapshot())
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_STATE", err.Error(), nil)
	}

	entry := store.Interaction{
		ID:           util.NewID("int"),
		ResolutionID: item.ID,
		Kind:         store.InteractionAction,
		ActionType:   string(outcome.Action),
		AuthorID:     session.UserID,
		AuthorName:   session.UserName,
		Body:         reason,
		CreatedAt:    time.Now(),
	}
	if returning {
		entry.Payload = map[string]any{"reason": reason}
	}
	if err := s.store.ApplyTransition(ctx, item.ID, outcome.Status, editable(outcome.Status), entry); err != nil {
		return nil, err
	}
	item.Status = outcome.Status
	item.CanEdit = editable(outcome.Status)

	s.indexResolution(item)
	if ev, message, ok := transitionEvent(trigger, session, item, reason); ok {
		s.dispatch(ctx, item, ev, message)
	}
	return s.resolutionPayload(item, session), nil
}

func triggerAllowed(trigger lifecycle.Trigger, session Session, item store.Resolution) bool {
	// auditors never move a resolution, whatever else they are on it
	if session.Position == resolution.PositionAuditor {
		return false
	}
	switch trigger {
	case lifecycle.TriggerSecretaryApprove, lifecycle.TriggerSecretaryReject:
		return session.Position == resolution.PositionSecretary
	case lifecycle.TriggerCEOApprove, lifecycle.TriggerReturnToSecretary:
		return session.Position == resolution.PositionCEO
	case lifecycle.TriggerAccept, lifecycle.TriggerReturn, lifecycle.TriggerComplete:
		return session.UserID == item.ExecutorID
	default:
		// escalate is fired by the stale-resolution sweep, never over HTTP
		return false
	}
}

func transitionEvent(trigger lifecycle.Trigger, session Session, item store.Resolution, reason string) (notify.Event, string, bool) {
	ref := resolutionRef(item)
	switch trigger {
	case lifecycle.TriggerSecretaryApprove:
		return notify.Event{Kind: notify.EventSecretaryApproved, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s passed secretariat review", ref), true
	case lifecycle.TriggerSecretaryReject:
		return notify.Event{Kind: notify.EventSecretaryRejected, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s was rejected by the secretariat", ref), true
	case lifecycle.TriggerCEOApprove:
		return notify.Event{Kind: notify.EventCEOApproved, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s was approved by the chief executive", ref), true
	case lifecycle.TriggerAccept:
		return notify.Event{Kind: notify.EventAccepted, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s was accepted by the executor", ref), true
	case lifecycle.TriggerReturn:
		return notify.Event{Kind: notify.EventReturned, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s was returned for another review: %s", ref, reason), true
	case lifecycle.TriggerReturnToSecretary:
		return notify.Event{Kind: notify.EventReturnedToCreator, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s was sent back to the secretariat: %s", ref, reason), true
	case lifecycle.TriggerComplete:
		return notify.Event{Kind: notify.EventCompleted, ActorID: session.UserID},
			fmt.Sprintf("Resolution %s was completed", ref), true
	default:
		return notify.Event{}, "", false
	}
}

func (s *Service) GetProgress(ctx context.Context, session Session, publicID string) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"progress": item.Progress,
		"status":   string(item.Status),
	}, nil
}

func (s *Service) UpdateProgress(ctx context.Context, session Session, publicID string, input ProgressInput) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanPostProgress(session.actor(), item.Snapshot()) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "progress updates are not allowed for this user", nil)
	}
	if input.Progress < 0 || input.Progress > 100 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "progress must be between 0 and 100", nil)
	}
	note := strings.TrimSpace(input.Note)
	if note == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a progress note is required", nil)
	}

	progress := input.Progress
	entry := store.Interaction{
		ID:           util.NewID("int"),
		ResolutionID: item.ID,
		Kind:         store.InteractionProgress,
		AuthorID:     session.UserID,
		AuthorName:   session.UserName,
		Body:         note,
		Progress:     &progress,
		CreatedAt:    time.Now(),
	}
	if err := s.store.InsertInteraction(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProgress(ctx, item.ID, progress); err != nil {
		return nil, err
	}
	item.Progress = progress
	if err := s.promotePoster(ctx, &item, session.UserID); err != nil {
		return nil, err
	}

	// full progress completes the resolution in the same request
	if progress >= 100 && item.Status == resolution.StatusInProgress {
		outcome, err := lifecycle.Decide(lifecycle.TriggerComplete, item.Snapshot())
		if err == nil {
			completion := store.Interaction{
				ID:           util.NewID("int"),
				ResolutionID: item.ID,
				Kind:         store.InteractionAction,
				ActionType:   string(outcome.Action),
				AuthorID:     session.UserID,
				AuthorName:   session.UserName,
				Body:         fmt.Sprintf("Resolution %s reached full progress", resolutionRef(item)),
				CreatedAt:    time.Now(),
			}
			if err := s.store.ApplyTransition(ctx, item.ID, outcome.Status, editable(outcome.Status), completion); err != nil {
				return nil, err
			}
			item.Status = outcome.Status
			item.CanEdit = editable(outcome.Status)
			s.indexResolution(item)
			s.dispatch(ctx, item, notify.Event{Kind: notify.EventCompleted, ActorID: session.UserID},
				fmt.Sprintf("Resolution %s reached full progress and was completed", resolutionRef(item)))
			return s.resolutionPayload(item, session), nil
		}
	}

	s.dispatch(ctx, item, notify.Event{Kind: notify.EventProgressUpdated, ActorID: session.UserID},
		fmt.Sprintf("Resolution %s progress is now %d%%", resolutionRef(item), progress))
	return s.resolutionPayload(item, session), nil
}

func (s *Service) Refer(ctx context.Context, session Session, publicID string, userIDs []string) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanRefer(session.actor(), item.Snapshot()) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only the executor and coworkers refer users", nil)
	}
	added, err := s.addNewParticipants(ctx, &item, userIDs)
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		s.dispatch(ctx, item, notify.Event{Kind: notify.EventReferred, ActorID: session.UserID, TargetIDs: added},
			fmt.Sprintf("You were referred to resolution %s", resolutionRef(item)))
	}
	return s.resolutionPayload(item, session), nil
}

func (s *Service) AddParticipants(ctx context.Context, session Session, publicID string, userIDs []string) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManageParticipants(session.actor()) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only deputies and managers manage participants", nil)
	}
	for _, userID := range dedupe(userIDs) {
		subordinate, err := s.store.IsSubordinate(ctx, session.UserID, userID)
		if err != nil {
			return nil, err
		}
		if !subordinate {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "participants must report to the acting user", map[string]any{"userId": userID})
		}
	}
	added, err := s.addNewParticipants(ctx, &item, userIDs)
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		s.dispatch(ctx, item, notify.Event{Kind: notify.EventParticipantAdded, ActorID: session.UserID, TargetIDs: added},
			fmt.Sprintf("You were added to resolution %s", resolutionRef(item)))
	}
	return s.resolutionPayload(item, session), nil
}

func (s *Service) RemoveParticipant(ctx context.Context, session Session, publicID, userID string) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManageParticipants(session.actor()) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only deputies and managers manage participants", nil)
	}
	if userID == session.UserID {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "cannot remove yourself", nil)
	}
	removed, err := s.store.RemoveParticipant(ctx, item.ID, userID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "user is not a participant", nil)
	}
	item.ParticipantIDs = without(item.ParticipantIDs, userID)
	// removed users get told, without a link back to the resolution
	s.dispatch(ctx, item, notify.Event{Kind: notify.EventParticipantRemoved, ActorID: session.UserID, TargetIDs: []string{userID}},
		"You were removed from a resolution")
	return s.resolutionPayload(item, session), nil
}

func (s *Service) addNewParticipants(ctx context.Context, item *store.Resolution, userIDs []string) ([]string, error) {
	snap := item.Snapshot()
	added := make([]string, 0, len(userIDs))
	for _, userID := range dedupe(userIDs) {
		if snap.IsRelated(userID) {
			continue
		}
		added = append(added, userID)
	}
	if len(added) == 0 {
		return nil, nil
	}
	users, err := s.store.ListUsersByIDs(ctx, added)
	if err != nil {
		return nil, err
	}
	if len(users) != len(added) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown user in list", nil)
	}
	if err := s.store.AddParticipants(ctx, item.ID, added); err != nil {
		return nil, err
	}
	item.ParticipantIDs = append(item.ParticipantIDs, added...)
	return added, nil
}

func (s *Service) ListInteractions(ctx context.Context, session Session, publicID string) ([]map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanChat(session.actor(), item.Snapshot()) && session.Position != resolution.PositionAuditor {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "conversation is not open to this user", nil)
	}
	entries, err := s.store.ListInteractions(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, interactionPayload(entry))
	}
	return payload, nil
}

// PostInteraction appends a comment to the flat resolution log. Replying to
// a reply re-targets the root entry, so the log never nests. Posting pulls
// the author into the participant set.
func (s *Service) PostInteraction(ctx context.Context, session Session, publicID string, input PostInteractionInput) (map[string]any, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return nil, err
	}
	snap := item.Snapshot()
	if !rbac.CanChat(session.actor(), snap) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "conversation is not open to this user", nil)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" && len(input.Attachments) == 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "content or an attachment is required", nil)
	}
	// attachment metadata comes from the client and is re-checked here
	for _, attachment := range input.Attachments {
		if attachment.Size > files.MaxAttachmentSize {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "attachment exceeds the size limit", map[string]any{"fileName": attachment.FileName})
		}
		if !strings.HasPrefix(attachment.ObjectKey, item.PublicID+"/") {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "attachment does not belong to this resolution", map[string]any{"fileName": attachment.FileName})
		}
	}

	var replyTo *string
	var replyAuthor string
	if raw := strings.TrimSpace(input.ReplyTo); raw != "" {
		parent, err := s.store.GetInteraction(ctx, raw)
		if err != nil {
			return nil, err
		}
		if parent.ResolutionID != item.ID {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "reply target not found", nil)
		}
		rootID := parent.ID
		if parent.ReplyToID != nil {
			rootID = *parent.ReplyToID
		}
		replyTo = &rootID
		replyAuthor = parent.AuthorID
	}

	mentions, err := s.chatVisibleMentions(ctx, snap, input.MentionIDs)
	if err != nil {
		return nil, err
	}

	entry := store.Interaction{
		ID:           util.NewID("int"),
		ResolutionID: item.ID,
		Kind:         store.InteractionComment,
		AuthorID:     session.UserID,
		AuthorName:   session.UserName,
		Body:         content,
		ReplyToID:    replyTo,
		MentionIDs:   mentions,
		Attachments:  input.Attachments,
		CreatedAt:    time.Now(),
	}
	if err := s.store.InsertInteraction(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.promotePoster(ctx, &item, session.UserID); err != nil {
		return nil, err
	}

	payload := interactionPayload(entry)
	chatFrame := map[string]any{
		"type":       realtime.TypeChatMessage,
		"resolution": item.PublicID,
		"timestamp":  entry.CreatedAt.UTC().Format(time.RFC3339),
		"message":    payload,
	}
	if err := s.broker.Publish(ctx, realtime.ChatGroup(item.PublicID), chatFrame); err != nil {
		logWarn("chat publish failed", err)
	}

	ref := resolutionRef(item)
	if len(mentions) > 0 {
		s.dispatch(ctx, item, notify.Event{Kind: notify.EventMentioned, ActorID: session.UserID, TargetIDs: mentions},
			fmt.Sprintf("%s mentioned you on resolution %s", session.UserName, ref))
	}
	if replyAuthor != "" && replyAuthor != session.UserID {
		s.dispatch(ctx, item, notify.Event{Kind: notify.EventReplied, ActorID: session.UserID, TargetIDs: []string{replyAuthor}},
			fmt.Sprintf("%s replied to you on resolution %s", session.UserName, ref))
	}
	return payload, nil
}

// chatVisibleMentions drops mentioned users who cannot see the
// conversation, so a mention never leaks a resolution to an outsider.
func (s *Service) chatVisibleMentions(ctx context.Context, snap resolution.Snapshot, mentionIDs []string) ([]string, error) {
	candidates := dedupe(mentionIDs)
	if len(candidates) == 0 {
		return nil, nil
	}
	users, err := s.store.ListUsersByIDs(ctx, candidates)
	if err != nil {
		return nil, err
	}
	visible := make([]string, 0, len(users))
	for _, user := range users {
		if rbac.CanChat(resolution.Actor{ID: user.ID, Position: user.Position}, snap) {
			visible = append(visible, user.ID)
		}
	}
	sort.Strings(visible)
	return visible, nil
}

// promotePoster adds a posting user to the participant set if absent.
func (s *Service) promotePoster(ctx context.Context, item *store.Resolution, userID string) error {
	if item.Snapshot().IsParticipant(userID) {
		return nil
	}
	if err := s.store.AddParticipants(ctx, item.ID, []string{userID}); err != nil {
		return err
	}
	item.ParticipantIDs = append(item.ParticipantIDs, userID)
	return nil
}

// ChatGroupFor authorizes a websocket chat join and returns the group key.
func (s *Service) ChatGroupFor(ctx context.Context, session Session, publicID string) (string, error) {
	item, err := s.loadViewable(ctx, session, publicID)
	if err != nil {
		return "", err
	}
	if !rbac.CanChat(session.actor(), item.Snapshot()) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "conversation is not open to this user", nil)
	}
	return realtime.ChatGroup(item.PublicID), nil
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	response := s.search.Search(q)
	visible := make([]search.Result, 0, len(response.Results))
	for _, hit := range response.Results {
		item, err := s.store.GetResolutionByPublicID(ctx, hit.ID)
		if err != nil {
			continue
		}
		if rbac.CanView(session.actor(), item.Snapshot()) {
			visible = append(visible, hit)
		}
	}
	response.Results = visible
	response.Total = len(visible)
	return response, nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool, limit int) ([]map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, session.UserID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":        item.ID,
			"kind":      item.Kind,
			"type":      item.Type,
			"priority":  item.Priority,
			"message":   item.Message,
			"read":      item.ReadAt != nil,
			"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return payload, nil
}

func (s *Service) UnreadNotificationCount(ctx context.Context, session Session) (int64, error) {
	return s.store.CountUnreadNotifications(ctx, session.UserID)
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	marked, err := s.store.MarkNotificationRead(ctx, session.UserID, notificationID)
	if err != nil {
		return err
	}
	if !marked {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// EscalateStaleNotified force-starts resolutions that sat in notified past
// the deadline, logging the escalation and warning the working group.
func (s *Service) EscalateStaleNotified(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.ListStaleNotified(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, item := range stale {
		outcome, err := lifecycle.Decide(lifecycle.TriggerEscalate, item.Snapshot())
		if err != nil {
			continue
		}
		entry := store.Interaction{
			ID:           util.NewID("int"),
			ResolutionID: item.ID,
			Kind:         store.InteractionAction,
			ActionType:   string(outcome.Action),
			AuthorID:     item.CreatorID,
			AuthorName:   "system",
			Body:         "Automatically moved to in progress after the acceptance deadline passed",
			Payload:      map[string]any{"escalated": true},
			CreatedAt:    time.Now(),
		}
		if err := s.store.ApplyTransition(ctx, item.ID, outcome.Status, editable(outcome.Status), entry); err != nil {
			logWarn("escalation failed", err)
			continue
		}
		item.Status = outcome.Status
		s.indexResolution(item)
		s.dispatch(ctx, item, notify.Event{Kind: notify.EventEscalated},
			fmt.Sprintf("Resolution %s was not accepted in time and moved to in progress", resolutionRef(item)))
		escalated++
	}
	return escalated, nil
}

// WarnApproachingDeadlines tells the working group about notified resolutions
// that will escalate within the next three days. Only resolutions that
// entered the warning window since the previous sweep are picked up, so each
// one is warned once.
func (s *Service) WarnApproachingDeadlines(ctx context.Context, escalateAfter, sweepEvery time.Duration) (int, error) {
	const warnLead = 72 * time.Hour
	if escalateAfter <= warnLead {
		return 0, nil
	}
	cutoff := time.Now().Add(warnLead - escalateAfter)
	items, err := s.store.ListStaleNotified(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	warned := 0
	for _, item := range items {
		if item.UpdatedAt.Before(cutoff.Add(-sweepEvery)) {
			continue
		}
		s.dispatch(ctx, item, notify.Event{Kind: notify.EventDeadlineNear},
			fmt.Sprintf("Resolution %s must be accepted within 3 days", resolutionRef(item)))
		warned++
	}
	return warned, nil
}

func (s *Service) loadViewable(ctx context.Context, session Session, publicID string) (store.Resolution, error) {
	item, err := s.store.GetResolutionByPublicID(ctx, publicID)
	if err != nil {
		return store.Resolution{}, err
	}
	if !rbac.CanView(session.actor(), item.Snapshot()) {
		// hide existence from unrelated users
		return store.Resolution{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return item, nil
}

func (s *Service) dispatch(ctx context.Context, item store.Resolution, ev notify.Event, message string) {
	summary := notify.ResolutionSummary{
		ID:        item.PublicID,
		Clause:    item.Clause,
		Subclause: item.Subclause,
		Meeting:   notify.MeetingSummary{Number: item.MeetingNumber},
	}
	if err := s.notify.Dispatch(ctx, item.Snapshot(), summary, ev, message); err != nil {
		logWarn("notification dispatch failed", err)
	}
}

func (s *Service) indexResolution(item store.Resolution) {
	if s.search == nil {
		return
	}
	s.search.IndexResolution(search.ResolutionRecord{
		ID:            item.PublicID,
		Clause:        item.Clause,
		Subclause:     item.Subclause,
		Body:          item.Text,
		Status:        string(item.Status),
		Kind:          string(item.Kind),
		MeetingNumber: item.MeetingNumber,
	})
}

func (s *Service) resolutionPayload(item store.Resolution, session Session) map[string]any {
	actor := session.actor()
	snap := item.Snapshot()
	return map[string]any{
		"id":           item.PublicID,
		"meetingId":    item.MeetingID,
		"meeting":      map[string]any{"number": item.MeetingNumber},
		"clause":       item.Clause,
		"subclause":    item.Subclause,
		"kind":         string(item.Kind),
		"status":       string(item.Status),
		"text":         item.Text,
		"progress":     item.Progress,
		"creator":      map[string]any{"id": item.CreatorID, "name": item.CreatorName, "position": string(item.CreatorPosition)},
		"executor":     nilIfEmptyUser(item.ExecutorID, item.ExecutorName),
		"coworkers":    stringList(item.CoworkerIDs),
		"informUnits":  stringList(item.InformUnitIDs),
		"participants": stringList(item.ParticipantIDs),
		"deadline":     deadlinePayload(item.Deadline),
		"createdAt":    item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":    item.UpdatedAt.UTC().Format(time.RFC3339),
		"permissions": map[string]any{
			"edit":               rbac.CanEdit(actor, snap) && item.CanEdit,
			"chat":               rbac.CanChat(actor, snap),
			"progress":           rbac.CanPostProgress(actor, snap),
			"refer":              rbac.CanRefer(actor, snap),
			"manageParticipants": rbac.CanManageParticipants(actor),
		},
	}
}

func resolutionSummaryPayload(item store.Resolution) map[string]any {
	return map[string]any{
		"id":        item.PublicID,
		"meeting":   map[string]any{"number": item.MeetingNumber},
		"clause":    item.Clause,
		"subclause": item.Subclause,
		"kind":      string(item.Kind),
		"status":    string(item.Status),
		"progress":  item.Progress,
		"creator":   item.CreatorName,
		"executor":  item.ExecutorName,
		"updatedAt": item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func interactionPayload(entry store.Interaction) map[string]any {
	payload := map[string]any{
		"id":         entry.ID,
		"kind":       entry.Kind,
		"author":     map[string]any{"id": entry.AuthorID, "name": entry.AuthorName},
		"body":       entry.Body,
		"replyCount": entry.ReplyCount,
		"createdAt":  entry.CreatedAt.UTC().Format(time.RFC3339),
	}
	if entry.ActionType != "" {
		payload["actionType"] = entry.ActionType
	}
	if len(entry.Payload) > 0 {
		payload["payload"] = entry.Payload
	}
	if entry.Progress != nil {
		payload["progress"] = *entry.Progress
	}
	if entry.ReplyToID != nil {
		payload["replyTo"] = *entry.ReplyToID
	}
	if len(entry.MentionIDs) > 0 {
		payload["mentions"] = entry.MentionIDs
	}
	if len(entry.Attachments) > 0 {
		files := make([]map[string]any, 0, len(entry.Attachments))
		for _, attachment := range entry.Attachments {
			files = append(files, map[string]any{
				"id":          attachment.ID,
				"fileName":    attachment.FileName,
				"objectKey":   attachment.ObjectKey,
				"contentType": attachment.ContentType,
				"size":        attachment.Size,
			})
		}
		payload["attachments"] = files
	}
	return payload
}

func resolutionRef(item store.Resolution) string {
	if item.Subclause != "" {
		return fmt.Sprintf("%d/%s/%s", item.MeetingNumber, item.Clause, item.Subclause)
	}
	return fmt.Sprintf("%d/%s", item.MeetingNumber, item.Clause)
}

func deadlinePayload(deadline *time.Time) any {
	if deadline == nil {
		return nil
	}
	return deadline.Format("2006-01-02")
}

func nilIfEmptyUser(id, name string) any {
	if id == "" {
		return nil
	}
	return map[string]any{"id": id, "name": name}
}

func stringList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
