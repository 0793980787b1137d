package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"quorum/api/internal/resolution"
	"quorum/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string, position resolution.Position) (User, error) {
	const findUser = `SELECT id, display_name, email, position, supervisor_id FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Position, &user.SupervisorID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (id, display_name, email, position)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.quorum.dev'), $3)
		RETURNING id, display_name, email, position, supervisor_id
	`
	if err := s.db.QueryRowContext(ctx, insertUser, util.NewID("usr"), name, string(position)).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.Position, &user.SupervisorID,
	); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, position, supervisor_id FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Position, &user.SupervisorID)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return []User{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, position, supervisor_id
		FROM users
		WHERE id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list users by ids: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0, len(userIDs))
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Position, &user.SupervisorID); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListUserIDsByPosition(ctx context.Context, position resolution.Position) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE position=$1`, string(position))
	if err != nil {
		return nil, fmt.Errorf("list users by position: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

// IsSubordinate walks the supervision chain upward from the candidate and
// reports whether it reaches the supervisor.
func (s *PostgresStore) IsSubordinate(ctx context.Context, supervisorID, userID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, supervisor_id FROM users WHERE id=$2
			UNION ALL
			SELECT u.id, u.supervisor_id
			FROM users u
			JOIN chain c ON u.id = c.supervisor_id
		)
		SELECT EXISTS(SELECT 1 FROM chain WHERE supervisor_id=$1)
	`, supervisorID, userID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check subordinate: %w", err)
	}
	return found, nil
}

func (s *PostgresStore) InsertMeeting(ctx context.Context, meeting Meeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, number, title, held_at)
		VALUES ($1, $2, $3, $4)
	`, meeting.ID, meeting.Number, meeting.Title, meeting.HeldAt)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, meetingID string) (Meeting, error) {
	var item Meeting
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, title, held_at, created_at FROM meetings WHERE id=$1
	`, meetingID).Scan(&item.ID, &item.Number, &item.Title, &item.HeldAt, &item.CreatedAt)
	if err != nil {
		return Meeting{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListMeetings(ctx context.Context) ([]Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, title, held_at, created_at
		FROM meetings
		ORDER BY held_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	items := make([]Meeting, 0)
	for rows.Next() {
		var item Meeting
		if err := rows.Scan(&item.ID, &item.Number, &item.Title, &item.HeldAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return items, nil
}

const resolutionColumns = `
	r.id, r.public_id, r.meeting_id, m.number, r.clause, r.subclause, r.kind, r.status,
	r.body, r.progress, r.can_edit,
	r.creator_id, cu.display_name, cu.position,
	r.executor_id, COALESCE(eu.display_name, ''),
	r.deadline, r.created_at, r.updated_at
`

const resolutionJoins = `
	FROM resolutions r
	JOIN meetings m ON m.id = r.meeting_id
	JOIN users cu ON cu.id = r.creator_id
	LEFT JOIN users eu ON eu.id = r.executor_id
`

func scanResolution(row interface{ Scan(...any) error }) (Resolution, error) {
	var item Resolution
	var executorID sql.NullString
	var deadline sql.NullTime
	err := row.Scan(
		&item.ID, &item.PublicID, &item.MeetingID, &item.MeetingNumber,
		&item.Clause, &item.Subclause, &item.Kind, &item.Status,
		&item.Text, &item.Progress, &item.CanEdit,
		&item.CreatorID, &item.CreatorName, &item.CreatorPosition,
		&executorID, &item.ExecutorName,
		&deadline, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Resolution{}, err
	}
	item.ExecutorID = executorID.String
	if deadline.Valid {
		item.Deadline = &deadline.Time
	}
	return item, nil
}

// InsertResolution stores the resolution, its relations and its opening log
// entry in one transaction, so a resolution never exists without its create
// record.
func (s *PostgresStore) InsertResolution(ctx context.Context, item Resolution, entry Interaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert resolution: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions (id, public_id, meeting_id, clause, subclause, kind, status, body, creator_id, executor_id, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
	`, item.ID, item.PublicID, item.MeetingID, item.Clause, item.Subclause,
		string(item.Kind), string(item.Status), item.Text, item.CreatorID, item.ExecutorID, item.Deadline); err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}

	if err := insertRelations(ctx, tx, item.ID, "resolution_coworkers", item.CoworkerIDs); err != nil {
		return err
	}
	if err := insertRelations(ctx, tx, item.ID, "resolution_inform_units", item.InformUnitIDs); err != nil {
		return err
	}
	if err := insertRelations(ctx, tx, item.ID, "resolution_participants", item.ParticipantIDs); err != nil {
		return err
	}
	if err := insertInteractionTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert resolution: %w", err)
	}
	return nil
}

func insertRelations(ctx context.Context, tx *sql.Tx, resolutionID, table string, userIDs []string) error {
	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (resolution_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, resolutionID, userID); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetResolutionByPublicID(ctx context.Context, publicID string) (Resolution, error) {
	item, err := scanResolution(s.db.QueryRowContext(ctx,
		`SELECT `+resolutionColumns+resolutionJoins+` WHERE r.public_id=$1`, publicID))
	if err != nil {
		return Resolution{}, err
	}
	if err := s.loadRelations(ctx, &item); err != nil {
		return Resolution{}, err
	}
	return item, nil
}

func (s *PostgresStore) loadRelations(ctx context.Context, item *Resolution) error {
	var err error
	if item.CoworkerIDs, err = s.relationIDs(ctx, "resolution_coworkers", item.ID); err != nil {
		return err
	}
	if item.InformUnitIDs, err = s.relationIDs(ctx, "resolution_inform_units", item.ID); err != nil {
		return err
	}
	if item.ParticipantIDs, err = s.relationIDs(ctx, "resolution_participants", item.ID); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) relationIDs(ctx context.Context, table, resolutionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM `+table+` WHERE resolution_id=$1 ORDER BY user_id`, resolutionID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ids, nil
}

// ListResolutionsForUser returns the workbench listing. Oversight positions
// see everything; everyone else sees resolutions they appear on.
func (s *PostgresStore) ListResolutionsForUser(ctx context.Context, userID string, position resolution.Position, status string) ([]Resolution, error) {
	oversight := position == resolution.PositionSecretary ||
		position == resolution.PositionCEO ||
		position == resolution.PositionAuditor

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resolutionColumns+resolutionJoins+`
		WHERE ($3 = '' OR r.status = $3)
		  AND ($2::boolean
			OR r.creator_id = $1
			OR r.executor_id = $1
			OR EXISTS(SELECT 1 FROM resolution_coworkers rc WHERE rc.resolution_id=r.id AND rc.user_id=$1)
			OR EXISTS(SELECT 1 FROM resolution_inform_units ri WHERE ri.resolution_id=r.id AND ri.user_id=$1)
			OR EXISTS(SELECT 1 FROM resolution_participants rp WHERE rp.resolution_id=r.id AND rp.user_id=$1))
		ORDER BY r.updated_at DESC
	`, userID, oversight, status)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	items := make([]Resolution, 0)
	for rows.Next() {
		item, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}
	for i := range items {
		if err := s.loadRelations(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *PostgresStore) UpdateResolutionBody(ctx context.Context, resolutionID, clause, subclause, body string, kind resolution.Kind, deadline *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resolutions
		SET clause=$2, subclause=$3, body=$4, kind=$5, deadline=$6, updated_at=NOW()
		WHERE id=$1
	`, resolutionID, clause, subclause, body, string(kind), deadline)
	if err != nil {
		return fmt.Errorf("update resolution body: %w", err)
	}
	return nil
}

// ApplyTransition moves a resolution to its new status and records the
// lifecycle entry in one transaction. The update is unconditional: when two
// transitions race, the later commit wins and both entries stay in the log.
func (s *PostgresStore) ApplyTransition(ctx context.Context, resolutionID string, status resolution.Status, canEdit bool, entry Interaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE resolutions
		SET status=$2, can_edit=$3, updated_at=NOW()
		WHERE id=$1
	`, resolutionID, string(status), canEdit); err != nil {
		return fmt.Errorf("update resolution status: %w", err)
	}

	if err := insertInteractionTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, resolutionID string, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resolutions SET progress=$2, updated_at=NOW() WHERE id=$1
	`, resolutionID, progress)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddParticipants(ctx context.Context, resolutionID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add participants: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertRelations(ctx, tx, resolutionID, "resolution_participants", userIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add participants: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, resolutionID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM resolution_participants WHERE resolution_id=$1 AND user_id=$2
	`, resolutionID, userID)
	if err != nil {
		return false, fmt.Errorf("remove participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove participant rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListStaleNotified(ctx context.Context, cutoff time.Time) ([]Resolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resolutionColumns+resolutionJoins+`
		WHERE r.status='notified' AND r.updated_at < $1
		ORDER BY r.updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale notified: %w", err)
	}
	defer rows.Close()

	items := make([]Resolution, 0)
	for rows.Next() {
		item, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale resolution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale resolutions: %w", err)
	}
	for i := range items {
		if err := s.loadRelations(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *PostgresStore) InsertInteraction(ctx context.Context, entry Interaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert interaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertInteractionTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert interaction: %w", err)
	}
	return nil
}

func insertInteractionTx(ctx context.Context, tx *sql.Tx, entry Interaction) error {
	var payload []byte
	if len(entry.Payload) > 0 {
		encoded, err := json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("encode interaction payload: %w", err)
		}
		payload = encoded
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO interactions (id, resolution_id, kind, action_type, author_id, body, payload, progress, reply_to_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
	`, entry.ID, entry.ResolutionID, entry.Kind, entry.ActionType, entry.AuthorID, entry.Body, payload, entry.Progress, entry.ReplyToID); err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	for _, userID := range entry.MentionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO interaction_mentions (interaction_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, entry.ID, userID); err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	for _, attachment := range entry.Attachments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, interaction_id, file_name, object_key, content_type, size_bytes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, attachment.ID, entry.ID, attachment.FileName, attachment.ObjectKey, attachment.ContentType, attachment.Size); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetInteraction(ctx context.Context, interactionID string) (Interaction, error) {
	var item Interaction
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.resolution_id, i.kind, COALESCE(i.action_type, ''), i.author_id, u.display_name,
			i.body, i.payload, i.progress, i.reply_to_id, i.created_at
		FROM interactions i
		JOIN users u ON u.id = i.author_id
		WHERE i.id=$1
	`, interactionID).Scan(
		&item.ID, &item.ResolutionID, &item.Kind, &item.ActionType, &item.AuthorID, &item.AuthorName,
		&item.Body, &payload, &item.Progress, &item.ReplyToID, &item.CreatedAt,
	)
	if err != nil {
		return Interaction{}, err
	}
	if err := decodePayload(payload, &item); err != nil {
		return Interaction{}, err
	}
	return item, nil
}

func decodePayload(raw []byte, item *Interaction) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &item.Payload); err != nil {
		return fmt.Errorf("decode interaction payload: %w", err)
	}
	return nil
}

// ListInteractions returns the flat log in insertion order. Replies carry
// their root id; roots carry how many replies they have.
func (s *PostgresStore) ListInteractions(ctx context.Context, resolutionID string) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.resolution_id, i.kind, COALESCE(i.action_type, ''), i.author_id, u.display_name,
			i.body, i.payload, i.progress, i.reply_to_id,
			(SELECT COUNT(*)::int FROM interactions c WHERE c.reply_to_id = i.id),
			i.created_at
		FROM interactions i
		JOIN users u ON u.id = i.author_id
		WHERE i.resolution_id=$1
		ORDER BY i.created_at ASC, i.id ASC
	`, resolutionID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	items := make([]Interaction, 0)
	index := make(map[string]int)
	for rows.Next() {
		var item Interaction
		var payload []byte
		if err := rows.Scan(
			&item.ID, &item.ResolutionID, &item.Kind, &item.ActionType, &item.AuthorID, &item.AuthorName,
			&item.Body, &payload, &item.Progress, &item.ReplyToID, &item.ReplyCount, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		if err := decodePayload(payload, &item); err != nil {
			return nil, err
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}

	if err := s.attachFiles(ctx, resolutionID, items, index); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) attachFiles(ctx context.Context, resolutionID string, items []Interaction, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.interaction_id, a.file_name, a.object_key, a.content_type, a.size_bytes
		FROM attachments a
		JOIN interactions i ON i.id = a.interaction_id
		WHERE i.resolution_id=$1
		ORDER BY a.id
	`, resolutionID)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var attachment Attachment
		if err := rows.Scan(&attachment.ID, &attachment.InteractionID, &attachment.FileName,
			&attachment.ObjectKey, &attachment.ContentType, &attachment.Size); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if i, ok := index[attachment.InteractionID]; ok {
			items[i].Attachments = append(items[i].Attachments, attachment)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attachments: %w", err)
	}
	return nil
}

// InsertNotifications writes each recipient's row independently. A failed
// recipient is logged and skipped; the remaining recipients still get theirs.
func (s *PostgresStore) InsertNotifications(ctx context.Context, items []Notification) error {
	for _, item := range items {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, kind, type, priority, message, resolution_id, interaction_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.UserID, item.Kind, item.Type, item.Priority, item.Message, item.ResolutionID, item.InteractionID); err != nil {
			log.Printf(`{"level":"warn","component":"store","msg":"notification insert failed","user":%q,"error":%q}`, item.UserID, err.Error())
		}
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, type, priority, message, resolution_id, interaction_id, read_at, created_at
		FROM notifications
		WHERE user_id=$1 AND (NOT $2::boolean OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Kind, &item.Type, &item.Priority, &item.Message,
			&item.ResolutionID, &item.InteractionID, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead is idempotent: re-marking a read notification keeps
// the original read time and still reports the row as found.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=COALESCE(read_at, NOW())
		WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=NOW()
		WHERE user_id=$1 AND read_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete read notifications rows: %w", err)
	}
	return affected, nil
}

// RecordFirstView stores the first time the user opened the resolution.
// Repeat views return the original record untouched.
func (s *PostgresStore) RecordFirstView(ctx context.Context, resolutionID, userID string) (ViewRecord, error) {
	var record ViewRecord
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO resolution_views (resolution_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (resolution_id, user_id) DO UPDATE SET user_id=EXCLUDED.user_id
		RETURNING resolution_id, user_id, first_viewed_at
	`, resolutionID, userID).Scan(&record.ResolutionID, &record.UserID, &record.FirstViewedAt)
	if err != nil {
		return ViewRecord{}, fmt.Errorf("record first view: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListViewedResolutionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resolution_id FROM resolution_views WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list viewed resolutions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan viewed resolution: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate viewed resolutions: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListFirstViews(ctx context.Context, resolutionID string) ([]ViewRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.resolution_id, v.user_id, u.display_name, v.first_viewed_at
		FROM resolution_views v
		JOIN users u ON u.id = v.user_id
		WHERE v.resolution_id=$1
		ORDER BY v.first_viewed_at ASC
	`, resolutionID)
	if err != nil {
		return nil, fmt.Errorf("list first views: %w", err)
	}
	defer rows.Close()

	items := make([]ViewRecord, 0)
	for rows.Next() {
		var item ViewRecord
		if err := rows.Scan(&item.ResolutionID, &item.UserID, &item.UserName, &item.FirstViewedAt); err != nil {
			return nil, fmt.Errorf("scan first view: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate first views: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
