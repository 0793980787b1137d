package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks resolutions with plainto_tsquery and ts_rank, with
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const where = `
		to_tsvector('simple', r.body || ' ' || r.clause || ' ' || r.subclause)
			@@ plainto_tsquery('simple', $1)
		AND ($2 = '' OR r.status = $2)
	`

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM resolutions r WHERE `+where,
		q.Text, q.FilterStatus).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.public_id, r.clause, r.subclause,
			ts_headline('simple', r.body, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			r.status, r.kind, m.number
		FROM resolutions r
		JOIN meetings m ON m.id = r.meeting_id
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', r.body), plainto_tsquery('simple', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset),
		q.Text, q.FilterStatus)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Clause, &r.Subclause, &r.Snippet, &r.Status, &r.Kind, &r.MeetingNumber); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every resolution for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ResolutionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.public_id, r.clause, r.subclause, r.body, r.status, r.kind, m.number
		FROM resolutions r
		JOIN meetings m ON m.id = r.meeting_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load resolutions: %w", err)
	}
	defer rows.Close()

	records := make([]ResolutionRecord, 0)
	for rows.Next() {
		var record ResolutionRecord
		if err := rows.Scan(&record.ID, &record.Clause, &record.Subclause, &record.Body,
			&record.Status, &record.Kind, &record.MeetingNumber); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}
	return records, nil
}
