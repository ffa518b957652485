package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	credvault "github.com/credvault/credvault"
)

const eventColumns = `id, user_id, event_type, event_data, ip_address, user_agent, severity, created_at`

func scanSecurityEvent(row userScanner) (*credvault.SecurityEvent, error) {
	var e credvault.SecurityEvent
	var userID sql.NullInt64
	var severity string
	var createdAt int64

	if err := row.Scan(
		&e.ID,
		&userID,
		&e.EventType,
		&e.EventData,
		&e.IPAddress,
		&e.UserAgent,
		&severity,
		&createdAt,
	); err != nil {
		return nil, err
	}

	if userID.Valid {
		id := userID.Int64
		e.UserID = &id
	}
	e.Severity = credvault.Severity(severity)
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func (s *Store) InsertSecurityEvent(ctx context.Context, event credvault.SecurityEvent) error {
	var userID sql.NullInt64
	if event.UserID != nil {
		userID = sql.NullInt64{Int64: *event.UserID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO security_events (
	user_id, event_type, event_data, ip_address, user_agent, severity, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		userID,
		event.EventType,
		event.EventData,
		event.IPAddress,
		event.UserAgent,
		string(event.Severity),
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *Store) QuerySecurityEvents(ctx context.Context, filter credvault.EventFilter) ([]credvault.SecurityEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM security_events WHERE created_at >= ?`
	args := []any{toMillis(filter.Since)}

	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.UserID != nil {
		query += ` AND user_id = ?`
		args = append(args, *filter.UserID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []credvault.SecurityEvent
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("query security events scan: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query security events rows: %w", err)
	}
	return events, nil
}

func (s *Store) CountSecurityEvents(ctx context.Context, since time.Time, eventType string, severities []credvault.Severity) (int64, error) {
	query := `SELECT COUNT(*) FROM security_events WHERE created_at >= ?`
	args := []any{toMillis(since)}

	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	if len(severities) > 0 {
		placeholders := make([]string, len(severities))
		for i, sev := range severities {
			placeholders[i] = "?"
			args = append(args, string(sev))
		}
		query += ` AND severity IN (` + strings.Join(placeholders, ", ") + `)`
	}

	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count security events: %w", err)
	}
	return count, nil
}

func (s *Store) SecurityEventStats(ctx context.Context, since time.Time) (*credvault.EventStats, error) {
	stats := &credvault.EventStats{
		ByType:     make(map[string]int64),
		BySeverity: make(map[credvault.Severity]int64),
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_type, severity, COUNT(*)
FROM security_events
WHERE created_at >= ?
GROUP BY event_type, severity
`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("security event stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType, severity string
		var count int64
		if err := rows.Scan(&eventType, &severity, &count); err != nil {
			return nil, fmt.Errorf("security event stats scan: %w", err)
		}
		stats.Total += count
		stats.ByType[eventType] += count
		stats.BySeverity[credvault.Severity(severity)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("security event stats rows: %w", err)
	}
	return stats, nil
}
