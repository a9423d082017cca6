// Package audit writes and prunes the gateway's audit trail. Writes are
// best-effort: a failure is logged but never propagated, since audit
// logging must not interrupt normal request handling.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	ActionLogin           = "LOGIN"
	ActionLogout          = "LOGOUT"
	ActionPasswordChanged = "PASSWORD_CHANGED"
	ActionSessionStarted  = "SESSION_STARTED"
	ActionSessionEnded    = "SESSION_ENDED"
)

var log = logrus.WithField("component", "audit")

// Entry is a single immutable audit log row.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Username  string
	Action    string
	SourceIP  string
	Detail    string
}

// Log writes and queries audit entries against a SQLite-backed store.
type Log struct {
	db *sql.DB
}

// New wraps db as an audit Log.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Write inserts a new entry. Errors are logged, not returned, matching the
// gateway's long-standing policy that audit failures must never break the
// request that triggered them.
func (l *Log) Write(ctx context.Context, username, action, sourceIP, detail string) {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, username, action, source_ip, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), username, action, nullable(sourceIP), nullable(detail))
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"username": username,
			"action":   action,
		}).Error("failed to write audit log entry")
		return
	}
	log.WithFields(logrus.Fields{"username": username, "action": action, "detail": detail}).Debug("audit")
}

// Page is a single page of audit entries, newest first.
type Page struct {
	Total    int
	Page     int
	PageSize int
	Entries  []Entry
}

// List returns a page of audit entries ordered by timestamp descending.
func (l *Log) List(ctx context.Context, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, username, action, source_ip, detail FROM audit_logs
		 ORDER BY timestamp DESC LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ip, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Username, &e.Action, &ip, &detail); err != nil {
			return nil, err
		}
		e.SourceIP, e.Detail = ip.String, detail.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{Total: total, Page: page, PageSize: pageSize, Entries: entries}, nil
}

// Prune deletes entries older than retentionDays and returns the count
// removed.
func (l *Log) Prune(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.WithFields(logrus.Fields{"deleted": n, "retention_days": retentionDays}).Info("pruned audit log entries")
	}
	return n, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
