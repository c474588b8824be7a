// Package journal records every gap:// URI handed to the native bridge in
// SQLite, so a host can audit what a page asked the device to do.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/gaphost/internal/bridge"
)

// Entry statuses.
const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusRecorded = "recorded" // no downstream transport
)

// Entry is one journaled bridge call.
type Entry struct {
	Seq        int64     `json:"seq"`
	CommandID  string    `json:"command_id"`
	Command    string    `json:"command"`
	URI        string    `json:"uri"`
	Digest     string    `json:"digest"`
	Status     string    `json:"status"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	SentAt     time.Time `json:"sent_at"`
}

// Filter narrows List results.
type Filter struct {
	Command string
	Limit   int
}

// Journal is a Bridge decorator. It forwards to next, when set, and then
// appends the outcome to bridge_journal.
type Journal struct {
	db     *sql.DB
	next   bridge.Bridge
	logger *slog.Logger
	now    func() time.Time
}

func New(db *sql.DB, next bridge.Bridge, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		db:     db,
		next:   next,
		logger: logger.With("component", "journal"),
		now:    time.Now,
	}
}

// Digest is the hex BLAKE3 of a URI.
func Digest(uri string) string {
	sum := blake3.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:])
}

func (j *Journal) Send(ctx context.Context, cmd bridge.Command) error {
	var sendErr error
	status := StatusRecorded
	if j.next != nil {
		sendErr = j.next.Send(ctx, cmd)
		status = StatusSent
		if sendErr != nil {
			status = StatusFailed
		}
	}

	if err := j.append(ctx, cmd, status, sendErr); err != nil {
		if j.next == nil {
			return err
		}
		j.logger.Warn("journal append failed", "command_id", cmd.ID, "error", err)
	}
	return sendErr
}

func (j *Journal) append(ctx context.Context, cmd bridge.Command, status string, sendErr error) error {
	uri := cmd.URI()
	var lastErr sql.NullString
	if sendErr != nil {
		lastErr = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	enqueued := cmd.EnqueuedAt
	if enqueued.IsZero() {
		enqueued = j.now()
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO bridge_journal(command_id, command, uri, digest, status, last_error, enqueued_at, sent_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, cmd.ID, cmd.Name, uri, Digest(uri), status, lastErr,
		enqueued.UTC().Format(time.RFC3339Nano), j.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	return List(ctx, j.db, f)
}

// List reads journal entries from db, newest first. It does not need a
// running host.
func List(ctx context.Context, db *sql.DB, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT seq, command_id, command, uri, digest, status, last_error, enqueued_at, sent_at FROM bridge_journal`
	args := []any{}
	if f.Command != "" {
		query += ` WHERE command = ?`
		args = append(args, f.Command)
	}
	query += ` ORDER BY seq DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			lastErr            sql.NullString
			enqueuedAt, sentAt string
		)
		if err := rows.Scan(&e.Seq, &e.CommandID, &e.Command, &e.URI, &e.Digest, &e.Status, &lastErr, &enqueuedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.LastError = lastErr.String
		if e.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt); err != nil {
			return nil, fmt.Errorf("parse enqueued_at: %w", err)
		}
		if e.SentAt, err = time.Parse(time.RFC3339Nano, sentAt); err != nil {
			return nil, fmt.Errorf("parse sent_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// ErrTampered reports an entry whose URI no longer matches its digest.
var ErrTampered = errors.New("journal entry digest mismatch")

// Verify checks every entry's digest against its URI.
func Verify(entries []Entry) error {
	for _, e := range entries {
		if Digest(e.URI) != e.Digest {
			return fmt.Errorf("%w: seq %d", ErrTampered, e.Seq)
		}
	}
	return nil
}
