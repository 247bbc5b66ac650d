// Package journal persists an append-only record of accepted donations and
// their render outcomes in a local SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"drawstream/internal/domain"
)

const defaultDBName = "drawstream.db"

const schema = `
CREATE TABLE IF NOT EXISTS donations (
	id         TEXT NOT NULL,
	donor      TEXT NOT NULL,
	message    TEXT NOT NULL,
	amount     TEXT NOT NULL,
	currency   TEXT NOT NULL,
	ts         TEXT NOT NULL,
	accepted_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
	donation_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	nsfw        INTEGER NOT NULL,
	detail      TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
`

// Journal wraps the database handle. All writes are fire-and-forget from the
// pipeline's point of view: a journal failure is logged by the caller, never
// fatal.
type Journal struct {
	db *sql.DB
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, defaultDBName)
}

// Open opens (creating if needed) the journal under the given directory.
func Open(workspace string) (*Journal, error) {
	if workspace == "" {
		workspace = "."
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: conn}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordDonation appends an accepted donation.
func (j *Journal) RecordDonation(ctx context.Context, event domain.DonationEvent) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO donations(id, donor, message, amount, currency, ts, accepted_at) VALUES(?,?,?,?,?,?,?)`,
		event.ID, event.Donor, event.Message, event.Amount.String(), event.Currency,
		event.Timestamp.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339))
	return err
}

// RecordOutcome appends the final disposition of a task: the kind rendered,
// whether the gatekeeper flagged it, and a short detail (caption or failure
// reason).
func (j *Journal) RecordOutcome(ctx context.Context, task domain.RenderTask, detail string) error {
	nsfw := 0
	if task.NSFW {
		nsfw = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO outcomes(donation_id, kind, nsfw, detail, finished_at) VALUES(?,?,?,?,?)`,
		task.Event.ID, string(task.Kind), nsfw, detail, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Recent returns the latest n outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Outcome, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT donation_id, kind, nsfw, detail, finished_at FROM outcomes ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Outcome
	for rows.Next() {
		var o Outcome
		var nsfw int
		if err := rows.Scan(&o.DonationID, &o.Kind, &nsfw, &o.Detail, &o.FinishedAt); err != nil {
			return nil, err
		}
		o.NSFW = nsfw != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// Outcome is one journalled task disposition.
type Outcome struct {
	DonationID string
	Kind       string
	NSFW       bool
	Detail     string
	FinishedAt string
}
