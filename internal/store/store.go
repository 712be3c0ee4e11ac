// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists contacts, messages, activities and notifications in
// Postgres. Each inbound message's side effects are written in one
// transaction through WithTx.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/bcem/replyflow/internal/models"
)

// ErrDuplicate is returned by InsertMessage when the message_id already exists.
var ErrDuplicate = errors.New("message already stored")

// Querier is the set of reads and writes the pipeline performs. It is
// satisfied both by the store itself and by the transaction handed to
// WithTx callbacks.
type Querier interface {
	MessageExists(ctx context.Context, messageID string) (bool, error)
	FindContactByEmail(ctx context.Context, addr string) (*models.Contact, error)
	FindContactByID(ctx context.Context, id string) (*models.Contact, error)
	// MostRecentOutboundTo returns the newest outbound message sent to addr,
	// optionally restricted to one email type. Nil when none exists.
	MostRecentOutboundTo(ctx context.Context, addr string, emailType models.EmailType) (*models.Message, error)
	FindOutboundByMessageID(ctx context.Context, messageID string) (*models.Message, error)

	InsertMessage(ctx context.Context, m *models.Message) error
	MarkReplied(ctx context.Context, id string, at time.Time) error
	UpdateContactStage(ctx context.Context, contactID string, stage models.Stage, lastContactedAt time.Time) error
	ArchiveContact(ctx context.Context, contactID, reason string, at time.Time) error
	InsertActivity(ctx context.Context, a *models.Activity) error
	InsertNotification(ctx context.Context, n *models.Notification) error
	AppendContactNote(ctx context.Context, contactID, note string) error
}

// Store is a Querier that can also open transactions.
type Store interface {
	Querier
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
}

// DB is the Postgres-backed Store.
type DB struct {
	queries
	db *sqlx.DB
}

// Open connects to Postgres through the pgx driver and ensures the schema.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}

	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store initialised")
	return s, nil
}

// New wraps an existing connection without touching the schema.
func New(db *sqlx.DB) *DB {
	return &DB{queries: queries{ext: db}, db: db}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// WithTx implements Store.
func (s *DB) WithTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(queries{ext: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	stage             TEXT NOT NULL DEFAULT 'new',
	archived          BOOLEAN NOT NULL DEFAULT FALSE,
	archived_at       TIMESTAMPTZ,
	archive_reason    TEXT,
	last_contacted_at TIMESTAMPTZ,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT contacts_archive_complete
		CHECK (NOT archived OR (archived_at IS NOT NULL AND archive_reason IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(lower(email));

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	contact_id       TEXT REFERENCES contacts(id),
	direction        TEXT NOT NULL,
	message_id       TEXT NOT NULL UNIQUE,
	thread_id        TEXT NOT NULL DEFAULT '',
	in_reply_to      TEXT NOT NULL DEFAULT '',
	from_email       TEXT NOT NULL DEFAULT '',
	to_email         TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL DEFAULT '',
	email_type       TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT '',
	sent_at          TIMESTAMPTZ,
	received_at      TIMESTAMPTZ,
	replied_at       TIMESTAMPTZ,
	response_time_ms BIGINT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_messages_outbound_to
	ON messages(lower(to_email), sent_at DESC) WHERE direction = 'outbound';
CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id);

CREATE TABLE IF NOT EXISTS activities (
	id          TEXT PRIMARY KEY,
	contact_id  TEXT NOT NULL REFERENCES contacts(id),
	type        TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activities_contact ON activities(contact_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL REFERENCES contacts(id),
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	read       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(read, created_at);
`
