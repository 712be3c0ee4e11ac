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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bcem/replyflow/internal/models"
)

const contactColumns = `id, name, email, source, stage, archived, archived_at,
	archive_reason, last_contacted_at, notes, created_at, updated_at`

const messageColumns = `id, contact_id, direction, message_id, thread_id, in_reply_to,
	from_email, to_email, subject, body, email_type, status, sent_at, received_at,
	replied_at, response_time_ms, created_at`

// queries implements Querier over either the pool or a transaction.
type queries struct {
	ext sqlx.ExtContext
}

func (q queries) MessageExists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.ext, &exists,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE message_id = $1)`, messageID)
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

func (q queries) FindContactByEmail(ctx context.Context, addr string) (*models.Contact, error) {
	var c models.Contact
	err := sqlx.GetContext(ctx, q.ext, &c, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE lower(email) = lower($1)
		ORDER BY created_at
		LIMIT 1
	`, addr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find contact by email: %w", err)
	}
	return &c, nil
}

func (q queries) FindContactByID(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	err := sqlx.GetContext(ctx, q.ext, &c,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find contact by id: %w", err)
	}
	return &c, nil
}

func (q queries) MostRecentOutboundTo(ctx context.Context, addr string, emailType models.EmailType) (*models.Message, error) {
	var m models.Message
	err := sqlx.GetContext(ctx, q.ext, &m, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE direction = 'outbound'
		  AND lower(to_email) = lower($1)
		  AND ($2 = '' OR email_type = $2)
		ORDER BY sent_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, addr, string(emailType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("most recent outbound: %w", err)
	}
	return &m, nil
}

func (q queries) FindOutboundByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	var m models.Message
	err := sqlx.GetContext(ctx, q.ext, &m, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE message_id = $1 AND direction = 'outbound'
	`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find outbound by message id: %w", err)
	}
	return &m, nil
}

// InsertMessage stores m, assigning ID and CreatedAt when unset. A row with
// the same message_id already present yields ErrDuplicate and changes nothing.
func (q queries) InsertMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :contact_id, :direction, :message_id, :thread_id, :in_reply_to,
			:from_email, :to_email, :subject, :body, :email_type, :status, :sent_at,
			:received_at, :replied_at, :response_time_ms, :created_at)
		ON CONFLICT (message_id) DO NOTHING
	`, m)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (q queries) MarkReplied(ctx context.Context, id string, at time.Time) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE messages
		SET status = 'replied', replied_at = $1
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	return nil
}

func (q queries) UpdateContactStage(ctx context.Context, contactID string, stage models.Stage, lastContactedAt time.Time) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE contacts
		SET stage = $1, last_contacted_at = $2, updated_at = NOW()
		WHERE id = $3
	`, string(stage), lastContactedAt, contactID)
	if err != nil {
		return fmt.Errorf("update contact stage: %w", err)
	}
	return nil
}

// ArchiveContact sets archived, archived_at, archive_reason and the lost
// stage in one statement.
func (q queries) ArchiveContact(ctx context.Context, contactID, reason string, at time.Time) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE contacts
		SET archived = TRUE, archived_at = $1, archive_reason = $2,
		    stage = 'lost', last_contacted_at = $1, updated_at = NOW()
		WHERE id = $3
	`, at, reason, contactID)
	if err != nil {
		return fmt.Errorf("archive contact: %w", err)
	}
	return nil
}

func (q queries) InsertActivity(ctx context.Context, a *models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO activities (id, contact_id, type, title, description, created_at)
		VALUES (:id, :contact_id, :type, :title, :description, :created_at)
	`, a)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (q queries) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO notifications (id, contact_id, type, title, message, read, created_at)
		VALUES (:id, :contact_id, :type, :title, :message, :read, :created_at)
	`, n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (q queries) AppendContactNote(ctx context.Context, contactID, note string) error {
	_, err := q.ext.ExecContext(ctx, `
		UPDATE contacts
		SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END,
		    updated_at = NOW()
		WHERE id = $2
	`, note, contactID)
	if err != nil {
		return fmt.Errorf("append contact note: %w", err)
	}
	return nil
}
