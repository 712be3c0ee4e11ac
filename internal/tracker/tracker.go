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

// Package tracker measures how long a third party took to answer a probe
// email sent from the tracking mailbox.
package tracker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/store"
)

// Measurement is one recorded probe response.
type Measurement struct {
	ContactID    string
	ProbeID      string
	ResponseTime time.Duration
	Summary      string
}

// Tracker handles messages received by the tracking identity.
type Tracker struct {
	store    store.Store
	identity string
	now      func() time.Time
}

// New creates a tracker for the given tracking address.
func New(s store.Store, trackingIdentity string) *Tracker {
	return &Tracker{
		store:    s,
		identity: models.NormalizeAddress(trackingIdentity),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handles reports whether msg arrived at the tracking mailbox.
func (t *Tracker) Handles(msg models.InboundMessage) bool {
	return t.identity != "" && models.NormalizeAddress(msg.ReceivedByIdentity) == t.identity
}

// Record stores msg as the answer to the latest probe sent to its sender.
// It returns nil, nil and writes nothing when no probe was sent to them.
func (t *Tracker) Record(ctx context.Context, msg models.InboundMessage) (*Measurement, error) {
	from := models.NormalizeAddress(msg.From)
	var m *Measurement

	err := t.store.WithTx(ctx, func(q store.Querier) error {
		probe, err := q.MostRecentOutboundTo(ctx, from, models.EmailTypeMysteryShopper)
		if err != nil {
			return fmt.Errorf("probe lookup: %w", err)
		}
		if probe == nil {
			return nil
		}

		sent := probe.CreatedAt
		if probe.SentAt != nil {
			sent = *probe.SentAt
		}
		received := msg.ReceivedAt
		if received.IsZero() {
			received = t.now()
		}
		elapsed := received.Sub(sent)
		if elapsed < 0 {
			elapsed = 0
		}
		ms := elapsed.Milliseconds()

		threadID := msg.ConversationID
		if threadID == "" {
			threadID = probe.ThreadID
		}
		row := models.Message{
			ContactID:      probe.ContactID,
			Direction:      models.DirectionInbound,
			MessageID:      msg.MessageID,
			ThreadID:       threadID,
			InReplyTo:      msg.InReplyTo,
			FromEmail:      from,
			ToEmail:        msg.ReceivedByIdentity,
			Subject:        msg.Subject,
			Body:           msg.Body,
			EmailType:      models.EmailTypeMysteryShopperReply,
			Status:         models.StatusReceived,
			ReceivedAt:     &received,
			ResponseTimeMs: &ms,
		}
		if row.Body == "" {
			row.Body = msg.BodyPreview
		}
		if err := q.InsertMessage(ctx, &row); err != nil {
			return err
		}
		if probe.Status != models.StatusReplied {
			if err := q.MarkReplied(ctx, probe.ID, received); err != nil {
				return err
			}
		}

		summary := "Responded in " + FormatDuration(elapsed)
		m = &Measurement{ProbeID: probe.ID, ResponseTime: elapsed, Summary: summary}
		if probe.ContactID == nil {
			return nil
		}
		m.ContactID = *probe.ContactID

		if err := q.InsertActivity(ctx, &models.Activity{
			ContactID:   m.ContactID,
			Type:        models.ActivityResponseTime,
			Title:       "Mystery shopper reply: " + FormatDuration(elapsed),
			Description: fmt.Sprintf("%s answered %q", from, probe.Subject),
			CreatedAt:   t.now(),
		}); err != nil {
			return err
		}
		note := fmt.Sprintf("[%s] %s to mystery shopper probe", received.Format("2006-01-02"), summary)
		return q.AppendContactNote(ctx, m.ContactID, note)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FormatDuration renders d as whole minutes under an hour, otherwise hours
// with one decimal.
func FormatDuration(d time.Duration) string {
	// Rounding can reach 60 just under the hour; that reads as hours.
	if mins := int(math.Round(d.Minutes())); mins < 60 {
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
