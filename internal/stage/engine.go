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

// Package stage applies contact lifecycle transitions driven by a classified
// reply. All writes for one reply commit together or not at all.
package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/bcem/replyflow/internal/classifier"
	"github.com/bcem/replyflow/internal/matcher"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/store"
)

// Outcome is the branch a reply took.
type Outcome string

const (
	OutcomeArchived Outcome = "archived"
	OutcomeMeeting  Outcome = "meeting_request"
	OutcomePositive Outcome = "positive_reply"
	OutcomeNeutral  Outcome = "reply"
)

// OutcomeFor maps a classification onto a branch. Rejection wins, then
// meeting, then interest.
func OutcomeFor(r classifier.Result) Outcome {
	switch {
	case r.IsNotInterested:
		return OutcomeArchived
	case r.IsMeetingRequest:
		return OutcomeMeeting
	case r.IsPositive:
		return OutcomePositive
	default:
		return OutcomeNeutral
	}
}

// Transition describes what Apply changed.
type Transition struct {
	Outcome      Outcome
	From         models.Stage
	To           models.Stage
	Contact      models.Contact
	Inbound      models.Message
	Outbound     *models.Message // originating outbound marked replied, if any
	Notification *models.Notification
}

// Engine writes transitions to the store.
type Engine struct {
	store store.Store
	now   func() time.Time
}

// New creates a stage engine.
func New(s store.Store) *Engine {
	return &Engine{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Apply records msg as an inbound reply from match.Contact and applies the
// transition for result in one transaction. store.ErrDuplicate is returned
// unchanged when msg was already stored.
func (e *Engine) Apply(ctx context.Context, msg models.InboundMessage, match matcher.Match, result classifier.Result) (*Transition, error) {
	outcome := OutcomeFor(result)
	contact := match.Contact
	at := msg.ReceivedAt
	if at.IsZero() {
		at = e.now()
	}

	tr := &Transition{Outcome: outcome, From: contact.Stage}

	err := e.store.WithTx(ctx, func(q store.Querier) error {
		inbound := models.Message{
			ContactID:  &contact.ID,
			Direction:  models.DirectionInbound,
			MessageID:  msg.MessageID,
			ThreadID:   threadID(msg, match.Outbound),
			InReplyTo:  msg.InReplyTo,
			FromEmail:  models.NormalizeAddress(msg.From),
			ToEmail:    msg.ReceivedByIdentity,
			Subject:    msg.Subject,
			Body:       bodyOf(msg),
			EmailType:  emailTypeFor(outcome),
			Status:     models.StatusReceived,
			ReceivedAt: &at,
		}
		if err := q.InsertMessage(ctx, &inbound); err != nil {
			return err
		}
		tr.Inbound = inbound

		outbound, err := e.originating(ctx, q, msg, match)
		if err != nil {
			return err
		}
		if outbound != nil && outbound.Status != models.StatusReplied {
			if err := q.MarkReplied(ctx, outbound.ID, at); err != nil {
				return err
			}
			outbound.Status = models.StatusReplied
			outbound.RepliedAt = &at
		}
		tr.Outbound = outbound

		name := contact.DisplayName()
		activity := &models.Activity{ContactID: contact.ID, CreatedAt: e.now()}
		var notification *models.Notification

		switch outcome {
		case OutcomeArchived:
			if err := q.ArchiveContact(ctx, contact.ID, result.Reason, at); err != nil {
				return err
			}
			reason := result.Reason
			contact.Archived = true
			contact.ArchivedAt = &at
			contact.ArchiveReason = &reason
			contact.Stage = models.StageLost
			activity.Type = models.ActivityArchived
			activity.Title = "archived: " + result.Reason
			activity.Description = fmt.Sprintf("%s replied not interested: %q", name, models.Preview(bodyOf(msg), 200))

		case OutcomeMeeting:
			contact.Stage = contact.Stage.Advance(models.StageMeeting)
			activity.Type = models.ActivityMeetingRequest
			activity.Title = "Meeting request from " + name
			activity.Description = models.Preview(bodyOf(msg), 200)
			notification = &models.Notification{
				ContactID: contact.ID,
				Type:      models.NotificationMeetingRequest,
				Title:     "Meeting request: " + name,
				Message:   fmt.Sprintf("%s wants to meet. Subject: %s", name, msg.Subject),
				CreatedAt: e.now(),
			}

		case OutcomePositive:
			contact.Stage = contact.Stage.Advance(models.StageEngaged)
			activity.Type = models.ActivityPositiveReply
			activity.Title = "Positive reply from " + name
			activity.Description = models.Preview(bodyOf(msg), 200)
			notification = &models.Notification{
				ContactID: contact.ID,
				Type:      models.NotificationPositiveReply,
				Title:     "Positive reply: " + name,
				Message:   fmt.Sprintf("%s is interested. Subject: %s", name, msg.Subject),
				CreatedAt: e.now(),
			}

		default:
			contact.Stage = contact.Stage.Advance(models.StageEngaged)
			activity.Type = models.ActivityReplyReceived
			activity.Title = "Reply from " + name
			activity.Description = models.Preview(bodyOf(msg), 200)
		}

		if outcome != OutcomeArchived {
			if err := q.UpdateContactStage(ctx, contact.ID, contact.Stage, at); err != nil {
				return err
			}
		}
		contact.LastContactedAt = &at

		if err := q.InsertActivity(ctx, activity); err != nil {
			return err
		}
		if notification != nil {
			if err := q.InsertNotification(ctx, notification); err != nil {
				return err
			}
		}
		tr.Notification = notification
		return nil
	})
	if err != nil {
		return nil, err
	}

	tr.Contact = contact
	tr.To = contact.Stage
	return tr, nil
}

// originating finds the outbound message this reply answers: the message
// named by In-Reply-To when we sent it, otherwise the thread match.
func (e *Engine) originating(ctx context.Context, q store.Querier, msg models.InboundMessage, match matcher.Match) (*models.Message, error) {
	if msg.InReplyTo != "" {
		out, err := q.FindOutboundByMessageID(ctx, msg.InReplyTo)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	if match.Outbound == nil {
		return nil, nil
	}
	cp := *match.Outbound
	return &cp, nil
}

func threadID(msg models.InboundMessage, outbound *models.Message) string {
	if msg.ConversationID != "" {
		return msg.ConversationID
	}
	if outbound != nil && outbound.ThreadID != "" {
		return outbound.ThreadID
	}
	return msg.InReplyTo
}

func bodyOf(msg models.InboundMessage) string {
	if msg.Body != "" {
		return msg.Body
	}
	return msg.BodyPreview
}

func emailTypeFor(o Outcome) models.EmailType {
	switch o {
	case OutcomeArchived:
		return models.EmailTypeNotInterested
	case OutcomeMeeting:
		return models.EmailTypeMeetingRequest
	case OutcomePositive:
		return models.EmailTypePositiveReply
	default:
		return models.EmailTypeReply
	}
}
