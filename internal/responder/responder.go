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

// Package responder drafts and sends the automatic reply to a prospect,
// always from the mailbox identity that received the prospect's message.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/replyflow/internal/metrics"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/replygen"
	"github.com/bcem/replyflow/internal/stage"
	"github.com/bcem/replyflow/internal/store"
)

// Sender sends mail as a named identity. mailbox.Registry implements it.
type Sender interface {
	SendAs(ctx context.Context, identity string, msg models.OutgoingMessage) (*models.SendResult, error)
}

// Config wires the responder's collaborators. Metrics may be nil.
type Config struct {
	Generator       replygen.Generator
	Sender          Sender
	Store           store.Store
	Metrics         *metrics.Metrics
	PolicyBrief     string
	GenerateTimeout time.Duration
	SendTimeout     time.Duration
}

// Responder runs the reply branch for one classified message.
type Responder struct {
	cfg Config
	now func() time.Time
}

// New creates a responder. Zero timeouts fall back to 60s generate and 30s send.
func New(cfg Config) *Responder {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Responder{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Sent describes a delivered auto-reply.
type Sent struct {
	MessageID string
	SentFrom  string
	Subject   string
}

// Respond sends an auto-reply for msg. tr is the stage transition already
// committed for msg. Errors name the contact and never leave a half-recorded
// reply: the outbound row and its activity commit together.
func (r *Responder) Respond(ctx context.Context, msg models.InboundMessage, tr *stage.Transition) (*Sent, error) {
	name := tr.Contact.DisplayName()

	sent, err := r.reply(ctx, msg, tr)
	r.cfg.Metrics.IncAutoReply(err == nil)
	if err != nil {
		return nil, fmt.Errorf("auto-reply to %s: %w", name, err)
	}
	return sent, nil
}

func (r *Responder) reply(ctx context.Context, msg models.InboundMessage, tr *stage.Transition) (*Sent, error) {
	gctx, cancel := context.WithTimeout(ctx, r.cfg.GenerateTimeout)
	draft, err := r.cfg.Generator.GenerateReply(gctx, replygen.Request{
		OriginalSubject: msg.Subject,
		OriginalBody:    bodyOf(msg),
		ContactName:     tr.Contact.DisplayName(),
		PolicyBrief:     r.cfg.PolicyBrief,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	to := models.NormalizeAddress(msg.From)
	out := models.OutgoingMessage{
		To:                to,
		ToName:            tr.Contact.Name,
		Subject:           draft.Subject,
		Body:              draft.Body,
		InReplyTo:         msg.MessageID,
		ReplyToProviderID: msg.ProviderID,
		ThreadID:          tr.Inbound.ThreadID,
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	res, err := r.cfg.Sender.SendAs(sctx, msg.ReceivedByIdentity, out)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	if models.NormalizeAddress(res.SentFrom) != models.NormalizeAddress(msg.ReceivedByIdentity) {
		return nil, fmt.Errorf("sent from %s, expected %s", res.SentFrom, msg.ReceivedByIdentity)
	}

	sentAt := r.now()
	contactID := tr.Contact.ID
	row := models.Message{
		ContactID: &contactID,
		Direction: models.DirectionOutbound,
		MessageID: res.MessageID,
		ThreadID:  tr.Inbound.ThreadID,
		InReplyTo: msg.MessageID,
		FromEmail: res.SentFrom,
		ToEmail:   to,
		Subject:   draft.Subject,
		Body:      draft.Body,
		EmailType: models.EmailTypeAutoReply,
		Status:    models.StatusSent,
		SentAt:    &sentAt,
	}
	err = r.cfg.Store.WithTx(ctx, func(q store.Querier) error {
		if err := q.InsertMessage(ctx, &row); err != nil {
			return err
		}
		return q.InsertActivity(ctx, &models.Activity{
			ContactID:   contactID,
			Type:        models.ActivityAutoReply,
			Title:       "Auto-reply sent to " + tr.Contact.DisplayName(),
			Description: fmt.Sprintf("From %s: %s", res.SentFrom, draft.Subject),
			CreatedAt:   sentAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sent %s but failed to record it: %w", res.MessageID, err)
	}

	slog.Info("auto-reply sent",
		"contact", tr.Contact.ID,
		"identity", res.SentFrom,
		"message_id", res.MessageID,
		"in_reply_to", msg.MessageID,
	)
	return &Sent{MessageID: res.MessageID, SentFrom: res.SentFrom, Subject: draft.Subject}, nil
}

func bodyOf(msg models.InboundMessage) string {
	if msg.Body != "" {
		return msg.Body
	}
	return msg.BodyPreview
}
