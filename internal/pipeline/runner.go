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

// Package pipeline runs the reply check: fetch every mailbox, then process
// each new message in arrival order and fold the per-message events into a
// BatchSummary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bcem/replyflow/internal/aggregator"
	"github.com/bcem/replyflow/internal/classifier"
	"github.com/bcem/replyflow/internal/matcher"
	"github.com/bcem/replyflow/internal/metrics"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/notify"
	"github.com/bcem/replyflow/internal/responder"
	"github.com/bcem/replyflow/internal/stage"
	"github.com/bcem/replyflow/internal/store"
	"github.com/bcem/replyflow/internal/tracker"
)

// Fetcher returns the inbound messages received since a point in time.
// aggregator.Aggregator implements it.
type Fetcher interface {
	Fetch(ctx context.Context, since time.Time) aggregator.Result
}

// Claimer guards a message against concurrent processing. dedup.Claims
// implements it.
type Claimer interface {
	Acquire(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// Replier sends the auto-reply for a committed transition.
// responder.Responder implements it.
type Replier interface {
	Respond(ctx context.Context, msg models.InboundMessage, tr *stage.Transition) (*responder.Sent, error)
}

// Config wires a Runner. Replier, Notifier, Tracker, Claims and Metrics are
// optional.
type Config struct {
	Fetcher  Fetcher
	Store    store.Store
	Replier  Replier
	Notifier notify.Notifier // meeting-request alerts, sent with or without a Replier
	Tracker  *tracker.Tracker
	Claims   Claimer
	Metrics  *metrics.Metrics
	Lookback time.Duration // used when hoursBack <= 0; default 24h

	NotifyTimeout time.Duration // default 30s
}

// Runner executes reply checks.
type Runner struct {
	fetcher  Fetcher
	store    store.Store
	matcher  *matcher.Matcher
	engine   *stage.Engine
	replier  Replier
	notifier notify.Notifier
	tracker  *tracker.Tracker
	claims   Claimer
	metrics  *metrics.Metrics
	lookback time.Duration
	now      func() time.Time

	notifyTimeout time.Duration

	running atomic.Bool
}

// New creates a Runner.
func New(cfg Config) *Runner {
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = 30 * time.Second
	}
	return &Runner{
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		matcher:  matcher.New(cfg.Store),
		engine:   stage.New(cfg.Store),
		replier:  cfg.Replier,
		notifier: cfg.Notifier,
		tracker:  cfg.Tracker,
		claims:   cfg.Claims,
		metrics:  cfg.Metrics,
		lookback: lookback,
		now:      time.Now,

		notifyTimeout: notifyTimeout,
	}
}

// TryRunReplyCheck runs a check unless one is already in progress on this
// Runner. ok is false when it was skipped.
func (r *Runner) TryRunReplyCheck(ctx context.Context, hoursBack int) (summary BatchSummary, ok bool) {
	if !r.running.CompareAndSwap(false, true) {
		return BatchSummary{}, false
	}
	defer r.running.Store(false)
	return r.RunReplyCheck(ctx, hoursBack), true
}

// RunReplyCheck fetches the last hoursBack hours of mail and processes every
// message not seen before. Failures are collected in the summary; none of
// them stop the batch. When ctx ends, processing stops between messages and
// everything already committed stays committed.
func (r *Runner) RunReplyCheck(ctx context.Context, hoursBack int) BatchSummary {
	start := r.now()
	window := r.lookback
	if hoursBack > 0 {
		window = time.Duration(hoursBack) * time.Hour
	}
	since := start.Add(-window)

	fetch := r.fetcher.Fetch(ctx, since)
	summary := NewSummary(fetch)

	var events []Event
	for i, msg := range fetch.Messages {
		if err := ctx.Err(); err != nil {
			events = append(events, Event{
				Kind: EventError,
				Err:  fmt.Sprintf("batch stopped with %d of %d messages unprocessed: %v", len(fetch.Messages)-i, len(fetch.Messages), err),
			})
			break
		}
		for _, e := range r.process(ctx, msg) {
			r.metrics.IncOutcome(string(e.Kind))
			events = append(events, e)
		}
	}
	summary = Fold(summary, events)

	elapsed := time.Since(start)
	r.metrics.ObserveBatch(elapsed, len(summary.Errors))
	slog.Info("reply check complete",
		"hours_back", window.Hours(),
		"checked", summary.Checked,
		"found", summary.Found,
		"matched", summary.Matched,
		"saved", summary.Saved,
		"auto_replies", summary.AutoReplies,
		"errors", len(summary.Errors),
		"duration", elapsed,
	)
	return summary
}

// process handles one message and returns the events it produced.
func (r *Runner) process(ctx context.Context, msg models.InboundMessage) []Event {
	id := msg.MessageID
	fail := func(format string, args ...any) []Event {
		err := fmt.Sprintf(format, args...)
		slog.Error("message processing failed", "message_id", id, "identity", msg.ReceivedByIdentity, "error", err)
		return []Event{{Kind: EventError, MessageID: id, Err: err}}
	}

	if id == "" {
		return fail("message from %s to %s has no message id", msg.From, msg.ReceivedByIdentity)
	}

	exists, err := r.store.MessageExists(ctx, id)
	if err != nil {
		return fail("dedup check %s: %v", id, err)
	}
	if exists {
		return []Event{{Kind: EventDuplicate, MessageID: id}}
	}

	if r.claims != nil {
		held, err := r.claims.Acquire(ctx, id)
		switch {
		case err != nil:
			// The unique message_id constraint still prevents double writes.
			slog.Warn("claim unavailable, processing unguarded", "message_id", id, "error", err)
		case !held:
			r.metrics.IncClaimConflict()
			return []Event{{Kind: EventClaimHeld, MessageID: id}}
		default:
			defer func() {
				if err := r.claims.Release(context.WithoutCancel(ctx), id); err != nil {
					slog.Warn("claim release failed", "message_id", id, "error", err)
				}
			}()
		}
	}

	if r.tracker != nil && r.tracker.Handles(msg) {
		return r.processProbeReply(ctx, msg)
	}
	return r.processSalesReply(ctx, msg)
}

func (r *Runner) processProbeReply(ctx context.Context, msg models.InboundMessage) []Event {
	id := msg.MessageID
	m, err := r.tracker.Record(ctx, msg)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return []Event{{Kind: EventDuplicate, MessageID: id}}
	case err != nil:
		e := fmt.Sprintf("mystery shopper reply from %s: %v", msg.From, err)
		slog.Error("message processing failed", "message_id", id, "error", e)
		return []Event{{Kind: EventError, MessageID: id, Err: e}}
	case m == nil:
		slog.Debug("tracking reply without probe", "message_id", id, "from", msg.From)
		return []Event{{Kind: EventProbeNotFound, MessageID: id}}
	}
	slog.Info("mystery shopper reply recorded",
		"message_id", id,
		"contact", m.ContactID,
		"response_time", m.ResponseTime,
	)
	return []Event{{Kind: EventProbeReply, MessageID: id}}
}

func (r *Runner) processSalesReply(ctx context.Context, msg models.InboundMessage) []Event {
	id := msg.MessageID

	match, err := r.matcher.Resolve(ctx, msg.From)
	if err != nil {
		e := fmt.Sprintf("match %s: %v", msg.From, err)
		slog.Error("message processing failed", "message_id", id, "error", e)
		return []Event{{Kind: EventError, MessageID: id, Err: e}}
	}
	if match == nil {
		slog.Debug("no contact for sender", "message_id", id, "from", msg.From)
		return []Event{{Kind: EventUnmatched, MessageID: id}}
	}
	events := []Event{{Kind: EventMatched, MessageID: id}}
	name := match.Contact.DisplayName()

	result := classifier.AnalyzeText(msg.Text())
	tr, err := r.engine.Apply(ctx, msg, *match, result)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return append(events, Event{Kind: EventDuplicate, MessageID: id})
	case err != nil:
		e := fmt.Sprintf("save reply from %s: %v", name, err)
		slog.Error("message processing failed", "message_id", id, "error", e)
		return append(events, Event{Kind: EventError, MessageID: id, Err: e})
	}

	slog.Info("reply processed",
		"message_id", id,
		"contact", match.Contact.ID,
		"match", match.Method,
		"outcome", tr.Outcome,
		"stage", tr.To,
		"reason", result.Reason,
		"confidence", result.Confidence,
	)
	events = append(events, Event{
		Kind:          EventSaved,
		MessageID:     id,
		Outcome:       tr.Outcome,
		NewlyArchived: tr.Outcome == stage.OutcomeArchived && !match.Contact.Archived,
	})

	if tr.Outcome == stage.OutcomeMeeting {
		r.notifyMeeting(ctx, msg, tr)
	}

	if tr.Outcome == stage.OutcomeArchived || r.replier == nil {
		return events
	}
	if _, err := r.replier.Respond(ctx, msg, tr); err != nil {
		slog.Error("auto-reply failed", "message_id", id, "contact", match.Contact.ID, "error", err)
		return append(events, Event{Kind: EventError, MessageID: id, Err: err.Error()})
	}
	return append(events, Event{Kind: EventAutoReply, MessageID: id})
}

// notifyMeeting alerts the operator about a meeting request. It is
// best-effort: a failure is logged and never reaches the summary.
func (r *Runner) notifyMeeting(ctx context.Context, msg models.InboundMessage, tr *stage.Transition) {
	if r.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, r.notifyTimeout)
	defer cancel()

	body := msg.Body
	if body == "" {
		body = msg.BodyPreview
	}
	err := r.notifier.NotifyMeetingRequest(nctx, notify.MeetingRequest{
		ContactName:  tr.Contact.DisplayName(),
		ContactEmail: tr.Contact.Email,
		Subject:      msg.Subject,
		Body:         body,
		Identity:     msg.ReceivedByIdentity,
		ReceivedAt:   msg.ReceivedAt,
	})
	if err != nil {
		slog.Warn("meeting notification failed", "message_id", msg.MessageID, "contact", tr.Contact.ID, "error", err)
	}
}
