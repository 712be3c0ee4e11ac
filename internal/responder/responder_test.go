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

package responder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/replyflow/internal/mailbox"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/replygen"
	"github.com/bcem/replyflow/internal/stage"
	"github.com/bcem/replyflow/internal/store/storetest"
)

type fakeGen struct {
	reply *replygen.Reply
	err   error
	got   []replygen.Request
}

func (g *fakeGen) GenerateReply(_ context.Context, req replygen.Request) (*replygen.Reply, error) {
	g.got = append(g.got, req)
	return g.reply, g.err
}

type sendCall struct {
	identity string
	msg      models.OutgoingMessage
}

type fakeSender struct {
	known map[string]bool
	calls []sendCall
	err   error
}

func (s *fakeSender) SendAs(_ context.Context, identity string, msg models.OutgoingMessage) (*models.SendResult, error) {
	s.calls = append(s.calls, sendCall{identity, msg})
	if s.err != nil {
		return nil, s.err
	}
	if !s.known[identity] {
		return nil, fmt.Errorf("send as %s: %w", identity, mailbox.ErrUnknownIdentity)
	}
	return &models.SendResult{MessageID: fmt.Sprintf("sent-%d@example.com", len(s.calls)), SentFrom: identity}, nil
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func inbound() models.InboundMessage {
	return models.InboundMessage{
		MessageID:          "r1@acme.com",
		ProviderID:         "AAMk-1",
		From:               "Alice@Acme.com",
		Subject:            "Re: intro",
		Body:               "Tell me more about pricing.",
		ReceivedAt:         t0,
		ReceivedByIdentity: "rep2@example.com",
	}
}

func transition(outcome stage.Outcome) *stage.Transition {
	return &stage.Transition{
		Outcome: outcome,
		Contact: models.Contact{ID: "c1", Name: "Alice", Email: "alice@acme.com"},
		Inbound: models.Message{ThreadID: "thread-1"},
	}
}

func newResponder(gen *fakeGen, snd *fakeSender) (*Responder, *storetest.Mem) {
	st := storetest.New()
	r := New(Config{
		Generator:   gen,
		Sender:      snd,
		Store:       st,
		PolicyBrief: "Be brief.",
	})
	return r, st
}

func TestRespond_SendsFromReceivingIdentity(t *testing.T) {
	gen := &fakeGen{reply: &replygen.Reply{Subject: "Re: intro", Body: "Pricing attached."}}
	snd := &fakeSender{known: map[string]bool{"rep1@example.com": true, "rep2@example.com": true}}
	r, st := newResponder(gen, snd)

	sent, err := r.Respond(context.Background(), inbound(), transition(stage.OutcomePositive))
	require.NoError(t, err)
	assert.Equal(t, "rep2@example.com", sent.SentFrom)

	require.Len(t, snd.calls, 1)
	call := snd.calls[0]
	assert.Equal(t, "rep2@example.com", call.identity)
	assert.Equal(t, "alice@acme.com", call.msg.To)
	assert.Equal(t, "r1@acme.com", call.msg.InReplyTo)
	assert.Equal(t, "AAMk-1", call.msg.ReplyToProviderID)

	require.Len(t, gen.got, 1)
	assert.Equal(t, "Alice", gen.got[0].ContactName)
	assert.Equal(t, "Be brief.", gen.got[0].PolicyBrief)

	row, ok := st.MessageByMessageID(sent.MessageID)
	require.True(t, ok)
	assert.Equal(t, models.EmailTypeAutoReply, row.EmailType)
	assert.Equal(t, models.DirectionOutbound, row.Direction)
	assert.Equal(t, "rep2@example.com", row.FromEmail)
	assert.Equal(t, "r1@acme.com", row.InReplyTo)
	assert.Equal(t, "thread-1", row.ThreadID)

	acts := st.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityAutoReply, acts[0].Type)
}

func TestRespond_UnknownIdentityFailsWithoutFallback(t *testing.T) {
	gen := &fakeGen{reply: &replygen.Reply{Subject: "s", Body: "b"}}
	snd := &fakeSender{known: map[string]bool{"rep1@example.com": true}}
	r, st := newResponder(gen, snd)

	_, err := r.Respond(context.Background(), inbound(), transition(stage.OutcomeNeutral))
	require.Error(t, err)
	assert.ErrorIs(t, err, mailbox.ErrUnknownIdentity)
	assert.Contains(t, err.Error(), "Alice")

	require.Len(t, snd.calls, 1)
	assert.Equal(t, "rep2@example.com", snd.calls[0].identity)
	assert.Empty(t, st.Messages())
	assert.Empty(t, st.Activities())
}

func TestRespond_GenerationFailure(t *testing.T) {
	gen := &fakeGen{err: replygen.ErrUnparsable}
	snd := &fakeSender{known: map[string]bool{"rep2@example.com": true}}
	r, st := newResponder(gen, snd)

	_, err := r.Respond(context.Background(), inbound(), transition(stage.OutcomePositive))
	require.Error(t, err)
	assert.ErrorIs(t, err, replygen.ErrUnparsable)
	assert.Contains(t, err.Error(), "auto-reply to Alice")
	assert.Empty(t, snd.calls, "nothing is sent without a draft")
	assert.Empty(t, st.Messages())
}

func TestRespond_RecordFailureIsReported(t *testing.T) {
	gen := &fakeGen{reply: &replygen.Reply{Subject: "s", Body: "b"}}
	snd := &fakeSender{known: map[string]bool{"rep2@example.com": true}}
	r, st := newResponder(gen, snd)
	st.FailOn["InsertActivity"] = errors.New("constraint")

	_, err := r.Respond(context.Background(), inbound(), transition(stage.OutcomePositive))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record")
	assert.Empty(t, st.Messages(), "outbound row rolls back with its activity")
}
