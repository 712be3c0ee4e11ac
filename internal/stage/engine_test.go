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

package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/replyflow/internal/classifier"
	"github.com/bcem/replyflow/internal/matcher"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/store"
	"github.com/bcem/replyflow/internal/store/storetest"
)

func ptr[T any](v T) *T { return &v }

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// seed returns a store with one contacted contact and the outreach sent to it.
func seed(stage models.Stage) (*storetest.Mem, matcher.Match) {
	st := storetest.New()
	c := models.Contact{ID: "c1", Name: "Alice", Email: "alice@acme.com", Stage: stage}
	st.AddContact(c)
	out := models.Message{
		ID: "out-1", ContactID: ptr("c1"), Direction: models.DirectionOutbound,
		MessageID: "outreach-1@sales.example.com", ThreadID: "thread-1",
		ToEmail: "alice@acme.com", EmailType: models.EmailTypeOutreach,
		Status: models.StatusSent, SentAt: ptr(t0),
	}
	st.AddMessage(out)
	return st, matcher.Match{Contact: c, Outbound: &out, Method: matcher.MethodThread}
}

func reply(id, body string) models.InboundMessage {
	return models.InboundMessage{
		MessageID:          id,
		From:               "alice@acme.com",
		Subject:            "Re: Quick question",
		Body:               body,
		ReceivedAt:         t0.Add(2 * time.Hour),
		InReplyTo:          "outreach-1@sales.example.com",
		ReceivedByIdentity: "sales@example.com",
	}
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		name string
		res  classifier.Result
		want Outcome
	}{
		{"rejection wins", classifier.Result{IsNotInterested: true, IsMeetingRequest: true}, OutcomeArchived},
		{"meeting", classifier.Result{IsMeetingRequest: true, IsPositive: true}, OutcomeMeeting},
		{"positive", classifier.Result{IsPositive: true}, OutcomePositive},
		{"neutral", classifier.Result{}, OutcomeNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeFor(tt.res))
		})
	}
}

func TestApply_NotInterestedArchives(t *testing.T) {
	st, m := seed(models.StageContacted)
	msg := reply("r1@acme.com", "Not interested, we went with another vendor.")
	res := classifier.Analyze(msg.Subject, msg.Body)
	require.True(t, res.IsNotInterested)

	tr, err := New(st).Apply(context.Background(), msg, m, res)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArchived, tr.Outcome)

	c, _ := st.Contact("c1")
	assert.True(t, c.Archived)
	require.NotNil(t, c.ArchivedAt)
	require.NotNil(t, c.ArchiveReason)
	assert.Equal(t, classifier.ReasonCompetitor, *c.ArchiveReason)
	assert.Equal(t, models.StageLost, c.Stage)

	in, ok := st.MessageByMessageID("r1@acme.com")
	require.True(t, ok)
	assert.Equal(t, models.EmailTypeNotInterested, in.EmailType)
	assert.Equal(t, models.DirectionInbound, in.Direction)
	assert.Equal(t, "thread-1", in.ThreadID)

	acts := st.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityArchived, acts[0].Type)
	assert.Equal(t, "archived: competitor", acts[0].Title)
	assert.Empty(t, st.Notifications())
}

func TestApply_MeetingRequestNotifies(t *testing.T) {
	st, m := seed(models.StageContacted)
	msg := reply("r2@acme.com", "Can we schedule a call next week?")
	res := classifier.Analyze(msg.Subject, msg.Body)

	tr, err := New(st).Apply(context.Background(), msg, m, res)
	require.NoError(t, err)
	assert.Equal(t, models.StageContacted, tr.From)
	assert.Equal(t, models.StageMeeting, tr.To)

	c, _ := st.Contact("c1")
	assert.Equal(t, models.StageMeeting, c.Stage)
	require.NotNil(t, c.LastContactedAt)
	assert.True(t, c.LastContactedAt.Equal(msg.ReceivedAt))

	out, _ := st.MessageByMessageID("outreach-1@sales.example.com")
	assert.Equal(t, models.StatusReplied, out.Status)
	require.NotNil(t, out.RepliedAt)

	notes := st.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationMeetingRequest, notes[0].Type)
	assert.Contains(t, notes[0].Title, "Alice")
}

func TestApply_PositiveAdvancesToEngaged(t *testing.T) {
	st, m := seed(models.StageContacted)
	msg := reply("r3@acme.com", "Sounds great, tell me more about pricing.")
	res := classifier.Analyze(msg.Subject, msg.Body)

	_, err := New(st).Apply(context.Background(), msg, m, res)
	require.NoError(t, err)

	c, _ := st.Contact("c1")
	assert.Equal(t, models.StageEngaged, c.Stage)
	require.Len(t, st.Notifications(), 1)
	assert.Equal(t, models.NotificationPositiveReply, st.Notifications()[0].Type)
}

func TestApply_StageNeverRegresses(t *testing.T) {
	st, m := seed(models.StageProposal)
	msg := reply("r4@acme.com", "Thanks, got it.")

	tr, err := New(st).Apply(context.Background(), msg, m, classifier.Result{})
	require.NoError(t, err)
	assert.Equal(t, models.StageProposal, tr.To)

	c, _ := st.Contact("c1")
	assert.Equal(t, models.StageProposal, c.Stage)
	acts := st.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityReplyReceived, acts[0].Type)
}

func TestApply_FallsBackToMatchedOutbound(t *testing.T) {
	st, m := seed(models.StageContacted)
	msg := reply("r5@acme.com", "Thanks")
	msg.InReplyTo = "someone-elses-message@acme.com"

	tr, err := New(st).Apply(context.Background(), msg, m, classifier.Result{})
	require.NoError(t, err)
	require.NotNil(t, tr.Outbound)
	assert.Equal(t, "out-1", tr.Outbound.ID)

	out, _ := st.MessageByMessageID("outreach-1@sales.example.com")
	assert.Equal(t, models.StatusReplied, out.Status)
}

func TestApply_DuplicateIsReported(t *testing.T) {
	st, m := seed(models.StageContacted)
	msg := reply("r6@acme.com", "Thanks")
	e := New(st)

	_, err := e.Apply(context.Background(), msg, m, classifier.Result{})
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), msg, m, classifier.Result{})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Len(t, st.Activities(), 1)
}

func TestApply_FailureLeavesNoPartialWrites(t *testing.T) {
	st, m := seed(models.StageContacted)
	st.FailOn["InsertNotification"] = errors.New("disk full")
	msg := reply("r7@acme.com", "Let's set up a meeting.")

	_, err := New(st).Apply(context.Background(), msg, m, classifier.Analyze(msg.Subject, msg.Body))
	require.Error(t, err)

	_, stored := st.MessageByMessageID("r7@acme.com")
	assert.False(t, stored)
	c, _ := st.Contact("c1")
	assert.Equal(t, models.StageContacted, c.Stage)
	out, _ := st.MessageByMessageID("outreach-1@sales.example.com")
	assert.Equal(t, models.StatusSent, out.Status)
	assert.Empty(t, st.Activities())
}
