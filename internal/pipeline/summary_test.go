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

package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/replyflow/internal/aggregator"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/stage"
)

func TestFold(t *testing.T) {
	start := NewSummary(aggregator.Result{
		Identities: []string{"a@x.com", "b@x.com"},
		Messages:   make([]models.InboundMessage, 4),
		Errors:     []string{"imap:b@x.com: timeout"},
		Dropped:    1,
	})

	s := Fold(start, []Event{
		{Kind: EventMatched},
		{Kind: EventSaved, Outcome: stage.OutcomeArchived, NewlyArchived: true},
		{Kind: EventMatched},
		{Kind: EventSaved, Outcome: stage.OutcomeArchived},
		{Kind: EventMatched},
		{Kind: EventSaved, Outcome: stage.OutcomeMeeting},
		{Kind: EventAutoReply},
		{Kind: EventProbeReply},
		{Kind: EventDuplicate},
		{Kind: EventUnmatched},
		{Kind: EventError, Err: "auto-reply to Bob: send: boom"},
	})

	assert.Equal(t, 2, s.Checked)
	assert.Equal(t, 4, s.Found)
	assert.Equal(t, 1, s.OwnTraffic)
	assert.Equal(t, 4, s.Matched)
	assert.Equal(t, 4, s.Saved)
	assert.Equal(t, 2, s.NotInterested)
	assert.Equal(t, 1, s.Archived)
	assert.Equal(t, 1, s.MeetingRequests)
	assert.Equal(t, 1, s.AutoReplies)
	assert.Equal(t, 1, s.MysteryShopperReplies)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, []string{"imap:b@x.com: timeout", "auto-reply to Bob: send: boom"}, s.Errors)
}

func TestBatchSummary_JSONShape(t *testing.T) {
	b, err := json.Marshal(NewSummary(aggregator.Result{}))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, key := range []string{"checked", "found", "matched", "saved", "meetingRequests",
		"notInterested", "archived", "autoReplies", "mysteryShopperReplies", "errors"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, []any{}, m["errors"], "errors is an empty list, never null")
}
