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

package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		subject     string
		body        string
		meeting     bool
		notInterest bool
		positive    bool
		reason      string
	}{
		{
			name:        "competitor rejection",
			body:        "not interested, we already have a solution",
			notInterest: true,
			reason:      ReasonCompetitor,
		},
		{
			name:    "meeting request",
			body:    "Can we schedule a call Tuesday?",
			meeting: true,
		},
		{
			name:     "pricing interest",
			subject:  "Re: intro",
			body:     "Tell me more about your pricing",
			positive: true,
		},
		{
			name:        "budget rejection",
			body:        "No thanks, it is too expensive for us",
			notInterest: true,
			reason:      ReasonBudget,
		},
		{
			name:        "timing rejection",
			body:        "Not looking right now, maybe next quarter",
			notInterest: true,
			reason:      ReasonTiming,
		},
		{
			name:        "wrong contact",
			body:        "Please remove me, I'm not the right person",
			notInterest: true,
			reason:      ReasonWrongContact,
		},
		{
			name:        "generic rejection",
			body:        "Unsubscribe.",
			notInterest: true,
			reason:      ReasonNotInterested,
		},
		{
			name: "neutral",
			body: "Thanks for reaching out, I'll forward this along.",
		},
		{
			name:     "subject carries the signal",
			subject:  "Interested",
			body:     "see below",
			positive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.subject, tt.body)
			assert.Equal(t, tt.meeting, got.IsMeetingRequest, "IsMeetingRequest")
			assert.Equal(t, tt.notInterest, got.IsNotInterested, "IsNotInterested")
			assert.Equal(t, tt.positive, got.IsPositive, "IsPositive")
			assert.Equal(t, tt.reason, got.Reason, "Reason")
		})
	}
}

func TestAnalyze_RejectionOverridesInterest(t *testing.T) {
	got := Analyze("", "Sounds good but honestly not interested, pricing is off")
	assert.True(t, got.IsNotInterested)
	assert.False(t, got.IsPositive, "rejection must force IsPositive=false")
}

func TestAnalyze_MeetingIndependentOfRejection(t *testing.T) {
	got := Analyze("", "Not interested in a call")
	assert.True(t, got.IsNotInterested)
	assert.True(t, got.IsMeetingRequest)
}

func TestAnalyze_CaseInsensitive(t *testing.T) {
	assert.True(t, Analyze("", "NOT INTERESTED").IsNotInterested)
	assert.True(t, Analyze("DEMO?", "").IsMeetingRequest)
}

func TestAnalyze_Confidence(t *testing.T) {
	assert.InDelta(t, 0.0, Analyze("", "hello there").Confidence, 1e-9)
	assert.InDelta(t, 0.3, Analyze("", "zoom").Confidence, 1e-9)
	// schedule + call + demo + calendar = 4 hits
	assert.InDelta(t, 1.0, Analyze("", "schedule a call for a demo, check my calendar").Confidence, 1e-9)
}

func TestAnalyze_Deterministic(t *testing.T) {
	text := "Can we schedule a call? Also curious about pricing, but no thanks if it's too expensive"
	first := Analyze("Re: hi", text)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Analyze("Re: hi", text))
	}
}

// Every rule must fire on its own pattern and vote for its own category.
func TestRules_EachPatternFires(t *testing.T) {
	for _, r := range Rules {
		t.Run(r.Pattern, func(t *testing.T) {
			assert.Equal(t, strings.ToLower(r.Pattern), r.Pattern, "patterns are stored lower case")

			got := AnalyzeText("xx " + strings.ToUpper(r.Pattern) + " xx")
			assert.Contains(t, got.Matches, r.Pattern)
			switch r.Category {
			case CategoryMeeting:
				assert.True(t, got.IsMeetingRequest)
			case CategoryRejection:
				assert.True(t, got.IsNotInterested)
				assert.False(t, got.IsPositive)
			case CategoryInterest:
				assert.True(t, got.IsPositive || got.IsNotInterested)
			}
		})
	}
}

// Every reason group is reachable and earlier groups win over later ones.
func TestReasonGroups_Priority(t *testing.T) {
	for _, g := range ReasonGroups {
		for _, p := range g.Patterns {
			got := AnalyzeText("not interested " + p)
			assert.True(t, got.IsNotInterested)
			// a phrase may also belong to an earlier group; it must never resolve later
			assert.LessOrEqual(t, reasonIndex(got.Reason), reasonIndex(g.Reason), "pattern %q", p)
		}
	}

	got := AnalyzeText("not interested: went with a competitor, and also no budget, maybe later")
	assert.Equal(t, ReasonCompetitor, got.Reason)
}

func reasonIndex(reason string) int {
	for i, g := range ReasonGroups {
		if g.Reason == reason {
			return i
		}
	}
	return len(ReasonGroups)
}
