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

// Package classifier scores reply intent with a fixed keyword rule table.
// It is deterministic: the same text always yields the same Result.
package classifier

import (
	"math"
	"strings"
)

// Category is the intent a rule votes for.
type Category string

const (
	CategoryMeeting   Category = "meeting"
	CategoryRejection Category = "rejection"
	CategoryInterest  Category = "interest"
)

// Rejection reasons, in priority order.
const (
	ReasonCompetitor    = "competitor"
	ReasonBudget        = "budget"
	ReasonTiming        = "timing"
	ReasonWrongContact  = "wrong_contact"
	ReasonNotInterested = "not_interested"
)

// Rule is one case-insensitive substring pattern.
type Rule struct {
	Pattern  string
	Category Category
}

// ReasonGroup maps a set of phrases to a rejection reason.
type ReasonGroup struct {
	Reason   string
	Patterns []string
}

// Rules is the ordered rule table. Patterns are lower case.
var Rules = []Rule{
	{"schedule", CategoryMeeting},
	{"meeting", CategoryMeeting},
	{"call", CategoryMeeting},
	{"calendar", CategoryMeeting},
	{"book a time", CategoryMeeting},
	{"set up a time", CategoryMeeting},
	{"available", CategoryMeeting},
	{"availability", CategoryMeeting},
	{"demo", CategoryMeeting},
	{"zoom", CategoryMeeting},
	{"let's talk", CategoryMeeting},
	{"calendly", CategoryMeeting},

	{"not interested", CategoryRejection},
	{"no thanks", CategoryRejection},
	{"no thank you", CategoryRejection},
	{"unsubscribe", CategoryRejection},
	{"remove me", CategoryRejection},
	{"stop emailing", CategoryRejection},
	{"not a fit", CategoryRejection},
	{"not a good fit", CategoryRejection},
	{"don't contact", CategoryRejection},
	{"do not contact", CategoryRejection},
	{"pass on this", CategoryRejection},
	{"not looking", CategoryRejection},

	{"interested", CategoryInterest},
	{"pricing", CategoryInterest},
	{"price", CategoryInterest},
	{"cost", CategoryInterest},
	{"how much", CategoryInterest},
	{"tell me more", CategoryInterest},
	{"more information", CategoryInterest},
	{"more info", CategoryInterest},
	{"sounds good", CategoryInterest},
	{"sounds great", CategoryInterest},
	{"learn more", CategoryInterest},
	{"quote", CategoryInterest},
	{"proposal", CategoryInterest},
}

// ReasonGroups is checked in order; the first group with a hit wins.
var ReasonGroups = []ReasonGroup{
	{ReasonCompetitor, []string{
		"already have", "already use", "already using", "already working with",
		"competitor", "another vendor", "another provider", "went with", "in-house",
	}},
	{ReasonBudget, []string{
		"budget", "too expensive", "expensive", "afford", "cost", "price",
	}},
	{ReasonTiming, []string{
		"later", "next quarter", "next year", "not right now", "not now",
		"bad time", "right time", "busy", "circle back", "reach out in",
	}},
	{ReasonWrongContact, []string{
		"wrong person", "wrong contact", "not the right person", "not responsible",
		"different department", "another department", "no longer with", "left the company",
	}},
}

// Result is the classifier's verdict for one reply.
type Result struct {
	IsMeetingRequest bool     `json:"is_meeting_request"`
	IsNotInterested  bool     `json:"is_not_interested"`
	IsPositive       bool     `json:"is_positive"`
	Reason           string   `json:"reason,omitempty"`
	Confidence       float64  `json:"confidence"`
	Matches          []string `json:"matches,omitempty"`
}

// Analyze classifies subject and body together.
func Analyze(subject, body string) Result {
	return AnalyzeText(subject + " " + body)
}

// AnalyzeText classifies free text. Rejection overrides interest; the
// meeting flag is independent of both.
func AnalyzeText(text string) Result {
	lower := strings.ToLower(text)

	var res Result
	hits := map[Category]int{}
	for _, r := range Rules {
		if strings.Contains(lower, r.Pattern) {
			hits[r.Category]++
			res.Matches = append(res.Matches, r.Pattern)
		}
	}

	res.IsMeetingRequest = hits[CategoryMeeting] > 0
	res.IsNotInterested = hits[CategoryRejection] > 0
	res.IsPositive = hits[CategoryInterest] > 0 && !res.IsNotInterested

	total := hits[CategoryMeeting] + hits[CategoryRejection] + hits[CategoryInterest]
	res.Confidence = math.Min(0.3*float64(total), 1.0)

	if res.IsNotInterested {
		res.Reason = reasonFor(lower)
	}
	return res
}

func reasonFor(lower string) string {
	for _, g := range ReasonGroups {
		for _, p := range g.Patterns {
			if strings.Contains(lower, p) {
				return g.Reason
			}
		}
	}
	return ReasonNotInterested
}
