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
	"github.com/bcem/replyflow/internal/aggregator"
	"github.com/bcem/replyflow/internal/stage"
)

// BatchSummary is the result of one reply check.
type BatchSummary struct {
	Checked               int      `json:"checked"` // identities queried
	Found                 int      `json:"found"`   // messages left after the own-traffic filter
	Matched               int      `json:"matched"`
	Saved                 int      `json:"saved"`
	MeetingRequests       int      `json:"meetingRequests"`
	NotInterested         int      `json:"notInterested"`
	Archived              int      `json:"archived"`
	AutoReplies           int      `json:"autoReplies"`
	MysteryShopperReplies int      `json:"mysteryShopperReplies"`
	Errors                []string `json:"errors"`

	Identities []string `json:"identities"`
	Duplicates int      `json:"duplicates"`
	OwnTraffic int      `json:"ownTraffic"`
}

// EventKind names a processing step outcome.
type EventKind string

const (
	EventDuplicate     EventKind = "duplicate"
	EventClaimHeld     EventKind = "claim_held"
	EventUnmatched     EventKind = "unmatched"
	EventMatched       EventKind = "matched"
	EventSaved         EventKind = "saved"
	EventAutoReply     EventKind = "auto_reply"
	EventProbeReply    EventKind = "mystery_shopper_reply"
	EventProbeNotFound EventKind = "probe_not_found"
	EventError         EventKind = "error"
)

// Event is what one step did with one message.
type Event struct {
	Kind      EventKind
	MessageID string
	Outcome   stage.Outcome // EventSaved only
	// NewlyArchived is set on EventSaved when the contact was not archived
	// before this reply.
	NewlyArchived bool
	Err           string // EventError only
}

// NewSummary starts a summary from the fetch result.
func NewSummary(fetch aggregator.Result) BatchSummary {
	s := BatchSummary{
		Checked:    len(fetch.Identities),
		Found:      len(fetch.Messages),
		OwnTraffic: fetch.Dropped,
		Identities: append([]string{}, fetch.Identities...),
		Errors:     append([]string{}, fetch.Errors...),
	}
	return s
}

// Reduce folds one event into s.
func Reduce(s BatchSummary, e Event) BatchSummary {
	switch e.Kind {
	case EventDuplicate:
		s.Duplicates++
	case EventMatched:
		s.Matched++
	case EventSaved:
		s.Saved++
		switch e.Outcome {
		case stage.OutcomeArchived:
			s.NotInterested++
			if e.NewlyArchived {
				s.Archived++
			}
		case stage.OutcomeMeeting:
			s.MeetingRequests++
		}
	case EventAutoReply:
		s.AutoReplies++
	case EventProbeReply:
		s.Matched++
		s.Saved++
		s.MysteryShopperReplies++
	case EventError:
		s.Errors = append(s.Errors, e.Err)
	}
	return s
}

// Fold reduces events onto a starting summary.
func Fold(s BatchSummary, events []Event) BatchSummary {
	for _, e := range events {
		s = Reduce(s, e)
	}
	return s
}
