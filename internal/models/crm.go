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

package models

import "time"

// Stage is a contact's position in the sales lifecycle.
type Stage string

const (
	StageNew         Stage = "new"
	StageResearching Stage = "researching"
	StageContacted   Stage = "contacted"
	StageEngaged     Stage = "engaged"
	StageMeeting     Stage = "meeting"
	StageProposal    Stage = "proposal"
	StageClosed      Stage = "closed"
	StageLost        Stage = "lost"
)

// stageOrder ranks the forward chain. StageLost is terminal and unranked.
var stageOrder = map[Stage]int{
	StageNew:         0,
	StageResearching: 1,
	StageContacted:   2,
	StageEngaged:     3,
	StageMeeting:     4,
	StageProposal:    5,
	StageClosed:      6,
}

// Advance returns the stage a contact ends up in when a reply pushes it
// towards target. The forward chain never moves backwards and StageLost is
// terminal. Unknown current stages are treated as StageNew.
func (s Stage) Advance(target Stage) Stage {
	if s == StageLost {
		return StageLost
	}
	if target == StageLost {
		return StageLost
	}
	cur, ok := stageOrder[s]
	if !ok {
		cur = stageOrder[StageNew]
	}
	if stageOrder[target] > cur {
		return target
	}
	if !ok {
		return target
	}
	return s
}

// Direction of a stored message.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// EmailType tags a stored message with its role in the pipeline.
type EmailType string

const (
	EmailTypeOutreach            EmailType = "outreach"
	EmailTypeAutoReply           EmailType = "auto_reply"
	EmailTypeMysteryShopper      EmailType = "mystery_shopper"
	EmailTypeMysteryShopperReply EmailType = "mystery_shopper_reply"
	EmailTypeReply               EmailType = "reply"
	EmailTypeMeetingRequest      EmailType = "meeting_request"
	EmailTypeNotInterested       EmailType = "not_interested"
	EmailTypePositiveReply       EmailType = "positive_reply"
)

// Message statuses written by the pipeline.
const (
	StatusSent     = "sent"
	StatusReplied  = "replied"
	StatusReceived = "received"
)

// Contact is a sales lead tracked through the lifecycle.
type Contact struct {
	ID              string     `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Email           string     `db:"email" json:"email"`
	Source          string     `db:"source" json:"source"`
	Stage           Stage      `db:"stage" json:"stage"`
	Archived        bool       `db:"archived" json:"archived"`
	ArchivedAt      *time.Time `db:"archived_at" json:"archived_at,omitempty"`
	ArchiveReason   *string    `db:"archive_reason" json:"archive_reason,omitempty"`
	LastContactedAt *time.Time `db:"last_contacted_at" json:"last_contacted_at,omitempty"`
	Notes           string     `db:"notes" json:"notes"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName returns the contact's name, or its email when no name is stored.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// Message is an immutable record of one email. Only Status, RepliedAt and
// ResponseTimeMs change after insert.
type Message struct {
	ID             string     `db:"id" json:"id"`
	ContactID      *string    `db:"contact_id" json:"contact_id,omitempty"`
	Direction      Direction  `db:"direction" json:"direction"`
	MessageID      string     `db:"message_id" json:"message_id"`
	ThreadID       string     `db:"thread_id" json:"thread_id"`
	InReplyTo      string     `db:"in_reply_to" json:"in_reply_to"`
	FromEmail      string     `db:"from_email" json:"from_email"`
	ToEmail        string     `db:"to_email" json:"to_email"`
	Subject        string     `db:"subject" json:"subject"`
	Body           string     `db:"body" json:"body"`
	EmailType      EmailType  `db:"email_type" json:"email_type"`
	Status         string     `db:"status" json:"status"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ReceivedAt     *time.Time `db:"received_at" json:"received_at,omitempty"`
	RepliedAt      *time.Time `db:"replied_at" json:"replied_at,omitempty"`
	ResponseTimeMs *int64     `db:"response_time_ms" json:"response_time_ms,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Activity is an append-only audit entry tied to a contact.
type Activity struct {
	ID          string    `db:"id" json:"id"`
	ContactID   string    `db:"contact_id" json:"contact_id"`
	Type        string    `db:"type" json:"type"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Activity types written by the pipeline.
const (
	ActivityReplyReceived  = "reply_received"
	ActivityArchived       = "archived"
	ActivityMeetingRequest = "meeting_request"
	ActivityPositiveReply  = "positive_reply"
	ActivityAutoReply      = "auto_reply_sent"
	ActivityResponseTime   = "mystery_shopper_reply"
)

// Notification is surfaced to a human for meeting requests and positive replies.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	ContactID string    `db:"contact_id" json:"contact_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification types.
const (
	NotificationMeetingRequest = "meeting_request"
	NotificationPositiveReply  = "positive_reply"
)
