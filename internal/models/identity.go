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

// IdentityKind is the provider family behind a mailbox identity.
type IdentityKind string

const (
	IdentityOAuth    IdentityKind = "oauth"
	IdentitySMTP     IdentityKind = "smtp"
	IdentityTracking IdentityKind = "tracking"
)

// Identity is the read-only view of a configured outbound mailbox.
type Identity struct {
	Address     string       `json:"address"`
	DisplayName string       `json:"display_name,omitempty"`
	Kind        IdentityKind `json:"kind"`
	DailyLimit  int          `json:"daily_limit,omitempty"`
}

// OutgoingMessage is a reply handed to the mailbox registry for sending.
// InReplyTo is the Message-ID being answered; ReplyToProviderID lets
// providers with native reply endpoints answer inside their own thread.
type OutgoingMessage struct {
	To                string `json:"to"`
	ToName            string `json:"to_name,omitempty"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	InReplyTo         string `json:"in_reply_to,omitempty"`
	ReplyToProviderID string `json:"reply_to_provider_id,omitempty"`
	ThreadID          string `json:"thread_id,omitempty"`
}

// SendResult reports the message id assigned to a sent message and the
// identity it actually left from.
type SendResult struct {
	MessageID string `json:"message_id"`
	SentFrom  string `json:"sent_from"`
}
