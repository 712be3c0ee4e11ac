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

// Package models defines the data structures shared across the reply pipeline.
package models

import (
	"strings"
	"time"
)

// InboundMessage is a provider message normalised by a source adapter.
//
// MessageID is the globally stable identifier used for deduplication
// (the RFC 5322 Message-ID when the provider exposes one). ProviderID is the
// provider-local handle, needed to reply inside the provider's own thread.
type InboundMessage struct {
	MessageID          string    `json:"message_id"`
	ProviderID         string    `json:"provider_id,omitempty"`
	From               string    `json:"from"`
	FromName           string    `json:"from_name,omitempty"`
	To                 string    `json:"to"`
	Subject            string    `json:"subject"`
	BodyPreview        string    `json:"body_preview"`
	Body               string    `json:"body"`
	ReceivedAt         time.Time `json:"received_at"`
	InReplyTo          string    `json:"in_reply_to,omitempty"`
	ConversationID     string    `json:"conversation_id,omitempty"`
	ReceivedByIdentity string    `json:"received_by_identity"`
}

// Text returns the subject and body joined the way the classifier reads them.
func (m InboundMessage) Text() string {
	body := m.Body
	if body == "" {
		body = m.BodyPreview
	}
	return m.Subject + " " + body
}

// Preview truncates s to at most n runes for body previews and log lines.
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// NormalizeAddress lower-cases and trims an email address, stripping any
// surrounding angle brackets.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(addr)
}

// NormalizeMessageID strips angle brackets and whitespace from a Message-ID.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	return strings.TrimSuffix(id, ">")
}
