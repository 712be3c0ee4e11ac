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

package graph

import (
	"strings"
	"time"

	"github.com/bcem/replyflow/internal/models"
)

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// graphMessage represents the relevant fields from a Graph API message response.
type graphMessage struct {
	ID                string `json:"id"`
	InternetMessageID string `json:"internetMessageId"`
	ConversationID    string `json:"conversationId"`
	Subject           string `json:"subject"`
	From              struct {
		EmailAddress emailAddress `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress emailAddress `json:"emailAddress"`
	} `json:"toRecipients"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	BodyPreview            string    `json:"bodyPreview"`
	ReceivedDateTime       time.Time `json:"receivedDateTime"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

// toInbound converts a Graph message into the shared InboundMessage shape.
// The RFC Message-ID is preferred as the dedup key; the Graph item id is kept
// as ProviderID for native replies.
func (m graphMessage) toInbound() models.InboundMessage {
	var inReplyTo string
	for _, h := range m.InternetMessageHeaders {
		if strings.EqualFold(h.Name, "In-Reply-To") {
			inReplyTo = models.NormalizeMessageID(h.Value)
			break
		}
	}

	var to string
	if len(m.ToRecipients) > 0 {
		to = m.ToRecipients[0].EmailAddress.Address
	}

	messageID := models.NormalizeMessageID(m.InternetMessageID)
	if messageID == "" {
		messageID = m.ID
	}

	return models.InboundMessage{
		MessageID:      messageID,
		ProviderID:     m.ID,
		From:           m.From.EmailAddress.Address,
		FromName:       m.From.EmailAddress.Name,
		To:             to,
		Subject:        m.Subject,
		BodyPreview:    m.BodyPreview,
		Body:           m.Body.Content,
		ReceivedAt:     m.ReceivedDateTime.UTC(),
		InReplyTo:      inReplyTo,
		ConversationID: m.ConversationID,
	}
}
