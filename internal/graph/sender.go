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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/bcem/replyflow/internal/models"
)

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outgoingMessage struct {
	Subject      string      `json:"subject,omitempty"`
	Body         *itemBody   `json:"body,omitempty"`
	ToRecipients []recipient `json:"toRecipients"`
}

// Send delivers msg from this client's mailbox. When the inbound Graph item
// id is known the native /reply action is used so Outlook keeps the
// conversation; otherwise the message goes out through /sendMail.
//
// Graph does not return the sent item's Message-ID from either action, so
// the returned id is a locally generated, globally unique token.
func (c *Client) Send(ctx context.Context, msg models.OutgoingMessage) (string, error) {
	to := []recipient{{EmailAddress: emailAddress{Address: msg.To, Name: msg.ToName}}}

	var (
		endpoint string
		payload  any
	)
	if msg.ReplyToProviderID != "" {
		endpoint = fmt.Sprintf("%s/users/%s/messages/%s/reply",
			c.baseURL, url.PathEscape(c.userID), url.PathEscape(msg.ReplyToProviderID))
		payload = map[string]any{
			"message": outgoingMessage{ToRecipients: to},
			"comment": msg.Body,
		}
	} else {
		endpoint = fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, url.PathEscape(c.userID))
		payload = map[string]any{
			"message": outgoingMessage{
				Subject:      msg.Subject,
				Body:         &itemBody{ContentType: "Text", Content: msg.Body},
				ToRecipients: to,
			},
			"saveToSentItems": true,
		}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send via graph: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, http.StatusAccepted, http.StatusOK); err != nil {
		return "", err
	}

	return "graph-reply:" + uuid.NewString(), nil
}
