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

package imapmail

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/bcem/replyflow/internal/models"
)

// parsedMessage holds the parts of a raw RFC 5322 message the pipeline uses.
type parsedMessage struct {
	MessageID  string
	InReplyTo  string
	ThreadRoot string
	Text       string
}

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
)

// parseMessage extracts threading headers and a plain-text body. HTML-only
// messages are reduced to text by dropping tags.
func parseMessage(raw []byte) parsedMessage {
	var out parsedMessage

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		// Not parseable as MIME; treat the whole thing as plain text
		out.Text = strings.TrimSpace(string(raw))
		return out
	}
	defer mr.Close()
	_ = err // unknown charsets still yield a usable reader

	if id, err := mr.Header.MessageID(); err == nil {
		out.MessageID = id
	}
	if ids, err := mr.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		out.InReplyTo = ids[0]
	}
	if refs, err := mr.Header.MsgIDList("References"); err == nil && len(refs) > 0 {
		out.ThreadRoot = refs[0]
	}
	if out.ThreadRoot == "" {
		out.ThreadRoot = firstNonEmpty(out.InReplyTo, out.MessageID)
	}

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err != nil {
			// io.EOF or a malformed part ends the walk
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	if textBody == "" && htmlBody != "" {
		textBody = html.UnescapeString(tagPattern.ReplaceAllString(htmlBody, " "))
		textBody = spacePattern.ReplaceAllString(textBody, " ")
	}
	out.Text = strings.TrimSpace(textBody)
	out.MessageID = models.NormalizeMessageID(out.MessageID)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
