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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/source"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientConfig{
		HTTPClient: srv.Client(),
		BaseURL:    srv.URL,
		UserID:     "sales@example.com",
		Identity:   models.Identity{Address: "sales@example.com", Kind: models.IdentityOAuth},
	})
}

func TestFetchSince_FollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			w.Write([]byte(`{"value":[{"id":"AAM2","internetMessageId":"<m2@x>","subject":"Re: hi",
				"from":{"emailAddress":{"address":"bob@acme.com","name":"Bob"}},
				"body":{"contentType":"text","content":"tell me more"},
				"receivedDateTime":"2026-03-01T10:05:00Z"}]}`))
			return
		}

		if !strings.Contains(r.URL.Query().Get("$filter"), "receivedDateTime ge 2026-03-01T00:00:00Z") {
			t.Errorf("unexpected filter %q", r.URL.Query().Get("$filter"))
		}
		if !strings.HasSuffix(r.URL.Path, "/users/sales@example.com/mailFolders/inbox/messages") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"value":[{"id":"AAM1","internetMessageId":"<m1@x>","conversationId":"conv-1",
			"subject":"Re: intro","bodyPreview":"can we talk",
			"from":{"emailAddress":{"address":"alice@acme.com","name":"Alice"}},
			"toRecipients":[{"emailAddress":{"address":"sales@example.com"}}],
			"body":{"contentType":"text","content":"can we talk tomorrow"},
			"receivedDateTime":"2026-03-01T10:00:00Z",
			"internetMessageHeaders":[{"name":"In-Reply-To","value":"<out-1@example.com>"}]}],
			"@odata.nextLink":"` + srv.URL + `/next?page=2"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	msgs, err := c.FetchSince(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 page requests, got %d", calls)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	first := msgs[0]
	if first.MessageID != "m1@x" {
		t.Errorf("MessageID = %q, want m1@x", first.MessageID)
	}
	if first.ProviderID != "AAM1" {
		t.Errorf("ProviderID = %q, want AAM1", first.ProviderID)
	}
	if first.InReplyTo != "out-1@example.com" {
		t.Errorf("InReplyTo = %q", first.InReplyTo)
	}
	if first.ConversationID != "conv-1" || first.To != "sales@example.com" {
		t.Errorf("unexpected thread fields: %+v", first)
	}
	if first.From != "alice@acme.com" || first.FromName != "Alice" {
		t.Errorf("unexpected sender: %q %q", first.From, first.FromName)
	}
}

func TestFetchSince_UnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchSince(context.Background(), time.Now().Add(-time.Hour))
	if !source.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestFetchSince_FallsBackToGraphID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[{"id":"AAM9","subject":"x","receivedDateTime":"2026-03-01T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv).FetchSince(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "AAM9" {
		t.Fatalf("expected graph id fallback, got %+v", msgs)
	}
}

func TestSend_UsesNativeReply(t *testing.T) {
	var gotPath string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	id, err := newTestClient(srv).Send(context.Background(), models.OutgoingMessage{
		To:                "alice@acme.com",
		Subject:           "Re: intro",
		Body:              "Tuesday works.",
		ReplyToProviderID: "AAM1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/messages/AAM1/reply") {
		t.Errorf("expected reply endpoint, got %q", gotPath)
	}
	if payload["comment"] != "Tuesday works." {
		t.Errorf("comment = %v", payload["comment"])
	}
	if !strings.HasPrefix(id, "graph-reply:") {
		t.Errorf("unexpected message id %q", id)
	}
}

func TestSend_FallsBackToSendMail(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Send(context.Background(), models.OutgoingMessage{
		To: "alice@acme.com", Subject: "Re: intro", Body: "hi",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/users/sales@example.com/sendMail") {
		t.Errorf("expected sendMail endpoint, got %q", gotPath)
	}
}

func TestSend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).Send(context.Background(), models.OutgoingMessage{To: "a@b.c"}); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/mailFolders/inbox") {
			w.Write([]byte(`{"id":"inbox"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := newTestClient(srv).Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
