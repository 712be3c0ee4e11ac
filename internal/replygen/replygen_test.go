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

package replygen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/replyflow/internal/config"
)

func completionServer(t *testing.T, status int, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(config.OpenAIConfig{})
	assert.Error(t, err)
}

func TestGenerateReply(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, http.StatusOK, `{"subject":"Re: Pricing","body":"Happy to share pricing, Alice."}`, &body)
	c := newTestClient(t, srv)

	r, err := c.GenerateReply(context.Background(), Request{
		OriginalSubject: "Pricing",
		OriginalBody:    "How much does it cost?",
		ContactName:     "Alice",
		PolicyBrief:     "Be brief.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Re: Pricing", r.Subject)
	assert.Equal(t, "Happy to share pricing, Alice.", r.Body)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	rf, ok := body["response_format"].(map[string]any)
	require.True(t, ok, "json mode requested")
	assert.Equal(t, "json_object", rf["type"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].(map[string]any)["content"], "Alice")
}

func TestGenerateReply_Unparsable(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "Sure! Here is a reply.", nil)
	_, err := newTestClient(t, srv).GenerateReply(context.Background(), Request{OriginalSubject: "Hi"})
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestGenerateReply_UpstreamError(t *testing.T) {
	srv := completionServer(t, http.StatusInternalServerError, "", nil)
	_, err := newTestClient(t, srv).GenerateReply(context.Background(), Request{OriginalSubject: "Hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnparsable)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantSubject string
		wantBody    string
		wantErr     bool
	}{
		{name: "plain", content: `{"subject":"Hello","body":"World"}`, wantSubject: "Hello", wantBody: "World"},
		{name: "fenced", content: "```json\n{\"subject\":\"S\",\"body\":\"B\"}\n```", wantSubject: "S", wantBody: "B"},
		{name: "missing subject", content: `{"body":"Thanks!"}`, wantSubject: "Re: Demo request", wantBody: "Thanks!"},
		{name: "empty body", content: `{"subject":"x","body":"  "}`, wantErr: true},
		{name: "not json", content: `hello`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.content, "Demo request")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparsable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, r.Subject)
			assert.Equal(t, tt.wantBody, r.Body)
		})
	}
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Hello", ReplySubject("Hello"))
	assert.Equal(t, "RE: Hello", ReplySubject("RE: Hello"))
}
