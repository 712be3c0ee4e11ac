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

// Package replygen drafts auto-replies with an OpenAI chat model.
package replygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bcem/replyflow/internal/config"
)

// ErrUnparsable is returned when the model output is not a usable
// {"subject", "body"} object.
var ErrUnparsable = errors.New("unparsable generator output")

// Request carries what the model sees about the inbound reply.
type Request struct {
	OriginalSubject string
	OriginalBody    string
	ContactName     string
	PolicyBrief     string
}

// Reply is a generated draft.
type Reply struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Generator produces a reply draft.
type Generator interface {
	GenerateReply(ctx context.Context, req Request) (*Reply, error)
}

// Client is a Generator backed by the chat completions API.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// New builds a client from config. BaseURL overrides the API endpoint and
// must include the version path (e.g. ".../v1").
func New(cfg config.OpenAIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       model,
		maxTokens:   600,
		temperature: 0.4,
	}, nil
}

const systemPrompt = `You write short, friendly sales email replies.
Respond with a JSON object: {"subject": "...", "body": "..."}.
The body is plain text without a signature block.`

// GenerateReply asks the model for a draft answering req.
func (c *Client) GenerateReply(ctx context.Context, req Request) (*Reply, error) {
	user := fmt.Sprintf("Policy: %s\n\nContact name: %s\nTheir subject: %s\nTheir message:\n%s",
		req.PolicyBrief, req.ContactName, req.OriginalSubject, req.OriginalBody)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrUnparsable)
	}
	return Parse(resp.Choices[0].Message.Content, req.OriginalSubject)
}

// Parse decodes model output. A missing subject becomes "Re: <original>";
// a missing body is an error.
func Parse(content, originalSubject string) (*Reply, error) {
	content = strings.TrimSpace(content)
	// Models sometimes wrap JSON in a markdown fence even in JSON mode.
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var r Reply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	r.Subject = strings.TrimSpace(r.Subject)
	r.Body = strings.TrimSpace(r.Body)
	if r.Body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrUnparsable)
	}
	if r.Subject == "" {
		r.Subject = ReplySubject(originalSubject)
	}
	return &r, nil
}

// ReplySubject prefixes s with "Re: " unless it already has one.
func ReplySubject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}

var _ Generator = (*Client)(nil)
