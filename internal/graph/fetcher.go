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

// Package graph reads and replies to mail in the OAuth-backed mailbox
// through the Microsoft Graph API.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/source"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// selectFields lists the message properties the adapter needs.
const selectFields = "id,internetMessageId,conversationId,subject,from,toRecipients," +
	"body,bodyPreview,receivedDateTime,internetMessageHeaders"

// Client reads one user's inbox and sends replies as that user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userID     string
	identity   models.Identity
	pageDelay  time.Duration
}

// ClientConfig holds dependencies for a Graph client.
type ClientConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	UserID     string // Graph user id or UPN
	Identity   models.Identity
	PageDelay  time.Duration
}

// NewClient creates a Graph mailbox client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	userID := cfg.UserID
	if userID == "" {
		userID = cfg.Identity.Address
	}
	return &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    base,
		userID:     userID,
		identity:   cfg.Identity,
		pageDelay:  cfg.PageDelay,
	}
}

// NewOAuthHTTPClient returns an HTTP client that authenticates with the
// client-credentials flow against the given Entra ID tenant.
func NewOAuthHTTPClient(ctx context.Context, tenantID, clientID, clientSecret string) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return creds.Client(ctx)
}

// Name implements source.Adapter.
func (c *Client) Name() string { return "graph:" + c.identity.Address }

// Identity implements source.Adapter.
func (c *Client) Identity() models.Identity { return c.identity }

// messagesResponse represents a page of the /messages list response.
type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// FetchSince lists inbox messages received at or after since, following
// @odata.nextLink until the result set is exhausted.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	params.Set("$select", selectFields)
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", "50")

	listURL := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?%s",
		c.baseURL, url.PathEscape(c.userID), params.Encode())

	var out []models.InboundMessage
	pageCount := 0
	for nextURL := listURL; nextURL != ""; {
		if pageCount > 0 && c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(c.pageDelay):
			}
		}

		page, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			return out, fmt.Errorf("fetch page %d: %w", pageCount, err)
		}
		pageCount++

		for _, gm := range page.Value {
			msg := gm.toInbound()
			if msg.MessageID == "" {
				slog.Warn("graph message without id skipped", "identity", c.identity.Address)
				continue
			}
			out = append(out, msg)
		}
		nextURL = page.NextLink
	}

	slog.Debug("graph inbox listed",
		"identity", c.identity.Address,
		"pages", pageCount,
		"messages", len(out),
	)
	return out, nil
}

// fetchPage retrieves a single page of messages from the list endpoint.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (*messagesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages page: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var page messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	return &page, nil
}

// Verify checks that the credentials can read the inbox folder.
func (c *Client) Verify(ctx context.Context) error {
	u := fmt.Sprintf("%s/users/%s/mailFolders/inbox?$select=id", c.baseURL, url.PathEscape(c.userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify mailbox: %w", err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp, http.StatusOK)
}

// checkStatus maps non-success responses to errors. 401 and 403 become
// source.AuthError so the aggregator can tag them.
func (c *Client) checkStatus(resp *http.Response, want ...int) error {
	for _, code := range want {
		if resp.StatusCode == code {
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &source.AuthError{
			Source:  c.Name(),
			Message: fmt.Sprintf("graph API returned HTTP %d", resp.StatusCode),
		}
	}
	slog.Error("graph API error",
		"identity", c.identity.Address,
		"status", resp.StatusCode,
		"body", string(body),
	)
	return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
}
