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

// Package imapmail reads inbound mail from SMTP/IMAP mailboxes, including the
// dedicated tracking inbox.
package imapmail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/bcem/replyflow/internal/config"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/source"
)

// Client reads the INBOX of one IMAP mailbox.
type Client struct {
	addr     string
	username string
	password string
	tls      bool
	identity models.Identity
}

// NewClient creates an IMAP adapter for the given mailbox.
func NewClient(mb config.MailboxIdentity, kind models.IdentityKind) *Client {
	return &Client{
		addr:     net.JoinHostPort(mb.IMAPHost, strconv.Itoa(mb.IMAPPort)),
		username: mb.Username,
		password: mb.Password,
		tls:      mb.TLS,
		identity: models.Identity{
			Address:     mb.Address,
			DisplayName: mb.DisplayName,
			Kind:        kind,
			DailyLimit:  mb.DailyLimit,
		},
	}
}

// Name implements source.Adapter.
func (c *Client) Name() string { return string(c.identity.Kind) + ":" + c.identity.Address }

// Identity implements source.Adapter.
func (c *Client) Identity() models.Identity { return c.identity }

// connect establishes a connection, authenticates, and returns the client.
// The connection is closed when ctx is done; the caller must call the
// returned release func.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(c.addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(c.addr, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", c.addr, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()
	release := func() {
		close(done)
		_ = client.Logout().Wait()
		_ = client.Close()
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		release()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &source.AuthError{
			Source:  c.Name(),
			Message: fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}

	return client, release, nil
}

// FetchSince implements source.Adapter. IMAP SEARCH SINCE has day
// granularity, so results are filtered again on INTERNALDATE.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	client, release, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, wrapCtx(ctx, fmt.Errorf("selecting INBOX: %w", err))
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, wrapCtx(ctx, fmt.Errorf("searching messages: %w", err))
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var out []models.InboundMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			slog.Warn("imap message collect failed", "identity", c.identity.Address, "error", err)
			continue
		}
		if buf.InternalDate.Before(since) {
			continue
		}

		inbound := fromBuffer(buf, buf.FindBodySection(bodySection))
		if inbound.MessageID == "" {
			inbound.MessageID = fmt.Sprintf("imap:%s:%d", c.identity.Address, buf.UID)
		}
		out = append(out, inbound)
	}

	if err := fetchCmd.Close(); err != nil {
		return out, wrapCtx(ctx, fmt.Errorf("fetching messages: %w", err))
	}

	return out, nil
}

// Verify logs in and selects INBOX.
func (c *Client) Verify(ctx context.Context) error {
	client, release, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return wrapCtx(ctx, fmt.Errorf("selecting INBOX: %w", err))
	}
	return nil
}

// wrapCtx prefers the context error when the connection was torn down by
// cancellation.
func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// fromBuffer builds an InboundMessage from a fetched envelope and raw body.
func fromBuffer(buf *imapclient.FetchMessageBuffer, raw []byte) models.InboundMessage {
	msg := models.InboundMessage{
		ProviderID: strconv.FormatUint(uint64(buf.UID), 10),
		ReceivedAt: buf.InternalDate.UTC(),
	}

	if env := buf.Envelope; env != nil {
		msg.MessageID = models.NormalizeMessageID(env.MessageID)
		msg.Subject = env.Subject
		if len(env.From) > 0 {
			msg.From = env.From[0].Addr()
			msg.FromName = env.From[0].Name
		}
		if len(env.To) > 0 {
			msg.To = env.To[0].Addr()
		}
	}

	if raw != nil {
		parsed := parseMessage(raw)
		msg.Body = parsed.Text
		msg.BodyPreview = models.Preview(parsed.Text, 255)
		msg.InReplyTo = parsed.InReplyTo
		msg.ConversationID = parsed.ThreadRoot
		if msg.MessageID == "" {
			msg.MessageID = parsed.MessageID
		}
	}

	return msg
}
