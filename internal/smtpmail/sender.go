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

// Package smtpmail sends replies from SMTP mailbox identities.
package smtpmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/bcem/replyflow/internal/config"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/source"
)

// Sender submits mail through one SMTP account.
type Sender struct {
	host        string
	addr        string
	username    string
	password    string
	implicitTLS bool
	from        string
	fromName    string
	now         func() time.Time
}

// NewSender creates an SMTP sender for the given mailbox.
func NewSender(mb config.MailboxIdentity) *Sender {
	return &Sender{
		host:        mb.SMTPHost,
		addr:        net.JoinHostPort(mb.SMTPHost, strconv.Itoa(mb.SMTPPort)),
		username:    mb.Username,
		password:    mb.Password,
		implicitTLS: mb.TLS,
		from:        mb.Address,
		fromName:    mb.DisplayName,
		now:         time.Now,
	}
}

// dial opens an authenticated SMTP session bounded by ctx.
func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	var (
		conn net.Conn
		err  error
	)
	tlsConfig := &tls.Config{ServerName: s.host}
	if s.implicitTLS {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", s.addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", s.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *smtp.Client
	if s.implicitTLS {
		client = smtp.NewClient(conn)
	} else {
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls %s: %w", s.addr, err)
		}
	}

	if err := client.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
		client.Close()
		return nil, &source.AuthError{
			Source:  "smtp:" + s.from,
			Message: fmt.Sprintf("authentication failed for %s: %v", s.username, err),
		}
	}
	return client, nil
}

// Send composes msg and submits it. The returned id is the Message-ID
// header written into the message.
func (s *Sender) Send(ctx context.Context, msg models.OutgoingMessage) (string, error) {
	messageID, raw, err := s.compose(msg)
	if err != nil {
		return "", err
	}

	client, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.SendMail(s.from, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	_ = client.Quit()

	return messageID, nil
}

// Verify checks connectivity and credentials without sending.
func (s *Sender) Verify(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// compose renders msg as a single-part text/plain message with threading
// headers set.
func (s *Sender) compose(msg models.OutgoingMessage) (string, []byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Name: s.fromName, Address: s.from}})
	h.SetAddressList("To", []*mail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)

	messageID := uuid.NewString() + "@" + domainOf(s.from)
	h.SetMessageID(messageID)

	if msg.InReplyTo != "" {
		refs := []string{msg.InReplyTo}
		if msg.ThreadID != "" && msg.ThreadID != msg.InReplyTo && strings.Contains(msg.ThreadID, "@") {
			refs = []string{msg.ThreadID, msg.InReplyTo}
		}
		h.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
		h.SetMsgIDList("References", refs)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return "", nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return "", nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("close message writer: %w", err)
	}

	return messageID, buf.Bytes(), nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
