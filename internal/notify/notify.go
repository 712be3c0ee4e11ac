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

// Package notify emails the operator when a prospect asks for a meeting.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/bcem/replyflow/internal/config"
)

// MeetingRequest describes the reply that triggered the alert.
type MeetingRequest struct {
	ContactName  string
	ContactEmail string
	Subject      string
	Body         string
	Identity     string
	ReceivedAt   time.Time
}

// Notifier sends meeting-request alerts.
type Notifier interface {
	NotifyMeetingRequest(ctx context.Context, req MeetingRequest) error
}

// SendGrid delivers alerts through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey string
	from   string
	to     string
	host   string
}

// New returns a SendGrid notifier. host is empty in production.
func New(cfg config.NotifyConfig, host string) (*SendGrid, error) {
	if cfg.SendGridAPIKey == "" {
		return nil, errors.New("sendgrid api key not configured")
	}
	if cfg.To == "" {
		return nil, errors.New("notification recipient not configured")
	}
	from := cfg.From
	if from == "" {
		from = cfg.To
	}
	return &SendGrid{apiKey: cfg.SendGridAPIKey, from: from, to: cfg.To, host: host}, nil
}

// NotifyMeetingRequest sends one alert email.
func (s *SendGrid) NotifyMeetingRequest(ctx context.Context, req MeetingRequest) error {
	subject := fmt.Sprintf("Meeting request from %s", req.ContactName)
	body := fmt.Sprintf(`%s (%s) asked for a meeting.

Received by: %s
Received at: %s
Subject: %s

%s`, req.ContactName, req.ContactEmail, req.Identity, req.ReceivedAt.Format(time.RFC3339), req.Subject, req.Body)

	msg := mail.NewSingleEmail(
		mail.NewEmail("Reply Check", s.from),
		subject,
		mail.NewEmail("", s.to),
		body, "",
	)

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

var _ Notifier = (*SendGrid)(nil)
