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

// Package matcher resolves an inbound sender to a known contact.
package matcher

import (
	"context"
	"fmt"

	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/store"
)

// Method records how a contact was found.
type Method string

const (
	MethodThread  Method = "thread"
	MethodContact Method = "contact_email"
)

// Match is a resolved contact plus the outbound message that established the
// thread, when there is one.
type Match struct {
	Contact  models.Contact
	Outbound *models.Message
	Method   Method
}

// Matcher looks contacts up in the store.
type Matcher struct {
	store store.Querier
}

// New creates a matcher.
func New(q store.Querier) *Matcher {
	return &Matcher{store: q}
}

// Resolve finds the contact for from. It tries the most recent outbound
// message sent to that address first, then the contact's own email. A nil
// Match with nil error means no contact is known.
func (m *Matcher) Resolve(ctx context.Context, from string) (*Match, error) {
	addr := models.NormalizeAddress(from)
	if addr == "" {
		return nil, nil
	}

	out, err := m.store.MostRecentOutboundTo(ctx, addr, "")
	if err != nil {
		return nil, fmt.Errorf("thread match: %w", err)
	}
	if out != nil && out.ContactID != nil {
		c, err := m.store.FindContactByID(ctx, *out.ContactID)
		if err != nil {
			return nil, fmt.Errorf("thread contact: %w", err)
		}
		if c != nil {
			return &Match{Contact: *c, Outbound: out, Method: MethodThread}, nil
		}
	}

	c, err := m.store.FindContactByEmail(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("contact match: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	// Keep any outbound we found so the engine can still mark it replied.
	return &Match{Contact: *c, Outbound: out, Method: MethodContact}, nil
}
