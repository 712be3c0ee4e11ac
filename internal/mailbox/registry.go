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

// Package mailbox holds the configured outbound identities and sends mail as
// a specific one of them.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bcem/replyflow/internal/config"
	"github.com/bcem/replyflow/internal/graph"
	"github.com/bcem/replyflow/internal/imapmail"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/smtpmail"
	"github.com/bcem/replyflow/internal/source"
)

// ErrUnknownIdentity is returned when a send names an identity that is not
// configured or cannot send. The registry never substitutes another identity.
var ErrUnknownIdentity = errors.New("mailbox identity not available")

// Sender delivers mail from one identity.
type Sender interface {
	Send(ctx context.Context, msg models.OutgoingMessage) (string, error)
	Verify(ctx context.Context) error
}

// Verifier checks inbound connectivity for an identity.
type Verifier interface {
	Verify(ctx context.Context) error
}

type entry struct {
	identity models.Identity
	adapter  source.Adapter
	sender   Sender // nil for receive-only identities
}

// Registry is the set of configured mailbox identities, keyed by normalised
// address.
type Registry struct {
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an identity with its inbound adapter and optional sender.
func (r *Registry) Register(identity models.Identity, adapter source.Adapter, sender Sender) error {
	key := models.NormalizeAddress(identity.Address)
	if key == "" {
		return fmt.Errorf("register identity: empty address")
	}
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("register identity %s: already registered", identity.Address)
	}
	r.entries[key] = &entry{identity: identity, adapter: adapter, sender: sender}
	r.order = append(r.order, key)
	return nil
}

// FromConfig builds the registry from configuration: the OAuth identity reads
// and sends through Graph, SMTP identities read over IMAP and send over SMTP,
// and the tracking identity reads over IMAP and sends over SMTP when an SMTP
// host is configured.
func FromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := NewRegistry()

	if o := cfg.OAuth; o != nil {
		identity := models.Identity{
			Address:     o.Address,
			DisplayName: o.DisplayName,
			Kind:        models.IdentityOAuth,
			DailyLimit:  o.DailyLimit,
		}
		httpClient := graph.NewOAuthHTTPClient(ctx, o.TenantID, o.ClientID, o.ClientSecret)
		client := graph.NewClient(graph.ClientConfig{
			HTTPClient: httpClient,
			UserID:     o.UserID,
			Identity:   identity,
		})
		if err := r.Register(identity, client, client); err != nil {
			return nil, err
		}
	}

	for _, mb := range cfg.SMTP {
		adapter := imapmail.NewClient(mb, models.IdentitySMTP)
		if err := r.Register(adapter.Identity(), adapter, smtpmail.NewSender(mb)); err != nil {
			return nil, err
		}
	}

	if mb := cfg.Tracking; mb != nil {
		adapter := imapmail.NewClient(*mb, models.IdentityTracking)
		var sender Sender
		if mb.SMTPHost != "" {
			sender = smtpmail.NewSender(*mb)
		}
		if err := r.Register(adapter.Identity(), adapter, sender); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ListIdentities returns every configured identity in registration order.
func (r *Registry) ListIdentities() []models.Identity {
	out := make([]models.Identity, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key].identity)
	}
	return out
}

// Adapters returns the inbound adapters in registration order.
func (r *Registry) Adapters() []source.Adapter {
	out := make([]source.Adapter, 0, len(r.order))
	for _, key := range r.order {
		if a := r.entries[key].adapter; a != nil {
			out = append(out, a)
		}
	}
	return out
}

// OwnAddresses returns the normalised set of all identity addresses.
func (r *Registry) OwnAddresses() map[string]bool {
	set := make(map[string]bool, len(r.entries))
	for key := range r.entries {
		set[key] = true
	}
	return set
}

// IsOwn reports whether addr belongs to a configured identity.
func (r *Registry) IsOwn(addr string) bool {
	_, ok := r.entries[models.NormalizeAddress(addr)]
	return ok
}

// TrackingIdentity returns the tracking identity address, if configured.
func (r *Registry) TrackingIdentity() (string, bool) {
	for _, key := range r.order {
		if e := r.entries[key]; e.identity.Kind == models.IdentityTracking {
			return e.identity.Address, true
		}
	}
	return "", false
}

// SendAs sends msg from exactly the named identity. A missing identity, or
// one without send capability, fails with ErrUnknownIdentity.
func (r *Registry) SendAs(ctx context.Context, identity string, msg models.OutgoingMessage) (*models.SendResult, error) {
	e, ok := r.entries[models.NormalizeAddress(identity)]
	if !ok || e.sender == nil {
		return nil, fmt.Errorf("send as %s: %w", identity, ErrUnknownIdentity)
	}

	messageID, err := e.sender.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send as %s: %w", identity, err)
	}

	slog.Info("reply sent",
		"identity", e.identity.Address,
		"to", msg.To,
		"message_id", messageID,
	)
	return &models.SendResult{MessageID: messageID, SentFrom: e.identity.Address}, nil
}

// Verify checks the inbound and outbound connections of one identity.
func (r *Registry) Verify(ctx context.Context, identity string) error {
	e, ok := r.entries[models.NormalizeAddress(identity)]
	if !ok {
		return fmt.Errorf("verify %s: %w", identity, ErrUnknownIdentity)
	}

	if v, ok := e.adapter.(Verifier); ok {
		if err := v.Verify(ctx); err != nil {
			return fmt.Errorf("verify inbound %s: %w", identity, err)
		}
	}
	// Graph clients serve as both adapter and sender; avoid a second round trip.
	if e.sender != nil && any(e.sender) != any(e.adapter) {
		if err := e.sender.Verify(ctx); err != nil {
			return fmt.Errorf("verify outbound %s: %w", identity, err)
		}
	}
	return nil
}

// VerifyAll verifies every identity and returns the failures keyed by
// address.
func (r *Registry) VerifyAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, key := range r.order {
		addr := r.entries[key].identity.Address
		if err := r.Verify(ctx, addr); err != nil {
			failures[addr] = err
		}
	}
	return failures
}

// SortedKeys returns the keys of a VerifyAll result in order.
func SortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compile-time checks
var (
	_ Sender         = (*graph.Client)(nil)
	_ Sender         = (*smtpmail.Sender)(nil)
	_ source.Adapter = (*graph.Client)(nil)
	_ source.Adapter = (*imapmail.Client)(nil)
	_ Verifier       = (*imapmail.Client)(nil)
)
