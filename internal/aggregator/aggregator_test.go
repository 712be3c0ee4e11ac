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

package aggregator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/source"
)

type stubAdapter struct {
	address string
	msgs    []models.InboundMessage
	err     error
	block   bool // wait for ctx cancellation
}

func (s *stubAdapter) Name() string { return "stub:" + s.address }
func (s *stubAdapter) Identity() models.Identity {
	return models.Identity{Address: s.address, Kind: models.IdentitySMTP}
}
func (s *stubAdapter) FetchSince(ctx context.Context, _ time.Time) ([]models.InboundMessage, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.msgs, s.err
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFetch_MergesTagsAndSorts(t *testing.T) {
	a := &stubAdapter{address: "rep1@example.com", msgs: []models.InboundMessage{
		{MessageID: "a2", From: "alice@acme.com", ReceivedAt: base.Add(2 * time.Minute)},
	}}
	b := &stubAdapter{address: "rep2@example.com", msgs: []models.InboundMessage{
		{MessageID: "b1", From: "bob@acme.com", ReceivedAt: base.Add(time.Minute)},
		{MessageID: "b3", From: "carol@acme.com", ReceivedAt: base.Add(3 * time.Minute)},
	}}

	res := New(Config{Adapters: []source.Adapter{a, b}}).Fetch(context.Background(), base)

	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors %v", res.Errors)
	}
	if got := []string{res.Messages[0].MessageID, res.Messages[1].MessageID, res.Messages[2].MessageID}; strings.Join(got, ",") != "b1,a2,b3" {
		t.Errorf("order = %v, want b1,a2,b3", got)
	}
	if res.Messages[1].ReceivedByIdentity != "rep1@example.com" {
		t.Errorf("a2 should be tagged with rep1, got %q", res.Messages[1].ReceivedByIdentity)
	}
	if res.Messages[0].ReceivedByIdentity != "rep2@example.com" {
		t.Errorf("b1 should be tagged with rep2, got %q", res.Messages[0].ReceivedByIdentity)
	}
	if len(res.Identities) != 2 {
		t.Errorf("identities = %v", res.Identities)
	}
}

func TestFetch_IsolatesAdapterFailures(t *testing.T) {
	good := &stubAdapter{address: "rep1@example.com", msgs: []models.InboundMessage{
		{MessageID: "ok", From: "alice@acme.com", ReceivedAt: base},
	}}
	broken := &stubAdapter{address: "rep2@example.com", err: errors.New("connection reset")}
	locked := &stubAdapter{address: "rep3@example.com", err: &source.AuthError{Source: "stub:rep3@example.com", Message: "expired"}}

	res := New(Config{Adapters: []source.Adapter{good, broken, locked}}).Fetch(context.Background(), base)

	if len(res.Messages) != 1 || res.Messages[0].MessageID != "ok" {
		t.Fatalf("expected the good adapter's message, got %+v", res.Messages)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 source errors, got %v", res.Errors)
	}
	if !strings.HasPrefix(res.Errors[0], "stub:rep2@example.com: ") {
		t.Errorf("unexpected error string %q", res.Errors[0])
	}
	if !strings.Contains(res.Errors[1], "[auth]") {
		t.Errorf("auth failure should be tagged: %q", res.Errors[1])
	}
	if len(res.Identities) != 3 {
		t.Errorf("all queried identities should be listed, got %v", res.Identities)
	}
}

func TestFetch_PerAdapterTimeout(t *testing.T) {
	slow := &stubAdapter{address: "slow@example.com", block: true}
	fast := &stubAdapter{address: "fast@example.com", msgs: []models.InboundMessage{
		{MessageID: "f1", From: "alice@acme.com", ReceivedAt: base},
	}}

	start := time.Now()
	res := New(Config{
		Adapters:     []source.Adapter{slow, fast},
		FetchTimeout: 50 * time.Millisecond,
	}).Fetch(context.Background(), base)

	if time.Since(start) > 2*time.Second {
		t.Fatal("fetch should be bounded by the per-adapter timeout")
	}
	if len(res.Messages) != 1 {
		t.Errorf("fast adapter results should survive, got %d", len(res.Messages))
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "deadline exceeded") {
		t.Errorf("expected timeout error, got %v", res.Errors)
	}
}

func TestFetch_DropsOwnTraffic(t *testing.T) {
	a := &stubAdapter{address: "rep1@example.com", msgs: []models.InboundMessage{
		{MessageID: "loop", From: "REP2@Example.com", ReceivedAt: base},
		{MessageID: "oauth", From: "founder@example.com", ReceivedAt: base},
		{MessageID: "real", From: "alice@acme.com", ReceivedAt: base},
	}}
	b := &stubAdapter{address: "rep2@example.com"}

	agg := New(Config{
		Adapters:     []source.Adapter{a, b},
		OwnAddresses: map[string]bool{"founder@example.com": true},
	})
	res := agg.Fetch(context.Background(), base)

	if len(res.Messages) != 1 || res.Messages[0].MessageID != "real" {
		t.Fatalf("expected only the external message, got %+v", res.Messages)
	}
	if res.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", res.Dropped)
	}
	if !agg.IsOwn(" Founder@example.com") {
		t.Error("IsOwn should normalise addresses")
	}
}
