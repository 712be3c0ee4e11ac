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

// Package aggregator fans out to every mailbox adapter for a lookback window
// and merges the results, dropping mail sent by our own identities.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/replyflow/internal/metrics"
	"github.com/bcem/replyflow/internal/models"
	"github.com/bcem/replyflow/internal/source"
)

// DefaultFetchTimeout bounds one adapter's fetch when none is configured.
const DefaultFetchTimeout = 45 * time.Second

// Result is the merged output of one fan-out.
type Result struct {
	Messages   []models.InboundMessage
	Identities []string // identity addresses queried
	Errors     []string // "<source>: <error>", one per failed adapter
	Dropped    int      // messages removed by the own-traffic filter
}

// Aggregator fetches from a fixed set of adapters.
type Aggregator struct {
	adapters     []source.Adapter
	own          map[string]bool
	fetchTimeout time.Duration
	metrics      *metrics.Metrics
}

// Config holds dependencies for the aggregator.
type Config struct {
	Adapters []source.Adapter
	// OwnAddresses is every configured outbound identity, normalised.
	// Adapter identities are always added.
	OwnAddresses map[string]bool
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	own := make(map[string]bool, len(cfg.OwnAddresses)+len(cfg.Adapters))
	for addr := range cfg.OwnAddresses {
		own[models.NormalizeAddress(addr)] = true
	}
	for _, a := range cfg.Adapters {
		own[models.NormalizeAddress(a.Identity().Address)] = true
	}

	return &Aggregator{
		adapters:     cfg.Adapters,
		own:          own,
		fetchTimeout: timeout,
		metrics:      cfg.Metrics,
	}
}

type fetchOutcome struct {
	messages []models.InboundMessage
	err      error
}

// Fetch queries every adapter concurrently for mail received at or after
// since. A failing adapter is recorded in Result.Errors and never prevents
// the others' results from being used. Messages are tagged with the
// receiving identity, filtered for own traffic and sorted by ReceivedAt.
func (a *Aggregator) Fetch(ctx context.Context, since time.Time) Result {
	outcomes := make([]fetchOutcome, len(a.adapters))

	g, gCtx := errgroup.WithContext(ctx)
	for i, adapter := range a.adapters {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gCtx, a.fetchTimeout)
			defer cancel()

			start := time.Now()
			msgs, err := adapter.FetchSince(fetchCtx, since)
			a.metrics.ObserveFetch(adapter.Name(), time.Since(start), err)

			// Each goroutine owns its slot; errors are isolated, never returned.
			outcomes[i] = fetchOutcome{messages: msgs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, adapter := range a.adapters {
		identity := adapter.Identity().Address
		res.Identities = append(res.Identities, identity)

		out := outcomes[i]
		if out.err != nil {
			res.Errors = append(res.Errors, formatSourceError(adapter.Name(), out.err))
			slog.Warn("mailbox fetch failed",
				"source", adapter.Name(),
				"auth", source.IsAuthError(out.err),
				"error", out.err,
			)
			continue
		}

		for _, msg := range out.messages {
			msg.ReceivedByIdentity = identity
			if a.IsOwn(msg.From) {
				res.Dropped++
				continue
			}
			res.Messages = append(res.Messages, msg)
		}
	}

	sort.SliceStable(res.Messages, func(i, j int) bool {
		return res.Messages[i].ReceivedAt.Before(res.Messages[j].ReceivedAt)
	})

	slog.Info("mailboxes fetched",
		"identities", len(res.Identities),
		"messages", len(res.Messages),
		"own_traffic_dropped", res.Dropped,
		"source_errors", len(res.Errors),
	)
	return res
}

// IsOwn reports whether addr is one of our configured identities.
func (a *Aggregator) IsOwn(addr string) bool {
	return a.own[models.NormalizeAddress(addr)]
}

func formatSourceError(name string, err error) string {
	if source.IsAuthError(err) {
		return fmt.Sprintf("%s: [auth] %v", name, err)
	}
	return fmt.Sprintf("%s: %v", name, err)
}
