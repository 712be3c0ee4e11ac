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

// Package app wires configuration into a ready-to-run reply pipeline. Both
// the server and the one-shot CLI start here.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/replyflow/internal/aggregator"
	"github.com/bcem/replyflow/internal/config"
	"github.com/bcem/replyflow/internal/dedup"
	"github.com/bcem/replyflow/internal/httpapi"
	"github.com/bcem/replyflow/internal/mailbox"
	"github.com/bcem/replyflow/internal/metrics"
	"github.com/bcem/replyflow/internal/notify"
	"github.com/bcem/replyflow/internal/pipeline"
	"github.com/bcem/replyflow/internal/replygen"
	"github.com/bcem/replyflow/internal/responder"
	"github.com/bcem/replyflow/internal/store"
	"github.com/bcem/replyflow/internal/tracker"
)

// App is the assembled service.
type App struct {
	Config   *config.Config
	Store    *store.DB
	Redis    *redis.Client // nil when REDIS_URL is unset
	Registry *mailbox.Registry
	Metrics  *metrics.Metrics
	Runner   *pipeline.Runner
}

// NewLogger returns a JSON logger at the named level (debug, info, warn,
// error). Unknown levels log at info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build connects to Postgres and Redis and assembles the pipeline.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New(prometheus.NewRegistry())}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.Store = db
	slog.Info("connected to PostgreSQL")

	var claims pipeline.Claimer
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opt)
		c := dedup.NewClaims(a.Redis, cfg.ReplyCheck.ClaimTTL, ownerID())
		if err := c.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		claims = c
		slog.Info("connected to Redis")
	} else {
		slog.Warn("REDIS_URL not set, overlapping runs rely on the message_id constraint alone")
	}

	reg, err := mailbox.FromConfig(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build mailbox registry: %w", err)
	}
	a.Registry = reg

	var trk *tracker.Tracker
	if addr, ok := reg.TrackingIdentity(); ok {
		trk = tracker.New(db, addr)
	}

	a.Runner = pipeline.New(pipeline.Config{
		Fetcher: aggregator.New(aggregator.Config{
			Adapters:     reg.Adapters(),
			OwnAddresses: reg.OwnAddresses(),
			FetchTimeout: cfg.ReplyCheck.FetchTimeout,
			Metrics:      a.Metrics,
		}),
		Store:    db,
		Replier:  buildReplier(cfg, reg, db, a.Metrics),
		Notifier: buildNotifier(cfg.Notify),
		Tracker:  trk,
		Claims:   claims,
		Metrics:  a.Metrics,
		Lookback: cfg.ReplyCheck.Lookback,

		NotifyTimeout: cfg.ReplyCheck.SendTimeout,
	})

	slog.Info("reply pipeline ready",
		"identities", len(reg.ListIdentities()),
		"tracking", trk != nil,
		"claims", claims != nil,
	)
	return a, nil
}

// buildReplier returns nil when auto-replies are disabled or no generator
// is configured.
func buildReplier(cfg *config.Config, sender responder.Sender, st store.Store, m *metrics.Metrics) pipeline.Replier {
	if !cfg.ReplyCheck.AutoReply {
		slog.Info("auto-reply disabled by configuration")
		return nil
	}
	gen, err := replygen.New(cfg.OpenAI)
	if err != nil {
		slog.Warn("auto-reply disabled", "error", err)
		return nil
	}

	return responder.New(responder.Config{
		Generator:       gen,
		Sender:          sender,
		Store:           st,
		Metrics:         m,
		PolicyBrief:     cfg.ReplyCheck.PolicyBrief,
		GenerateTimeout: cfg.ReplyCheck.GenerateTimeout,
		SendTimeout:     cfg.ReplyCheck.SendTimeout,
	})
}

// buildNotifier returns nil unless SendGrid is configured. It does not depend
// on auto-reply being enabled.
func buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	if cfg.SendGridAPIKey == "" {
		return nil
	}
	n, err := notify.New(cfg, "")
	if err != nil {
		slog.Warn("meeting notifications disabled", "error", err)
		return nil
	}
	return n
}

// HealthChecks returns the dependencies /health pings.
func (a *App) HealthChecks() map[string]httpapi.Pinger {
	checks := map[string]httpapi.Pinger{"postgres": a.Store}
	if a.Redis != nil {
		checks["redis"] = redisPinger{a.Redis}
	}
	return checks
}

// VerifyMailboxes checks every identity and logs the result. It returns the
// number of failures.
func (a *App) VerifyMailboxes(ctx context.Context) int {
	vctx, cancel := context.WithTimeout(ctx, a.Config.ReplyCheck.VerifyTimeout)
	defer cancel()

	failures := a.Registry.VerifyAll(vctx)
	for _, addr := range mailbox.SortedKeys(failures) {
		slog.Error("mailbox verification failed", "identity", addr, "error", failures[addr])
	}
	slog.Info("mailbox verification finished",
		"identities", len(a.Registry.ListIdentities()),
		"failed", len(failures),
	)
	return len(failures)
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			slog.Warn("postgres close failed", "error", err)
		}
	}
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// ownerID names this process in Redis claims.
func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}
