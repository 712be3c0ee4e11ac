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

// Reply pipeline service.
//
// Entry point for the long-running reply checker. It:
//  1. Loads identities and pipeline settings from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Verifies every configured mailbox
//  4. Runs the reply check on a fixed interval
//  5. Serves the on-demand trigger, health and metrics endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bcem/replyflow/internal/app"
	"github.com/bcem/replyflow/internal/config"
	"github.com/bcem/replyflow/internal/httpapi"
	"github.com/bcem/replyflow/internal/pipeline"
)

func main() {
	slog.SetDefault(app.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL")))

	slog.Info("starting reply pipeline service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(os.Stdout, cfg.LogLevel))

	slog.Info("configuration loaded",
		"identities", len(cfg.IdentityAddresses()),
		"interval", cfg.ReplyCheck.Interval,
		"lookback", cfg.ReplyCheck.Lookback,
		"auto_reply", cfg.ReplyCheck.AutoReply,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect and assemble ---
	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// A failing mailbox is reported but does not block the others.
	if failed := a.VerifyMailboxes(ctx); failed > 0 {
		slog.Warn("some mailboxes failed verification", "failed", failed)
	}

	// --- HTTP trigger, health and metrics ---
	handler := httpapi.NewHandler(a.Runner, a.HealthChecks(), a.Metrics.Handler(), 0)
	ready, err := httpapi.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Periodic reply check ---
	scheduler := pipeline.NewScheduler(a.Runner, cfg.ReplyCheck.Interval, 0)
	scheduler.Start(ctx)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()
	scheduler.Stop()

	slog.Info("reply pipeline service stopped")
}
