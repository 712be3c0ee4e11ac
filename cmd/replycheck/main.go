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

// One-shot reply check.
//
// Runs a single batch against every configured mailbox and prints the
// summary as JSON. With -verify it only checks mailbox credentials.
//
// Usage:
//
//	go run ./cmd/replycheck/ [-hours 24] [-verify]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bcem/replyflow/internal/app"
	"github.com/bcem/replyflow/internal/config"
	"github.com/bcem/replyflow/internal/httpapi"
)

func main() {
	// Logs go to stderr so stdout carries only the summary.
	slog.SetDefault(app.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL")))

	// --- CLI Flags ---
	hoursFlag := flag.Int("hours", 24, "Lookback window in hours")
	verifyFlag := flag.Bool("verify", false, "Verify mailbox credentials and exit")
	flag.Parse()

	if *hoursFlag <= 0 || *hoursFlag > httpapi.MaxHoursBack {
		fmt.Fprintf(os.Stderr, "Error: -hours must be between 1 and %d\n\n", httpapi.MaxHoursBack)
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *verifyFlag {
		if failed := a.VerifyMailboxes(ctx); failed > 0 {
			a.Close()
			os.Exit(1)
		}
		return
	}

	slog.Info("starting reply check", "hours", *hoursFlag)
	summary := a.Runner.RunReplyCheck(ctx, *hoursFlag)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		slog.Error("failed to write summary", "error", err)
		os.Exit(1)
	}
}
