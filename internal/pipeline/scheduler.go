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

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs reply checks on a fixed interval.
type Scheduler struct {
	runner    *Runner
	interval  time.Duration
	hoursBack int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. hoursBack <= 0 uses the runner's lookback.
func NewScheduler(r *Runner, interval time.Duration, hoursBack int) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{runner: r, interval: interval, hoursBack: hoursBack}
}

// Start runs one check immediately and then one per interval until Stop.
// A tick that arrives while a check is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.tick(loopCtx)
			}
		}
	}()

	slog.Info("reply check scheduler started", "interval", s.interval)
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, ok := s.runner.TryRunReplyCheck(ctx, s.hoursBack); !ok {
		slog.Warn("reply check still running, skipping tick")
	}
}

// Stop cancels the loop and waits for an in-flight check to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
