// Copyright 2025 HireSignal LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package campaign

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Runner pulls queued campaigns from the store and runs each in its own
// goroutine. Campaigns across tenants proceed concurrently; within one
// campaign the fetch loop stays single-flight.
type Runner struct {
	logger log.Logger
	orch   *Orchestrator
	poll   time.Duration
}

// NewRunner returns a runner polling at the given interval (default 10s).
func NewRunner(logger log.Logger, orch *Orchestrator, poll time.Duration) *Runner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &Runner{logger: logger, orch: orch, poll: poll}
}

// Run claims and executes queued campaigns until ctx is cancelled, then waits
// for in-flight campaigns to finish.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		c, err := r.orch.store.ClaimQueuedCampaign(ctx)
		if err != nil {
			level.Error(r.logger).Log("msg", "claiming queued campaign", "err", err)
		} else if c != nil {
			level.Info(r.logger).Log("msg", "claimed campaign", "campaign", c.ID, "tenant", c.TenantID)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.orch.Run(ctx, c); err != nil {
					level.Error(r.logger).Log("msg", "campaign run failed", "campaign", c.ID, "err", err)
				}
			}()
			// Claim the next queued campaign without waiting for the tick.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
