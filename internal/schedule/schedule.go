// Copyright 2023 qbee.io
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
//
// SPDX-License-Identifier: Apache-2.0

// Package schedule runs the reconcile cycle on a period+jitter ticker
// (spec 4.5: "invoked by an external scheduler with wait interval
// period + uniform(0, jitter) between cycles"), grounded on the
// teacher's single-goroutine control loop.
package schedule

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.qbee.io/shadowsync/internal/log"
)

var scheduleLog = log.For("schedule")

// Cycle is run once per tick; the reconciler's FullUpdate satisfies it.
type Cycle func(ctx context.Context) error

// Scheduler drives Cycle on a period+jitter interval until its context
// is canceled or a termination signal arrives. Cancellation is observed
// only between cycles (spec 5): a cycle in progress runs to completion.
type Scheduler struct {
	period time.Duration
	jitter time.Duration
	cycle  Cycle

	// forceUpdate lets an operator trigger an out-of-band cycle, mirroring
	// the teacher's SIGUSR1 handling.
	forceUpdate chan os.Signal
}

// New builds a Scheduler invoking cycle every period, plus a random
// jitter uniformly distributed in [0, jitterCeiling).
func New(period, jitterCeiling time.Duration, cycle Cycle) *Scheduler {
	return &Scheduler{
		period:      period,
		jitter:      jitterCeiling,
		cycle:       cycle,
		forceUpdate: make(chan os.Signal, 1),
	}
}

// nextInterval returns period plus a uniform random jitter in [0, jitter).
func (s *Scheduler) nextInterval() time.Duration {
	if s.jitter <= 0 {
		return s.period
	}
	return s.period + time.Duration(rand.Int63n(int64(s.jitter)))
}

// Run blocks, invoking the cycle on schedule, until ctx is canceled or
// the process receives SIGINT/SIGTERM. SIGUSR1 triggers an immediate
// out-of-schedule cycle and resets the ticker, matching the teacher's
// update-signal idiom.
func (s *Scheduler) Run(ctx context.Context) error {
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopSignal)

	signal.Notify(s.forceUpdate, syscall.SIGUSR1)
	defer signal.Stop(s.forceUpdate)

	ticker := time.NewTicker(s.nextInterval())
	defer ticker.Stop()

	scheduleLog.Infof("starting scheduler: period=%s jitter=%s", s.period, s.jitter)

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			scheduleLog.Infof("stopping scheduler: %v", ctx.Err())
			return nil

		case <-stopSignal:
			scheduleLog.Infof("received termination signal, stopping scheduler")
			return nil

		case <-s.forceUpdate:
			scheduleLog.Debugf("received forced update signal")
			ticker.Reset(s.nextInterval())
			s.runCycle(ctx)

		case <-ticker.C:
			ticker.Reset(s.nextInterval())
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if err := s.cycle(ctx); err != nil {
		scheduleLog.Errorf("reconcile cycle failed: %v", err)
	}
}
