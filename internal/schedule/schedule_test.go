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

package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.qbee.io/shadowsync/internal/assert"
)

func TestNextIntervalNoJitter(t *testing.T) {
	s := New(5*time.Second, 0, func(context.Context) error { return nil })

	for i := 0; i < 10; i++ {
		assert.Equal(t, s.nextInterval(), 5*time.Second)
	}
}

func TestNextIntervalWithinJitterBounds(t *testing.T) {
	s := New(5*time.Second, 2*time.Second, func(context.Context) error { return nil })

	for i := 0; i < 50; i++ {
		got := s.nextInterval()
		assert.True(t, got >= 5*time.Second)
		assert.True(t, got < 7*time.Second)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	var calls int32

	ctx, cancel := context.WithCancel(context.Background())

	s := New(50*time.Millisecond, 0, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.True(t, atomic.LoadInt32(&calls) >= 1)
}
