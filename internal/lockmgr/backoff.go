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

package lockmgr

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.qbee.io/shadowsync/internal/shadowerr"
)

const (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

// retryOnBusy runs op according to spec 4.3's timeout semantics:
//
//	timeout == 0: try exactly once, no sleep.
//	timeout <  0: retry forever.
//	timeout >  0: retry with exponential backoff (100ms, capped at 2s)
//	              until the deadline.
//
// Only shadowerr.LockBusy is retried; every other error (including
// shadowerr.LockStale, which the caller already self-healed once) is
// returned immediately.
func retryOnBusy(timeout time.Duration, op func() error) error {
	if timeout == 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval

	if timeout > 0 {
		b.MaxElapsedTime = timeout
	} else {
		b.MaxElapsedTime = 0 // no limit: retry forever
	}

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}

		var lockErr *shadowerr.LockError
		if errors.As(err, &lockErr) && lockErr.Kind == shadowerr.LockBusy {
			return err
		}

		return backoff.Permanent(err)
	}, b)
}
