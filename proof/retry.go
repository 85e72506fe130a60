// Copyright 2026 Blink Labs Software
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

package proof

import (
	"context"
	"errors"
	"time"
)

type retrySource struct {
	src      Source
	attempts int
	backoff  time.Duration
}

// WithRetry wraps src so that failed fetches are retried up to attempts times
// in total, sleeping backoff, 2*backoff, 4*backoff... between tries.
// Cancellation of the context is never retried.
func WithRetry(src Source, attempts int, backoff time.Duration) Source {
	if attempts < 1 {
		attempts = 1
	}
	return &retrySource{
		src:      src,
		attempts: attempts,
		backoff:  backoff,
	}
}

func (r *retrySource) GetProof(ctx context.Context, block uint64, row uint16, col uint16) ([]byte, error) {
	var err error
	delay := r.backoff
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
			delay *= 2
		}
		var proof []byte
		proof, err = r.src.GetProof(ctx, block, row, col)
		if err == nil {
			return proof, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}
