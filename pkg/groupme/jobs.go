// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package groupme

import (
	"context"
	"fmt"
	"time"
)

// StatusCheck fetches the current status of an asynchronous server-side job.
type StatusCheck func(ctx context.Context) (string, error)

// AwaitJob polls check every interval until it reports one of the terminal
// status values, then returns that status. The first check runs immediately.
// A check error aborts the wait at once; the poll itself has no attempt
// limit, so callers bound it through the context deadline.
func AwaitJob(ctx context.Context, check StatusCheck, interval time.Duration, terminal ...string) (string, error) {
	for {
		status, err := check(ctx)
		if err != nil {
			return "", fmt.Errorf("job status check failed: %w", err)
		}
		for _, t := range terminal {
			if status == t {
				return status, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}
