/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kubernetes

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/instrumentation"
)

// Mutating calls get three attempts in total.
const mutationAttempts = 3

// for tests
var newBackOff = func() backoff.BackOff {
	return backoff.NewExponentialBackOff()
}

// OnTransient runs a mutating API call, retrying with exponential
// backoff while the API server reports a transient server-side failure.
// Conflicts, not-found and other client errors surface immediately so
// callers can apply their own idempotence rules.
func OnTransient(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), mutationAttempts-1), ctx)
	return backoff.Retry(func() error {
		err := fn()
		switch {
		case err == nil:
			return nil
		case transient(err):
			instrumentation.CountClusterRetry()
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
}

func transient(err error) bool {
	return apierrors.IsInternalError(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err)
}
