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
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	fakeclient "k8s.io/client-go/kubernetes/fake"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/testutil"
)

func TestOnTransient(t *testing.T) {
	testutil.Run(t, "transient failures are retried", func(t *testutil.T) {
		t.Override(&newBackOff, func() backoff.BackOff { return &backoff.ZeroBackOff{} })

		calls := 0
		err := OnTransient(context.Background(), func() error {
			calls++
			if calls < 3 {
				return apierrors.NewInternalError(fmt.Errorf("etcd hiccup"))
			}
			return nil
		})

		t.CheckNoError(err)
		t.CheckDeepEqual(3, calls)
	})

	testutil.Run(t, "gives up after three attempts", func(t *testutil.T) {
		t.Override(&newBackOff, func() backoff.BackOff { return &backoff.ZeroBackOff{} })

		calls := 0
		err := OnTransient(context.Background(), func() error {
			calls++
			return apierrors.NewServiceUnavailable("apiserver overloaded")
		})

		t.CheckError(true, err)
		t.CheckDeepEqual(3, calls)
	})

	testutil.Run(t, "conflict surfaces immediately", func(t *testutil.T) {
		calls := 0
		err := OnTransient(context.Background(), func() error {
			calls++
			return apierrors.NewAlreadyExists(schema.GroupResource{Resource: "services"}, "student-a1")
		})

		t.CheckDeepEqual(1, calls)
		t.CheckTrue(apierrors.IsAlreadyExists(err))
	})

	testutil.Run(t, "not found surfaces immediately", func(t *testutil.T) {
		calls := 0
		err := OnTransient(context.Background(), func() error {
			calls++
			return apierrors.NewNotFound(schema.GroupResource{Resource: "deployments"}, "student-a1")
		})

		t.CheckDeepEqual(1, calls)
		t.CheckTrue(IsNotFound(err))
	})
}

func TestReasonOf(t *testing.T) {
	testutil.Run(t, "api status reason", func(t *testutil.T) {
		err := apierrors.NewNotFound(schema.GroupResource{Resource: "deployments"}, "student-a1")

		t.CheckDeepEqual("NotFound", ReasonOf(err))
	})

	testutil.Run(t, "plain error text", func(t *testutil.T) {
		t.CheckDeepEqual("dial timeout", ReasonOf(fmt.Errorf("dial timeout")))
	})
}

func TestRequire(t *testing.T) {
	testutil.Run(t, "nil client is a dependency failure", func(t *testutil.T) {
		err := Require(nil)

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.DependencyUnavailable))
		t.CheckDeepEqual("Kubernetes client unavailable", portalerrors.MessageOf(err))
	})

	testutil.Run(t, "wrapped fake clientset passes", func(t *testutil.T) {
		t.CheckNoError(Require(NewFromInterface(fakeclient.NewSimpleClientset())))
	})
}
