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

package logstore

import (
	"context"
	"testing"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/testutil"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		description    string
		endpoint       string
		defaultSecure  bool
		expectedHost   string
		expectedSecure bool
	}{
		{"https scheme", "https://minio.hydrosim.cn", false, "minio.hydrosim.cn", true},
		{"http scheme with port", "http://minio.hydrosim.svc.cluster.local:9000", true, "minio.hydrosim.svc.cluster.local:9000", false},
		{"bare host keeps default", "minio:9000", true, "minio:9000", true},
	}
	for _, test := range tests {
		testutil.Run(t, test.description, func(t *testutil.T) {
			host, secure := NormalizeEndpoint(test.endpoint, test.defaultSecure)

			t.CheckDeepEqual(test.expectedHost, host)
			t.CheckDeepEqual(test.expectedSecure, secure)
		})
	}
}

func TestObjectKey(t *testing.T) {
	testutil.Run(t, "canonical layout", func(t *testutil.T) {
		t.CheckDeepEqual("builds/42/build-42-abc123.log", ObjectKey(42, "build-42-abc123"))
	})
}

func TestDisabledStore(t *testing.T) {
	testutil.Run(t, "nil store reports dependency unavailable", func(t *testutil.T) {
		var s *Store

		t.CheckFalse(s.Enabled())
		t.CheckTrue(portalerrors.IsKind(s.Put(context.Background(), "k", "v"), portalerrors.DependencyUnavailable))
		_, err := s.Get(context.Background(), "k")
		t.CheckTrue(portalerrors.IsKind(err, portalerrors.DependencyUnavailable))
	})

	testutil.Run(t, "empty endpoint yields nil store without error", func(t *testutil.T) {
		s, err := New(Config{})

		t.CheckNoError(err)
		t.CheckTrue(s == nil)
	})
}
