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

package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/testutil"
)

func TestPing(t *testing.T) {
	tests := []struct {
		description string
		status      int
		expected    bool
	}{
		{"registry answers ok", http.StatusOK, true},
		{"auth required still reachable", http.StatusUnauthorized, true},
		{"not a v2 registry", http.StatusNotFound, false},
	}
	for _, test := range tests {
		testutil.Run(t, test.description, func(t *testutil.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v2/" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(test.status)
			}))
			t.Cleanup(server.Close)

			t.CheckDeepEqual(test.expected, NewProbe(server.URL, Credentials{}).Ping(context.Background()))
		})
	}
}

func TestCatalogAndTags(t *testing.T) {
	testutil.Run(t, "catalog and tags pass basic auth through", func(t *testutil.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, _ := r.BasicAuth()
			if user != "admin" || pass != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			switch r.URL.Path {
			case "/v2/_catalog":
				w.Write([]byte(`{"repositories":["hydrosim/a1","hydrosim/b2"]}`))
			case "/v2/hydrosim/a1/tags/list":
				w.Write([]byte(`{"name":"hydrosim/a1","tags":["0123456","main-latest"]}`))
			default:
				http.NotFound(w, r)
			}
		}))
		t.Cleanup(server.Close)

		probe := NewProbe(server.URL, Credentials{Username: "admin", Password: "hunter2"})

		t.CheckDeepEqual([]string{"hydrosim/a1", "hydrosim/b2"}, probe.Catalog(context.Background()))
		t.CheckDeepEqual([]string{"0123456", "main-latest"}, probe.Tags(context.Background(), "hydrosim/a1"))
	})

	testutil.Run(t, "failures degrade to empty lists", func(t *testutil.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(server.Close)

		probe := NewProbe(server.URL, Credentials{})

		t.CheckDeepEqual(0, len(probe.Catalog(context.Background())))
		t.CheckDeepEqual(0, len(probe.Tags(context.Background(), "hydrosim/a1")))
	})
}

func TestDeleteTag(t *testing.T) {
	testutil.Run(t, "deletes by resolved digest", func(t *testutil.T) {
		var deletedPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodHead && r.URL.Path == "/v2/hydrosim/a1/manifests/old":
				w.Header().Set("Docker-Content-Digest", "sha256:feed")
				w.WriteHeader(http.StatusOK)
			case r.Method == http.MethodDelete:
				deletedPath = r.URL.Path
				w.WriteHeader(http.StatusAccepted)
			default:
				http.NotFound(w, r)
			}
		}))
		t.Cleanup(server.Close)

		err := NewProbe(server.URL, Credentials{}).DeleteTag(context.Background(), "hydrosim/a1", "old")

		t.CheckNoError(err)
		t.CheckDeepEqual("/v2/hydrosim/a1/manifests/sha256:feed", deletedPath)
	})

	testutil.Run(t, "falls back to GET when HEAD is rejected", func(t *testutil.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodHead:
				w.WriteHeader(http.StatusMethodNotAllowed)
			case http.MethodGet:
				w.Header().Set("Docker-Content-Digest", "sha256:beef")
				w.WriteHeader(http.StatusOK)
			case http.MethodDelete:
				w.WriteHeader(http.StatusAccepted)
			}
		}))
		t.Cleanup(server.Close)

		t.CheckNoError(NewProbe(server.URL, Credentials{}).DeleteTag(context.Background(), "hydrosim/a1", "old"))
	})

	testutil.Run(t, "registry without delete support", func(t *testutil.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Docker-Content-Digest", "sha256:feed")
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(server.Close)

		err := NewProbe(server.URL, Credentials{}).DeleteTag(context.Background(), "hydrosim/a1", "old")

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.StateConflict))
	})

	testutil.Run(t, "missing manifest", func(t *testutil.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		t.Cleanup(server.Close)

		err := NewProbe(server.URL, Credentials{}).DeleteTag(context.Background(), "hydrosim/a1", "gone")

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.NotFound))
	})
}
