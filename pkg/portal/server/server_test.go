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

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	fakeclient "k8s.io/client-go/kubernetes/fake"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/auth"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/build"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/deploy"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/gitea"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/resources"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/status"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/webhook"
	"github.com/hjunqq/hydrosim-platform/testutil"
)

var fixedNow = time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)

const deployTriggerToken = "trigger-token"

func newTestServer(t *testutil.T) (*Server, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	t.RequireNoError(err)
	t.Cleanup(func() { db.Close() })
	st := store.NewWithDB(sqlx.NewDb(db, "pgx"))

	manager, err := auth.NewManager(auth.Config{
		Secret:             "0123456789abcdef0123456789abcdef",
		TokenTTL:           time.Hour,
		DeployTriggerToken: deployTriggerToken,
	})
	t.RequireNoError(err)

	cluster := kubernetes.NewFromInterface(fakeclient.NewSimpleClientset())
	return New(Deps{
		Store:       st,
		Auth:        manager,
		Cluster:     cluster,
		Deployer:    deploy.NewController(cluster, resources.Options{}),
		Builds:      build.NewOrchestrator(cluster, nil, build.GitHost{}, nil),
		Statuses:    status.NewAggregator(cluster),
		Intake:      webhook.NewIntake("", nil),
		Gitea:       gitea.NewClient("", ""),
		CORSOrigins: []string{"*"},
	}), mock
}

func doJSON(t *testutil.T, handler http.Handler, method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		t.RequireNoError(err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testutil.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	var decoded map[string]interface{}
	t.RequireNoError(json.Unmarshal(recorder.Body.Bytes(), &decoded))
	return decoded
}

func teacherRows(hash, role string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "password_hash", "email", "full_name", "department", "phone", "role", "is_active", "created_at",
	}).AddRow(int64(3), "prof", hash, nil, nil, nil, nil, role, true, fixedNow)
}

func studentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_code", "name", "password_hash", "project_type", "git_repo_url",
		"expected_image_name", "domain", "teacher_id", "role", "is_active", "created_at",
	}).AddRow(int64(7), "A1", "Alice", nil, "gd", nil, nil, nil, nil, "student", true, fixedNow)
}

func buildRows(status store.BuildStatus, logKey *string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "commit_sha", "branch", "image_tag", "status", "message",
		"job_name", "log_object_key", "started_at", "finished_at", "duration", "created_at",
	}).AddRow(int64(21), int64(7), "0123456789abcdef", "main", "0123456", status, "Build succeeded",
		"build-21-abc123", logKey, fixedNow, fixedNow, int64(90), fixedNow)
}

func TestHealthz(t *testing.T) {
	testutil.Run(t, "reports database and cluster health", func(t *testutil.T) {
		server, mock := newTestServer(t)

		recorder := doJSON(t, server.Router(), http.MethodGet, "/healthz", nil, nil)

		t.CheckDeepEqual(http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		t.CheckDeepEqual("ok", body["status"])
		t.CheckDeepEqual("ok", body["database"])
		t.CheckDeepEqual(true, body["kubernetes"])
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	testutil.Run(t, "valid credentials yield a bearer token", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(teacherRows(hash, "teacher"))

		recorder := doJSON(t, server.Router(), http.MethodPost, "/api/auth/login",
			map[string]string{"username": "prof", "password": "s3cret"}, nil)

		t.CheckDeepEqual(http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		t.CheckDeepEqual("bearer", body["token_type"])
		t.CheckTrue(body["access_token"] != "")
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "wrong password is rejected", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(teacherRows(hash, "teacher"))

		recorder := doJSON(t, server.Router(), http.MethodPost, "/api/auth/login",
			map[string]string{"username": "prof", "password": "nope"}, nil)

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
		t.CheckDeepEqual("Invalid authentication credentials", decodeBody(t, recorder)["detail"])
	})

	testutil.Run(t, "unknown user is rejected", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		recorder := doJSON(t, server.Router(), http.MethodPost, "/api/auth/login",
			map[string]string{"username": "ghost", "password": "s3cret"}, nil)

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
	})
}

func TestAuthGate(t *testing.T) {
	testutil.Run(t, "requests without credentials are rejected", func(t *testutil.T) {
		server, _ := newTestServer(t)

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/status", nil, nil)

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
		t.CheckDeepEqual("Missing authentication credentials", decodeBody(t, recorder)["detail"])
	})

	testutil.Run(t, "wrong deploy token is rejected", func(t *testutil.T) {
		server, _ := newTestServer(t)

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/status", nil,
			map[string]string{"X-Deploy-Token": "wrong"})

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
		t.CheckDeepEqual("Invalid deploy trigger token", decodeBody(t, recorder)["detail"])
	})
}

func TestStatusRoutes(t *testing.T) {
	testutil.Run(t, "deploy token reads a single student status", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, student_code").WillReturnRows(studentRows())

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/status/A1", nil,
			map[string]string{"X-Deploy-Token": deployTriggerToken})

		t.CheckDeepEqual(http.StatusOK, recorder.Code)
		t.CheckDeepEqual("not_deployed", decodeBody(t, recorder)["status"])
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "deploy token cannot list the cluster", func(t *testutil.T) {
		server, _ := newTestServer(t)

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/status", nil,
			map[string]string{"X-Deploy-Token": deployTriggerToken})

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
	})
}

func TestDeleteGate(t *testing.T) {
	testutil.Run(t, "deploy token cannot delete workloads", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, student_code").WillReturnRows(studentRows())

		recorder := doJSON(t, server.Router(), http.MethodDelete, "/api/deploy/A1", nil,
			map[string]string{"X-Deploy-Token": deployTriggerToken})

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
		t.CheckDeepEqual("Deploy token cannot delete resources", decodeBody(t, recorder)["detail"])
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestSettingsRoutes(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	testutil.Run(t, "admin reads settings", func(t *testutil.T) {
		server, mock := newTestServer(t)
		token, err := server.auth.IssueToken("prof", 3)
		t.RequireNoError(err)

		mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(teacherRows(hash, "admin"))
		mock.ExpectQuery("SELECT id, platform_name").WillReturnRows(sqlmock.NewRows([]string{
			"id", "platform_name", "portal_title", "student_domain_prefix",
			"student_domain_base", "build_namespace", "default_registry_id", "default_image_repo_template",
		}).AddRow(int64(1), "Hydrosim Platform", "Hydrosim Portal", "stu-",
			"hydrosim.cn", "hydrosim", nil, nil))

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/settings", nil,
			map[string]string{"Authorization": "Bearer " + token})

		t.CheckDeepEqual(http.StatusOK, recorder.Code)
		t.CheckDeepEqual("Hydrosim Platform", decodeBody(t, recorder)["platform_name"])
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "non-admin teachers cannot manage settings", func(t *testutil.T) {
		server, mock := newTestServer(t)
		token, err := server.auth.IssueToken("prof", 3)
		t.RequireNoError(err)
		mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(teacherRows(hash, "teacher"))

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/settings", nil,
			map[string]string{"Authorization": "Bearer " + token})

		t.CheckDeepEqual(http.StatusForbidden, recorder.Code)
	})
}

func TestBuildRoutes(t *testing.T) {
	testutil.Run(t, "terminal build is returned as recorded", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, student_id").WillReturnRows(
			buildRows(store.BuildSuccess, nil))
		mock.ExpectQuery("SELECT id, student_code").WillReturnRows(studentRows())

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/builds/21", nil,
			map[string]string{"X-Deploy-Token": deployTriggerToken})

		t.CheckDeepEqual(http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		t.CheckDeepEqual("success", body["status"])
		t.CheckDeepEqual(false, body["has_logs"])
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "unknown build yields not found", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, student_id").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/builds/21", nil,
			map[string]string{"X-Deploy-Token": deployTriggerToken})

		t.CheckDeepEqual(http.StatusNotFound, recorder.Code)
		t.CheckDeepEqual("Build not found", decodeBody(t, recorder)["detail"])
	})

	testutil.Run(t, "missing logs yield not found", func(t *testutil.T) {
		server, mock := newTestServer(t)
		mock.ExpectQuery("SELECT id, student_id").WillReturnRows(
			buildRows(store.BuildSuccess, nil))
		mock.ExpectQuery("SELECT id, student_code").WillReturnRows(studentRows())

		recorder := doJSON(t, server.Router(), http.MethodGet, "/api/builds/21/logs", nil,
			map[string]string{"X-Deploy-Token": deployTriggerToken})

		t.CheckDeepEqual(http.StatusNotFound, recorder.Code)
		t.CheckDeepEqual("Build logs not available", decodeBody(t, recorder)["detail"])
	})
}

func TestWebhookRoute(t *testing.T) {
	testutil.Run(t, "non-push events are acknowledged and ignored", func(t *testutil.T) {
		server, _ := newTestServer(t)

		recorder := doJSON(t, server.Router(), http.MethodPost, "/api/webhooks/push",
			map[string]interface{}{"repository": map[string]string{}}, map[string]string{"X-Gitea-Event": "issues"})

		t.CheckDeepEqual(http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		t.CheckDeepEqual(false, body["triggered"])
		t.CheckDeepEqual("Ignored event type", body["msg"])
	})
}
