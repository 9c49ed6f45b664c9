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

package auth

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/actor"
	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/testutil"
)

var fixedNow = time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)

func mockQueries(t *testutil.T) (*store.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	t.RequireNoError(err)
	t.Cleanup(func() { db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "pgx")), mock
}

func expectTeacher(mock sqlmock.Sqlmock, role string, active bool) {
	mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(sqlmock.NewRows([]string{
		"id", "username", "password_hash", "email", "full_name", "department", "phone", "role", "is_active", "created_at",
	}).AddRow(int64(3), "prof", "$2a$10$hash", nil, nil, nil, nil, role, active, fixedNow))
}

func expectNoTeacher(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT id, username, password_hash").WillReturnRows(sqlmock.NewRows([]string{"id"}))
}

func expectStudentByCode(mock sqlmock.Sqlmock, active bool) {
	mock.ExpectQuery("SELECT id, student_code").WillReturnRows(sqlmock.NewRows([]string{
		"id", "student_code", "name", "password_hash", "project_type", "git_repo_url",
		"expected_image_name", "domain", "teacher_id", "role", "is_active", "created_at",
	}).AddRow(int64(7), "A1", "Alice", nil, "gd", nil, nil, nil, nil, "student", active, fixedNow))
}

func TestTokenRoundTrip(t *testing.T) {
	testutil.Run(t, "issued token verifies with its claims", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager, err := NewManager(Config{Secret: "s3cret"})
		t.RequireNoError(err)

		token, err := manager.IssueToken("prof", 3)
		t.RequireNoError(err)

		claims, err := manager.VerifyToken(token)
		t.RequireNoError(err)
		t.CheckDeepEqual("prof", claims.Subject)
		t.CheckDeepEqual(int64(3), claims.UserID)
	})

	testutil.Run(t, "expired token rejected", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager, err := NewManager(Config{Secret: "s3cret", TokenTTL: time.Minute})
		t.RequireNoError(err)
		token, err := manager.IssueToken("prof", 3)
		t.RequireNoError(err)

		t.Override(&timeNow, func() time.Time { return fixedNow.Add(2 * time.Minute) })
		_, err = manager.VerifyToken(token)

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.Forbidden))
	})

	testutil.Run(t, "token signed with another secret rejected", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		other, err := NewManager(Config{Secret: "other"})
		t.RequireNoError(err)
		token, err := other.IssueToken("prof", 3)
		t.RequireNoError(err)

		manager, err := NewManager(Config{Secret: "s3cret"})
		t.RequireNoError(err)
		_, err = manager.VerifyToken(token)

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.Forbidden))
	})
}

func TestResolve(t *testing.T) {
	newManager := func(t *testutil.T, deployToken string) *Manager {
		manager, err := NewManager(Config{Secret: "s3cret", DeployTriggerToken: deployToken})
		t.RequireNoError(err)
		return manager
	}

	testutil.Run(t, "teacher subject resolves to teacher actor", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager := newManager(t, "")
		st, mock := mockQueries(t)
		expectTeacher(mock, "teacher", true)
		token, err := manager.IssueToken("prof", 3)
		t.RequireNoError(err)

		a, err := manager.Resolve(context.Background(), &st.Queries, token, "")

		t.RequireNoError(err)
		t.CheckDeepEqual(actor.Actor{Kind: actor.Teacher, ID: 3}, a)
	})

	testutil.Run(t, "admin role outranks teacher kind", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager := newManager(t, "")
		st, mock := mockQueries(t)
		expectTeacher(mock, "admin", true)
		token, err := manager.IssueToken("prof", 3)
		t.RequireNoError(err)

		a, err := manager.Resolve(context.Background(), &st.Queries, token, "")

		t.RequireNoError(err)
		t.CheckDeepEqual(actor.Admin, a.Kind)
	})

	testutil.Run(t, "student code subject resolves to student actor", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager := newManager(t, "")
		st, mock := mockQueries(t)
		expectNoTeacher(mock)
		expectStudentByCode(mock, true)
		token, err := manager.IssueToken("A1", 0)
		t.RequireNoError(err)

		a, err := manager.Resolve(context.Background(), &st.Queries, token, "")

		t.RequireNoError(err)
		t.CheckDeepEqual(actor.Actor{Kind: actor.Student, ID: 7, StudentCode: "A1"}, a)
	})

	testutil.Run(t, "inactive user rejected", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager := newManager(t, "")
		st, mock := mockQueries(t)
		expectTeacher(mock, "teacher", false)
		token, err := manager.IssueToken("prof", 3)
		t.RequireNoError(err)

		_, err = manager.Resolve(context.Background(), &st.Queries, token, "")

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.Forbidden))
		t.CheckDeepEqual("Inactive user", portalerrors.MessageOf(err))
	})

	testutil.Run(t, "unknown subject rejected", func(t *testutil.T) {
		t.Override(&timeNow, func() time.Time { return fixedNow })
		manager := newManager(t, "")
		st, mock := mockQueries(t)
		expectNoTeacher(mock)
		mock.ExpectQuery("SELECT id, student_code").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		token, err := manager.IssueToken("ghost", 0)
		t.RequireNoError(err)

		_, err = manager.Resolve(context.Background(), &st.Queries, token, "")

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.Forbidden))
	})

	testutil.Run(t, "deploy trigger token resolves without a bearer", func(t *testutil.T) {
		manager := newManager(t, "trigger-secret")

		a, err := manager.Resolve(context.Background(), nil, "", "trigger-secret")

		t.RequireNoError(err)
		t.CheckDeepEqual(actor.DeployToken, a.Kind)
	})

	testutil.Run(t, "wrong deploy trigger token rejected", func(t *testutil.T) {
		manager := newManager(t, "trigger-secret")

		_, err := manager.Resolve(context.Background(), nil, "", "guess")

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.Forbidden))
		t.CheckDeepEqual("Invalid deploy trigger token", portalerrors.MessageOf(err))
	})

	testutil.Run(t, "no credentials at all", func(t *testutil.T) {
		manager := newManager(t, "")

		_, err := manager.Resolve(context.Background(), nil, "", "")

		t.CheckTrue(portalerrors.IsKind(err, portalerrors.Forbidden))
		t.CheckDeepEqual("Missing authentication credentials", portalerrors.MessageOf(err))
	})
}

func TestPassword(t *testing.T) {
	testutil.Run(t, "hash verifies and rejects the wrong password", func(t *testutil.T) {
		hash, err := HashPassword("correct horse")
		t.RequireNoError(err)

		t.CheckTrue(CheckPassword("correct horse", hash))
		t.CheckFalse(CheckPassword("battery staple", hash))
	})
}
