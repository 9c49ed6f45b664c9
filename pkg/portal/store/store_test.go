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

package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/hjunqq/hydrosim-platform/testutil"
)

func mockStore(t *testutil.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	t.RequireNoError(err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "pgx")), mock
}

func TestGetStudentByCode(t *testing.T) {
	testutil.Run(t, "row is mapped", func(t *testutil.T) {
		st, mock := mockStore(t)
		created := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
		rows := sqlmock.NewRows([]string{
			"id", "student_code", "name", "password_hash", "project_type", "git_repo_url",
			"expected_image_name", "domain", "teacher_id", "role", "is_active", "created_at",
		}).AddRow(int64(7), "A1", "Alice", nil, "gd", "git@git.example.com:alice/app.git",
			nil, "stu-a1.gd.hydrosim.cn", int64(3), "student", true, created)
		mock.ExpectQuery("SELECT id, student_code").WithArgs("A1").WillReturnRows(rows)

		student, err := st.GetStudentByCode(context.Background(), "A1")

		t.RequireNoError(err)
		t.CheckDeepEqual(int64(7), student.ID)
		t.CheckDeepEqual(ProjectGD, student.ProjectType)
		t.CheckDeepEqual("stu-a1.gd.hydrosim.cn", *student.Domain)
		t.CheckDeepEqual(int64(3), *student.TeacherID)
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "absent student yields nil without error", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectQuery("SELECT id, student_code").WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		student, err := st.GetStudentByCode(context.Background(), "missing")

		t.CheckNoError(err)
		t.CheckTrue(student == nil)
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestInsertBuild(t *testing.T) {
	testutil.Run(t, "id and created_at are filled in", func(t *testutil.T) {
		st, mock := mockStore(t)
		created := time.Date(2025, 10, 2, 12, 30, 0, 0, time.UTC)
		tag := "deadbee"
		msg := "Initializing..."
		mock.ExpectQuery("INSERT INTO builds").
			WithArgs(int64(7), "deadbeefcafef00d", "main", &tag, BuildPending, &msg).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

		b := &Build{
			StudentID: 7,
			CommitSHA: "deadbeefcafef00d",
			Branch:    "main",
			ImageTag:  &tag,
			Status:    BuildPending,
			Message:   &msg,
		}
		err := st.InsertBuild(context.Background(), b)

		t.RequireNoError(err)
		t.CheckDeepEqual(int64(42), b.ID)
		t.CheckDeepEqual(created, b.CreatedAt)
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestSetBuildLogKey(t *testing.T) {
	testutil.Run(t, "first write sets the key", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectExec("UPDATE builds SET log_object_key").
			WithArgs(int64(42), "builds/42/build-42-abc123.log").
			WillReturnResult(sqlmock.NewResult(0, 1))

		set, err := st.SetBuildLogKey(context.Background(), 42, "builds/42/build-42-abc123.log")

		t.CheckNoError(err)
		t.CheckTrue(set)
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "second write is a no-op", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectExec("UPDATE builds SET log_object_key").
			WithArgs(int64(42), "builds/42/other.log").
			WillReturnResult(sqlmock.NewResult(0, 0))

		set, err := st.SetBuildLogKey(context.Background(), 42, "builds/42/other.log")

		t.CheckNoError(err)
		t.CheckFalse(set)
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestDeploymentExistsForBuild(t *testing.T) {
	testutil.Run(t, "reports an existing reference", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := st.DeploymentExistsForBuild(context.Background(), 42)

		t.CheckNoError(err)
		t.CheckTrue(exists)
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestGetSettings(t *testing.T) {
	testutil.Run(t, "absent singleton yields nil without error", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectQuery("SELECT id, platform_name").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		settings, err := st.GetSettings(context.Background())

		t.CheckNoError(err)
		t.CheckTrue(settings == nil)
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}

func TestBuildStatusTerminal(t *testing.T) {
	tests := []struct {
		status   BuildStatus
		terminal bool
	}{
		{BuildPending, false},
		{BuildRunning, false},
		{BuildSuccess, true},
		{BuildFailed, true},
		{BuildError, true},
		{BuildCancelled, true},
	}
	for _, test := range tests {
		testutil.Run(t, string(test.status), func(t *testutil.T) {
			t.CheckDeepEqual(test.terminal, test.status.Terminal())
		})
	}
}

func TestEnsureAdminTeacher(t *testing.T) {
	testutil.Run(t, "first start creates the account", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectExec("INSERT INTO teachers").
			WithArgs("teacher", "$2a$10$hash").
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := st.EnsureAdminTeacher(context.Background(), "teacher", "$2a$10$hash")

		t.RequireNoError(err)
		t.CheckTrue(created)
		t.CheckNoError(mock.ExpectationsWereMet())
	})

	testutil.Run(t, "existing account is left untouched", func(t *testutil.T) {
		st, mock := mockStore(t)
		mock.ExpectExec("INSERT INTO teachers").
			WithArgs("teacher", "$2a$10$hash").
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := st.EnsureAdminTeacher(context.Background(), "teacher", "$2a$10$hash")

		t.RequireNoError(err)
		t.CheckFalse(created)
		t.CheckNoError(mock.ExpectationsWereMet())
	})
}
