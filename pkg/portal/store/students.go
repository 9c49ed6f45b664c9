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
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const studentColumns = `id, student_code, name, password_hash, project_type, git_repo_url,
	expected_image_name, domain, teacher_id, role, is_active, created_at`

// GetStudent returns the student with the given id, or nil when absent.
func (q *Queries) GetStudent(ctx context.Context, id int64) (*Student, error) {
	var s Student
	err := sqlx.GetContext(ctx, q.ext, &s,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStudentByCode returns the student with the given code, or nil when
// absent.
func (q *Queries) GetStudentByCode(ctx context.Context, code string) (*Student, error) {
	var s Student
	err := sqlx.GetContext(ctx, q.ext, &s,
		`SELECT `+studentColumns+` FROM students WHERE student_code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStudentDomain persists the student's public domain.
func (q *Queries) UpdateStudentDomain(ctx context.Context, id int64, domain string) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE students SET domain = $2 WHERE id = $1`, id, domain)
	return err
}

// ListStudentCodesByTeacher returns the codes of all students owned by
// a teacher.
func (q *Queries) ListStudentCodesByTeacher(ctx context.Context, teacherID int64) ([]string, error) {
	var codes []string
	err := sqlx.SelectContext(ctx, q.ext, &codes,
		`SELECT student_code FROM students WHERE teacher_id = $1 ORDER BY student_code`, teacherID)
	return codes, err
}
