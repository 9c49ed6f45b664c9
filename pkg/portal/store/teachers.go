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

// GetTeacherByUsername returns the teacher with the given username, or
// nil when absent.
func (q *Queries) GetTeacherByUsername(ctx context.Context, username string) (*Teacher, error) {
	var t Teacher
	err := sqlx.GetContext(ctx, q.ext, &t,
		`SELECT id, username, password_hash, email, full_name, department, phone, role, is_active, created_at
		 FROM teachers WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EnsureAdminTeacher creates the bootstrap admin account if no teacher
// with the given username exists. Existing accounts are left untouched
// so operator password changes survive restarts.
func (q *Queries) EnsureAdminTeacher(ctx context.Context, username, passwordHash string) (bool, error) {
	result, err := q.ext.ExecContext(ctx,
		`INSERT INTO teachers (username, password_hash, role, is_active)
		 VALUES ($1, $2, 'admin', TRUE)
		 ON CONFLICT (username) DO NOTHING`, username, passwordHash)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
