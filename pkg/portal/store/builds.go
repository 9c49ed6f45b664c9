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

const buildColumns = `id, student_id, commit_sha, branch, image_tag, status, message,
	job_name, log_object_key, started_at, finished_at, duration, created_at`

// InsertBuild persists a new build row and fills in its id and
// created_at.
func (q *Queries) InsertBuild(ctx context.Context, b *Build) error {
	row := q.ext.QueryRowxContext(ctx,
		`INSERT INTO builds (student_id, commit_sha, branch, image_tag, status, message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		b.StudentID, b.CommitSHA, b.Branch, b.ImageTag, b.Status, b.Message)
	return row.Scan(&b.ID, &b.CreatedAt)
}

// GetBuild returns the build with the given id, or nil when absent.
func (q *Queries) GetBuild(ctx context.Context, id int64) (*Build, error) {
	var b Build
	err := sqlx.GetContext(ctx, q.ext, &b,
		`SELECT `+buildColumns+` FROM builds WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBuilds returns builds newest first, optionally filtered to one
// student.
func (q *Queries) ListBuilds(ctx context.Context, studentID *int64, limit, offset int) ([]Build, error) {
	var builds []Build
	if studentID != nil {
		err := sqlx.SelectContext(ctx, q.ext, &builds,
			`SELECT `+buildColumns+` FROM builds WHERE student_id = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, *studentID, limit, offset)
		return builds, err
	}
	err := sqlx.SelectContext(ctx, q.ext, &builds,
		`SELECT `+buildColumns+` FROM builds
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return builds, err
}

// UpdateBuild writes the mutable build columns.
func (q *Queries) UpdateBuild(ctx context.Context, b *Build) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE builds SET
			image_tag = $2, status = $3, message = $4, job_name = $5,
			started_at = $6, finished_at = $7, duration = $8
		 WHERE id = $1`,
		b.ID, b.ImageTag, b.Status, b.Message, b.JobName,
		b.StartedAt, b.FinishedAt, b.Duration)
	return err
}

// SetBuildLogKey backfills the log object key exactly once. The key of
// a terminal build is never overwritten.
func (q *Queries) SetBuildLogKey(ctx context.Context, id int64, key string) (bool, error) {
	res, err := q.ext.ExecContext(ctx,
		`UPDATE builds SET log_object_key = $2
		 WHERE id = $1 AND log_object_key IS NULL`, id, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
