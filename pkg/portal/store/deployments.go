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

	"github.com/jmoiron/sqlx"
)

const deploymentColumns = `id, student_id, build_id, image_tag, status, message,
	last_deploy_time, created_at`

// InsertDeployment persists a new deployment record and fills in its id
// and created_at. The record is written before any cluster mutation so
// that failures stay attributable.
func (q *Queries) InsertDeployment(ctx context.Context, d *Deployment) error {
	row := q.ext.QueryRowxContext(ctx,
		`INSERT INTO deployments (student_id, build_id, image_tag, status, message, last_deploy_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		d.StudentID, d.BuildID, d.Image, d.Status, d.Message, d.LastDeployTime)
	return row.Scan(&d.ID, &d.CreatedAt)
}

// UpdateDeployment writes the record's status, message and deploy time.
func (q *Queries) UpdateDeployment(ctx context.Context, d *Deployment) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE deployments SET status = $2, message = $3, last_deploy_time = $4
		 WHERE id = $1`,
		d.ID, d.Status, d.Message, d.LastDeployTime)
	return err
}

// DeploymentExistsForBuild reports whether any record already
// references the given build. Auto-deploy uses this as its gate.
func (q *Queries) DeploymentExistsForBuild(ctx context.Context, buildID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.ext, &exists,
		`SELECT EXISTS (SELECT 1 FROM deployments WHERE build_id = $1)`, buildID)
	return exists, err
}

// ListDeployments returns deployment records newest first, optionally
// filtered to one student.
func (q *Queries) ListDeployments(ctx context.Context, studentID *int64, limit, offset int) ([]Deployment, error) {
	var records []Deployment
	if studentID != nil {
		err := sqlx.SelectContext(ctx, q.ext, &records,
			`SELECT `+deploymentColumns+` FROM deployments WHERE student_id = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, *studentID, limit, offset)
		return records, err
	}
	err := sqlx.SelectContext(ctx, q.ext, &records,
		`SELECT `+deploymentColumns+` FROM deployments
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return records, err
}
