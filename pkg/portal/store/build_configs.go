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
	"time"

	"github.com/jmoiron/sqlx"
)

const buildConfigColumns = `student_id, repo_url, branch, dockerfile_path, context_path,
	registry_id, image_repo, tag_strategy, auto_build, auto_deploy,
	deploy_key_public, deploy_key_private, deploy_key_fingerprint, deploy_key_created_at,
	created_at, updated_at`

// GetBuildConfig returns a student's build configuration, or nil when
// absent.
func (q *Queries) GetBuildConfig(ctx context.Context, studentID int64) (*BuildConfig, error) {
	var c BuildConfig
	err := sqlx.GetContext(ctx, q.ext, &c,
		`SELECT `+buildConfigColumns+` FROM build_configs WHERE student_id = $1`, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListBuildConfigs returns every build configuration. The webhook
// intake scans these to match incoming repository URLs.
func (q *Queries) ListBuildConfigs(ctx context.Context) ([]BuildConfig, error) {
	var configs []BuildConfig
	err := sqlx.SelectContext(ctx, q.ext, &configs,
		`SELECT `+buildConfigColumns+` FROM build_configs ORDER BY student_id`)
	return configs, err
}

// EnsureBuildConfig creates an empty configuration for the student if
// none exists and returns the current row.
func (q *Queries) EnsureBuildConfig(ctx context.Context, studentID int64) (*BuildConfig, error) {
	_, err := q.ext.ExecContext(ctx,
		`INSERT INTO build_configs (student_id) VALUES ($1)
		 ON CONFLICT (student_id) DO NOTHING`, studentID)
	if err != nil {
		return nil, err
	}
	return q.GetBuildConfig(ctx, studentID)
}

// SaveBuildConfig writes the mutable configuration columns.
func (q *Queries) SaveBuildConfig(ctx context.Context, c *BuildConfig) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE build_configs SET
			repo_url = $2, branch = $3, dockerfile_path = $4, context_path = $5,
			registry_id = $6, image_repo = $7, tag_strategy = $8,
			auto_build = $9, auto_deploy = $10, updated_at = now()
		 WHERE student_id = $1`,
		c.StudentID, c.RepoURL, c.Branch, c.DockerfilePath, c.ContextPath,
		c.RegistryID, c.ImageRepo, c.TagStrategy, c.AutoBuild, c.AutoDeploy)
	return err
}

// SetDeployKey stores a freshly generated deploy key pair.
func (q *Queries) SetDeployKey(ctx context.Context, studentID int64, publicKey, privateKey, fingerprint string, createdAt time.Time) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE build_configs SET
			deploy_key_public = $2, deploy_key_private = $3,
			deploy_key_fingerprint = $4, deploy_key_created_at = $5, updated_at = now()
		 WHERE student_id = $1`,
		studentID, publicKey, privateKey, fingerprint, createdAt)
	return err
}
