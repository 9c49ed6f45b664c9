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

const settingColumns = `id, platform_name, portal_title, student_domain_prefix,
	student_domain_base, build_namespace, default_registry_id, default_image_repo_template`

// GetSettings returns the singleton settings row, or nil when absent.
func (q *Queries) GetSettings(ctx context.Context) (*SystemSetting, error) {
	var s SystemSetting
	err := sqlx.GetContext(ctx, q.ext, &s,
		`SELECT `+settingColumns+` FROM system_settings ORDER BY id LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSettings creates the singleton settings row with database
// defaults.
func (q *Queries) InsertSettings(ctx context.Context) (*SystemSetting, error) {
	var s SystemSetting
	err := sqlx.GetContext(ctx, q.ext, &s,
		`INSERT INTO system_settings DEFAULT VALUES RETURNING `+settingColumns)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings writes the mutable settings columns.
func (q *Queries) UpdateSettings(ctx context.Context, s *SystemSetting) error {
	_, err := q.ext.ExecContext(ctx,
		`UPDATE system_settings SET
			platform_name = $2, portal_title = $3, student_domain_prefix = $4,
			student_domain_base = $5, build_namespace = $6,
			default_registry_id = $7, default_image_repo_template = $8
		 WHERE id = $1`,
		s.ID, s.PlatformName, s.PortalTitle, s.StudentDomainPrefix,
		s.StudentDomainBase, s.BuildNamespace, s.DefaultRegistryID, s.DefaultImageRepoTemplate)
	return err
}
