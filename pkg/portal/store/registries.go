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

const registryColumns = `id, name, url, username, password, is_active, created_at`

// GetRegistry returns the registry with the given id, or nil when
// absent.
func (q *Queries) GetRegistry(ctx context.Context, id int64) (*Registry, error) {
	var r Registry
	err := sqlx.GetContext(ctx, q.ext, &r,
		`SELECT `+registryColumns+` FROM registries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRegistries returns every configured registry.
func (q *Queries) ListRegistries(ctx context.Context) ([]Registry, error) {
	var registries []Registry
	err := sqlx.SelectContext(ctx, q.ext, &registries,
		`SELECT `+registryColumns+` FROM registries ORDER BY id`)
	return registries, err
}
