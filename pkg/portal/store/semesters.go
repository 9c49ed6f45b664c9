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

// ListSemesters returns all semesters, active first.
func (q *Queries) ListSemesters(ctx context.Context) ([]Semester, error) {
	var semesters []Semester
	err := sqlx.SelectContext(ctx, q.ext, &semesters,
		`SELECT id, name, start_date, end_date, is_active
		 FROM semesters ORDER BY is_active DESC, start_date DESC`)
	return semesters, err
}
