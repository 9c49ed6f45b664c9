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

// Package store provides typed access to the portal's relational state.
// Accessors run with autocommit so that rows recording an attempt are
// durable before the attempt touches the cluster; multi-statement steps
// that must be atomic go through WithTx.
package store

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
)

// Queries is the accessor surface shared by the pool and transactions.
type Queries struct {
	ext sqlx.ExtContext
}

// Store owns the connection pool.
type Store struct {
	Queries
	db *sqlx.DB
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to database")
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing database handle. Tests use this with a
// sqlmock-backed handle.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{Queries: Queries{ext: db}, db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(&Queries{ext: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Entry(ctx).Warnf("rollback failed: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
