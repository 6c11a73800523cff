// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgSource reads orders from PostgreSQL using a connection pool.
type PgSource struct {
	pool  *pgxpool.Pool
	table string
}

func (src *PgSource) fetch(ctx context.Context, where string) ([]Record, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM %s",
		textSelect(func(col string) string { return col + "::text" }),
		src.table,
	)
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := src.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	defer rows.Close()

	ans := make([]Record, 0, 256)
	var numSkipped int
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			numSkipped++
			continue
		}
		ans = append(ans, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	if numSkipped > 0 {
		log.Warn().Int("skipped", numSkipped).Str("table", src.table).Msg("some order rows could not be read")
	}
	return ans, nil
}

func (src *PgSource) FetchAll(ctx context.Context) ([]Record, error) {
	return src.fetch(ctx, "")
}

func (src *PgSource) FetchOpen(ctx context.Context) ([]Record, error) {
	return src.fetch(ctx, "completion_date IS NULL")
}

func (src *PgSource) Close() {
	src.pool.Close()
}

func NewPgSource(ctx context.Context, dsn, table string) (*PgSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to orders database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to orders database: %w", err)
	}
	return &PgSource{pool: pool, table: table}, nil
}
