// Copyright 2024 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2024 Institute of the Czech National Corpus,
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
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var orderColumns = []string{
	"id",
	"customer_id",
	"intake_date",
	"required_date",
	"completion_date",
	"clean_date",
	"treat_date",
	"rush_order",
	"firm_rush",
	"special_instructions",
	"repairs_needed",
	"storage_time",
}

// textSelect builds a column list where each column is converted
// to (non-null) text. Dates are parsed on our side so a single
// malformed value cannot break the whole query.
func textSelect(castFn func(col string) string) string {
	cols := make([]string, len(orderColumns))
	for i, c := range orderColumns {
		cols[i] = fmt.Sprintf("COALESCE(%s, '')", castFn(c))
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var id, customerID, intake, required, completion, clean, treat string
	var rush, firmRush, instructions, repairs, storage string
	err := row.Scan(
		&id, &customerID, &intake, &required, &completion, &clean, &treat,
		&rush, &firmRush, &instructions, &repairs, &storage,
	)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:                  id,
		CustomerID:          customerID,
		IntakeDate:          ParseDate(intake),
		RequiredDate:        ParseDate(required),
		CompletionDate:      ParseDate(completion),
		CleanDate:           ParseDate(clean),
		TreatDate:           ParseDate(treat),
		RushOrder:           parseBool(rush),
		FirmRush:            parseBool(firmRush),
		SpecialInstructions: instructions,
		RepairsNeeded:       repairs,
		StorageTime:         storage,
	}, nil
}

// SQLSource reads orders via database/sql. It supports
// the `mysql` and `sqlite` dialects.
type SQLSource struct {
	db      *sql.DB
	table   string
	dialect string
}

func (src *SQLSource) castFn() func(string) string {
	if src.dialect == "mysql" {
		return func(col string) string { return fmt.Sprintf("CAST(%s AS CHAR)", col) }
	}
	return func(col string) string { return fmt.Sprintf("CAST(%s AS TEXT)", col) }
}

func (src *SQLSource) fetch(ctx context.Context, where string) ([]Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", textSelect(src.castFn()), src.table)
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := src.db.QueryContext(ctx, q)
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

func (src *SQLSource) FetchAll(ctx context.Context) ([]Record, error) {
	return src.fetch(ctx, "")
}

func (src *SQLSource) FetchOpen(ctx context.Context) ([]Record, error) {
	return src.fetch(ctx, "completion_date IS NULL")
}

func (src *SQLSource) Close() error {
	return src.db.Close()
}

// NewSQLSource wraps an already opened database.
func NewSQLSource(db *sql.DB, dialect, table string) *SQLSource {
	return &SQLSource{db: db, dialect: dialect, table: table}
}

func NewSQLiteSource(path, table string) (*SQLSource, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open orders database: %w", err)
	}
	return NewSQLSource(db, "sqlite", table), nil
}

func NewMySQLSource(host, user, pass, dbName, table string) (*SQLSource, error) {
	conf := mysql.NewConfig()
	conf.Net = "tcp"
	conf.Addr = host
	conf.User = user
	conf.Passwd = pass
	conf.DBName = dbName
	conf.ParseTime = false
	conf.Loc = time.Local
	db, err := sql.Open("mysql", conf.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open orders database: %w", err)
	}
	return NewSQLSource(db, "mysql", table), nil
}
