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
	"strings"
	"time"
)

// Record is a work order as seen by the turnaround model.
// It is produced by the order management subsystem and must
// never be mutated here.
type Record struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`

	IntakeDate     *time.Time `json:"intakeDate,omitempty"`
	RequiredDate   *time.Time `json:"requiredDate,omitempty"`
	CompletionDate *time.Time `json:"completionDate,omitempty"`

	// CleanDate and TreatDate are progress fields. They are known
	// only after the work has begun.
	CleanDate *time.Time `json:"cleanDate,omitempty"`
	TreatDate *time.Time `json:"treatDate,omitempty"`

	RushOrder           bool   `json:"rushOrder"`
	FirmRush            bool   `json:"firmRush"`
	SpecialInstructions string `json:"specialInstructions"`
	RepairsNeeded       string `json:"repairsNeeded"`
	StorageTime         string `json:"storageTime"`
}

func (r Record) IsClosed() bool {
	return r.CompletionDate != nil
}

// DurationDays returns completion - intake in (fractional) days.
// The second value is false for open orders or orders without
// an intake date.
func (r Record) DurationDays() (float64, bool) {
	if r.CompletionDate == nil || r.IntakeDate == nil {
		return 0, false
	}
	return r.CompletionDate.Sub(*r.IntakeDate).Hours() / 24, true
}

// Source is the read-only order query interface.
type Source interface {
	FetchAll(ctx context.Context) ([]Record, error)
	FetchOpen(ctx context.Context) ([]Record, error)
}

// -----

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// ParseDate parses a date as found in the order tables.
// Historical data contain a mixture of formats and some garbage,
// so instead of returning an error, nil is returned for anything
// unparseable.
func ParseDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return &t
		}
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}

// FilterOpen returns orders without a completion date.
func FilterOpen(recs []Record) []Record {
	ans := make([]Record, 0, len(recs))
	for _, r := range recs {
		if !r.IsClosed() {
			ans = append(ans, r)
		}
	}
	return ans
}

// IndexByID creates a map of orders by their identifiers.
func IndexByID(recs []Record) map[string]Record {
	ans := make(map[string]Record, len(recs))
	for _, r := range recs {
		ans[r.ID] = r
	}
	return ans
}

// StaticSource serves a fixed set of orders. It is used for
// tests and for running the pipeline over exported data.
type StaticSource struct {
	Records []Record
}

func (src *StaticSource) FetchAll(ctx context.Context) ([]Record, error) {
	return append([]Record{}, src.Records...), nil
}

func (src *StaticSource) FetchOpen(ctx context.Context) ([]Record, error) {
	return FilterOpen(src.Records), nil
}
