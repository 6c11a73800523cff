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

package feats

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
)

const (
	OrderAgeDays       = "order_age_days"
	IntakeMonth        = "intake_month"
	IntakeDow          = "intake_dow"
	IntakeQuarter      = "intake_quarter"
	IntakeIsWeekend    = "intake_is_weekend"
	RushOrder          = "rush_order"
	FirmRush           = "firm_rush"
	RushAny            = "rush_any"
	InstructionsLen    = "instructions_len"
	HasInstructions    = "has_instructions"
	RepairsLen         = "repairs_len"
	HasRepairs         = "has_repairs"
	DaysUntilRequired  = "days_until_required"
	StorageDays        = "storage_days"
	HasCleanDate       = "has_clean_date"
	HasTreatDate       = "has_treat_date"
	DaysToClean        = "days_to_clean"
	DaysToTreat        = "days_to_treat"
	CustomerMeanDays   = "customer_mean_days"
	CustomerStdDays    = "customer_std_days"
	CustomerOrderCount = "customer_order_count"

	// NoRequiredDateSentinel is used for days_until_required
	// when an order has no (parseable) required date.
	NoRequiredDateSentinel = 999.0
)

var names = []string{
	OrderAgeDays,
	IntakeMonth,
	IntakeDow,
	IntakeQuarter,
	IntakeIsWeekend,
	RushOrder,
	FirmRush,
	RushAny,
	InstructionsLen,
	HasInstructions,
	RepairsLen,
	HasRepairs,
	DaysUntilRequired,
	StorageDays,
	HasCleanDate,
	HasTreatDate,
	DaysToClean,
	DaysToTreat,
	CustomerMeanDays,
	CustomerStdDays,
	CustomerOrderCount,
}

// progressFields are values which only exist (or keep growing)
// once the work on an order has started. They are never known
// at the time a prediction is made for a new order.
var progressFields = []string{
	OrderAgeDays,
	HasCleanDate,
	HasTreatDate,
	DaysToClean,
	DaysToTreat,
}

var customerFields = []string{
	CustomerMeanDays,
	CustomerStdDays,
	CustomerOrderCount,
}

// Names returns all the declared feature names in a stable order.
func Names() []string {
	return append([]string{}, names...)
}

func ProgressFields() []string {
	return append([]string{}, progressFields...)
}

func IsProgressField(name string) bool {
	for _, v := range progressFields {
		if v == name {
			return true
		}
	}
	return false
}

// -----

// Vector is a named set of numeric features derived from
// a single order.
type Vector struct {
	OrderID    string             `json:"orderId"`
	CustomerID string             `json:"customerId"`
	Values     map[string]float64 `json:"values"`
}

func (v Vector) Get(name string) float64 {
	return v.Values[name]
}

// Clone creates a deep copy of the vector.
func (v Vector) Clone() Vector {
	values := make(map[string]float64, len(v.Values))
	for k, val := range v.Values {
		values[k] = val
	}
	return Vector{OrderID: v.OrderID, CustomerID: v.CustomerID, Values: values}
}

// Project aligns the vector to the provided column order.
// Missing columns are filled with zero, extra ones are ignored.
func (v Vector) Project(columns []string) []float64 {
	ans := make([]float64, len(columns))
	for i, c := range columns {
		ans[i] = v.Values[c]
	}
	return ans
}

// ResetProgress sets all the progress dependent fields to their
// order-creation-time values (i.e. zero).
func (v Vector) ResetProgress() {
	for _, f := range progressFields {
		v.Values[f] = 0
	}
}

// HasProgress tells whether any of the progress dependent fields
// carries a value.
func (v Vector) HasProgress() bool {
	for _, f := range progressFields {
		if v.Values[f] != 0 {
			return true
		}
	}
	return false
}

// Empty is true if the vector carries no information derived
// from the order itself (the required date sentinel and the
// customer aggregates are not taken into account).
func (v Vector) Empty() bool {
	for _, n := range names {
		if n == DaysUntilRequired {
			if v.Values[n] != NoRequiredDateSentinel {
				return false
			}
			continue
		}
		if isCustomerField(n) {
			continue
		}
		if v.Values[n] != 0 {
			return false
		}
	}
	return true
}

func (v Vector) AsJSONString() string {
	ans, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to serialize feats.Vector: %s", err))
	}
	return string(ans)
}

func isCustomerField(name string) bool {
	for _, v := range customerFields {
		if v == name {
			return true
		}
	}
	return false
}

// -----

var storageRegexp = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)`)

// parseStorageDays converts free text like "30 days", "2 weeks" or "3 mo"
// into a number of days. Anything unrecognized yields zero.
func parseStorageDays(v string) float64 {
	m := storageRegexp.FindStringSubmatch(v)
	if m == nil {
		return 0
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "w"):
		return num * 7
	case strings.HasPrefix(unit, "mo"):
		return num * 30
	case strings.HasPrefix(unit, "y"):
		return num * 365
	}
	return num
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// EngineerOne derives features of a single order. The asOf
// argument is the only time reference used (e.g. for the order age).
// Missing or unparseable dates never produce an error, they resolve
// to neutral values instead.
func EngineerOne(rec orders.Record, asOf time.Time) Vector {
	values := make(map[string]float64, len(names))
	for _, n := range names {
		values[n] = 0
	}

	if rec.IntakeDate != nil {
		intake := *rec.IntakeDate
		values[OrderAgeDays] = math.Max(0, daysBetween(intake, asOf))
		values[IntakeMonth] = float64(intake.Month())
		values[IntakeDow] = float64(intake.Weekday())
		values[IntakeQuarter] = float64((int(intake.Month())-1)/3 + 1)
		values[IntakeIsWeekend] = boolToFloat(
			intake.Weekday() == time.Saturday || intake.Weekday() == time.Sunday)
		if rec.CleanDate != nil {
			values[DaysToClean] = daysBetween(intake, *rec.CleanDate)
		}
		if rec.TreatDate != nil {
			values[DaysToTreat] = daysBetween(intake, *rec.TreatDate)
		}
	}
	values[HasCleanDate] = boolToFloat(rec.CleanDate != nil)
	values[HasTreatDate] = boolToFloat(rec.TreatDate != nil)

	values[RushOrder] = boolToFloat(rec.RushOrder)
	values[FirmRush] = boolToFloat(rec.FirmRush)
	values[RushAny] = boolToFloat(rec.RushOrder || rec.FirmRush)

	instr := strings.TrimSpace(rec.SpecialInstructions)
	values[InstructionsLen] = float64(len([]rune(instr)))
	values[HasInstructions] = boolToFloat(instr != "")
	repairs := strings.TrimSpace(rec.RepairsNeeded)
	values[RepairsLen] = float64(len([]rune(repairs)))
	values[HasRepairs] = boolToFloat(repairs != "")

	values[DaysUntilRequired] = NoRequiredDateSentinel
	if rec.RequiredDate != nil && rec.IntakeDate != nil {
		values[DaysUntilRequired] = daysBetween(*rec.IntakeDate, *rec.RequiredDate)
	}
	values[StorageDays] = parseStorageDays(rec.StorageTime)

	for k, v := range values {
		values[k] = finite(v)
	}
	return Vector{
		OrderID:    rec.ID,
		CustomerID: rec.CustomerID,
		Values:     values,
	}
}

// Engineer derives features for all the provided orders.
func Engineer(recs []orders.Record, asOf time.Time) []Vector {
	ans := make([]Vector, len(recs))
	for i, rec := range recs {
		ans[i] = EngineerOne(rec, asOf)
	}
	return ans
}
