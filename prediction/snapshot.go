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

package prediction

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
)

var snapshotHeader = []string{
	"order_id",
	"predicted_days",
	"model_name",
	"model_trained_at",
	"generated_at",
}

// SnapshotRow is a single prediction stored in a snapshot.
type SnapshotRow struct {
	OrderID        string    `json:"orderId"`
	PredictedDays  float64   `json:"predictedDays"`
	ModelName      string    `json:"modelName"`
	ModelTrainedAt time.Time `json:"modelTrainedAt"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// Snapshot is an immutable, dated set of predictions.
type Snapshot struct {
	Key  string        `json:"key"`
	Date time.Time     `json:"date"`
	Rows []SnapshotRow `json:"rows"`

	// NumInvalidRows counts stored rows which could not be parsed
	NumInvalidRows int `json:"numInvalidRows"`
}

func EncodeSnapshot(rows []SnapshotRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(snapshotHeader); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	for _, row := range rows {
		err := w.Write([]string{
			row.OrderID,
			strconv.FormatFloat(row.PredictedDays, 'f', 4, 64),
			row.ModelName,
			row.ModelTrainedAt.UTC().Format(time.RFC3339),
			row.GeneratedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode snapshot: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func parseSnapshotRow(rec []string) (SnapshotRow, error) {
	if len(rec) < len(snapshotHeader) {
		return SnapshotRow{}, fmt.Errorf("invalid number of columns: %d", len(rec))
	}
	days, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return SnapshotRow{}, err
	}
	trainedAt, err := time.Parse(time.RFC3339, rec[3])
	if err != nil {
		return SnapshotRow{}, err
	}
	generatedAt, err := time.Parse(time.RFC3339, rec[4])
	if err != nil {
		return SnapshotRow{}, err
	}
	return SnapshotRow{
		OrderID:        rec[0],
		PredictedDays:  days,
		ModelName:      rec[2],
		ModelTrainedAt: trainedAt,
		GeneratedAt:    generatedAt,
	}, nil
}

// DecodeSnapshot parses snapshot data. Rows which cannot be parsed
// are skipped and counted in the second return value.
func DecodeSnapshot(data []byte) ([]SnapshotRow, int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return []SnapshotRow{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if len(header) < len(snapshotHeader) || header[0] != snapshotHeader[0] {
		return nil, 0, fmt.Errorf("failed to decode snapshot: unexpected header")
	}
	ans := make([]SnapshotRow, 0, 128)
	var numInvalid int
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pErr *csv.ParseError
			if errors.As(err, &pErr) {
				numInvalid++
				continue
			}
			return nil, 0, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		row, err := parseSnapshotRow(rec)
		if err != nil {
			numInvalid++
			continue
		}
		ans = append(ans, row)
	}
	return ans, numInvalid, nil
}

// SnapshotInfo identifies a stored snapshot.
type SnapshotInfo struct {
	Key  string    `json:"key"`
	Date time.Time `json:"date"`
}

// ListSnapshots returns stored snapshots sorted by date (oldest first).
// Objects with unexpected keys are ignored.
func ListSnapshots(ctx context.Context, store artifact.Store) ([]SnapshotInfo, error) {
	items, err := store.List(ctx, artifact.PredictionsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	ans := make([]SnapshotInfo, 0, len(items))
	for _, item := range items {
		if d, ok := artifact.SnapshotDateFromKey(item.Key); ok {
			ans = append(ans, SnapshotInfo{Key: item.Key, Date: d})
		}
	}
	sort.Slice(ans, func(i, j int) bool {
		return ans[i].Date.Before(ans[j].Date)
	})
	return ans, nil
}

func ReadSnapshot(ctx context.Context, store artifact.Store, info SnapshotInfo) (*Snapshot, error) {
	data, err := store.Get(ctx, info.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", info.Key, err)
	}
	rows, numInvalid, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", info.Key, err)
	}
	return &Snapshot{
		Key:            info.Key,
		Date:           info.Date,
		Rows:           rows,
		NumInvalidRows: numInvalid,
	}, nil
}
