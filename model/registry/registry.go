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

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/feats"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/huber"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/ridge"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	scheduledTag  = "_cron_"
	nameTimestamp = "20060102T150405"
)

var (
	ErrArtifactUnavailable = errors.New("model artifact unavailable")
	ErrUnknownModelType    = errors.New("unknown model type")
)

// Options configure newly created regressors.
type Options struct {
	RidgeLambda float64
}

// New creates an untrained regressor of the specified type.
func New(modelType string, opts Options) (model.Regressor, error) {
	switch modelType {
	case ridge.ModelType:
		return ridge.NewModel(opts.RidgeLambda), nil
	case huber.ModelType:
		return huber.NewModel(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModelType, modelType)
}

// ModelName creates a versioned artifact base name. Scheduled
// (full data) runs are tagged so they can be preferred on load.
func ModelName(configName, trainingMode string, trainedAt time.Time) string {
	if trainingMode == model.ModeCron {
		return configName + scheduledTag + trainedAt.UTC().Format(nameTimestamp)
	}
	return configName + "_" + trainedAt.UTC().Format(nameTimestamp)
}

func IsScheduled(name string) bool {
	return strings.Contains(name, scheduledTag)
}

// -----

type envelope struct {
	ModelType     string                         `msgpack:"modelType"`
	Params        msgpack.RawMessage             `msgpack:"params"`
	CustomerStats map[string]feats.CustomerStats `msgpack:"customerStats"`
}

// Encode serializes a trained model into the binary object
// and the metadata document.
func Encode(tm *model.TrainedModel) (bin []byte, meta []byte, err error) {
	params, err := msgpack.Marshal(tm.Regressor)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode model: %w", err)
	}
	bin, err = msgpack.Marshal(envelope{
		ModelType:     tm.Regressor.Type(),
		Params:        params,
		CustomerStats: tm.CustomerStats,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode model: %w", err)
	}
	meta, err = json.Marshal(tm.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode model metadata: %w", err)
	}
	return bin, meta, nil
}

// Decode restores a trained model from its two serialized parts.
func Decode(bin, meta []byte) (*model.TrainedModel, error) {
	var env envelope
	if err := msgpack.Unmarshal(bin, &env); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	reg, err := New(env.ModelType, Options{})
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Params, reg); err != nil {
		return nil, fmt.Errorf("failed to decode model params: %w", err)
	}
	var md model.Metadata
	if err := json.Unmarshal(meta, &md); err != nil {
		return nil, fmt.Errorf("failed to decode model metadata: %w", err)
	}
	if len(md.FeatureColumns) == 0 {
		return nil, fmt.Errorf("failed to decode model metadata: no feature columns")
	}
	if env.CustomerStats == nil {
		env.CustomerStats = make(map[string]feats.CustomerStats)
	}
	return &model.TrainedModel{
		Regressor:     reg,
		CustomerStats: env.CustomerStats,
		Metadata:      md,
	}, nil
}

// Publish writes both parts of the model to the store. The binary
// goes first and the metadata acts as a commit marker: only names
// with both parts are ever selected for loading. If the metadata
// cannot be written, the binary is removed again.
// The model's Metadata.Name is set to the artifact base name.
func Publish(ctx context.Context, store artifact.Store, tm *model.TrainedModel) (string, error) {
	name, err := uniqueName(ctx, store, tm.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to publish model: %w", err)
	}
	tm.Metadata.Name = name
	bin, meta, err := Encode(tm)
	if err != nil {
		return "", err
	}
	if err := store.Put(ctx, artifact.ModelKey(name), bin); err != nil {
		return "", fmt.Errorf("failed to publish model: %w", err)
	}
	if err := store.Put(ctx, artifact.MetadataKey(name), meta); err != nil {
		if err2 := store.Delete(ctx, []string{artifact.ModelKey(name)}); err2 != nil {
			log.Error().Err(err2).Str("name", name).Msg("failed to remove incomplete model")
		}
		return "", fmt.Errorf("failed to publish model metadata: %w", err)
	}
	log.Info().
		Str("name", name).
		Int("bytes", len(bin)).
		Str("mode", tm.Metadata.TrainingMode).
		Msg("published model")
	return name, nil
}

// uniqueName returns ModelName unless some artifact (e.g. a run
// finished within the same second) already uses it. In such case
// the run ID (or sub-second time) is appended.
func uniqueName(ctx context.Context, store artifact.Store, md model.Metadata) (string, error) {
	name := ModelName(md.ConfigName, md.TrainingMode, md.TrainedAt)
	items, err := store.List(ctx, artifact.ModelsPrefix+name)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(items))
	for _, item := range items {
		taken[item.Key] = true
	}
	if !taken[artifact.ModelKey(name)] && !taken[artifact.MetadataKey(name)] {
		return name, nil
	}
	suffix := strings.ReplaceAll(md.RunID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix == "" {
		suffix = fmt.Sprintf("%09d", md.TrainedAt.Nanosecond())
	}
	alt := name + "_" + suffix
	if taken[artifact.ModelKey(alt)] || taken[artifact.MetadataKey(alt)] {
		return "", fmt.Errorf("artifact name %s already in use", alt)
	}
	return alt, nil
}

// -----

type modelObject struct {
	name     string
	modified time.Time
}

// listModels returns complete models (binary and metadata
// present), newest first.
func listModels(ctx context.Context, store artifact.Store) ([]modelObject, error) {
	items, err := store.List(ctx, artifact.ModelsPrefix)
	if err != nil {
		return nil, err
	}
	withMeta := make(map[string]bool, len(items)/2)
	for _, item := range items {
		if strings.HasSuffix(item.Key, artifact.MetadataSuffix) {
			withMeta[item.Key] = true
		}
	}
	ans := make([]modelObject, 0, len(items))
	for _, item := range items {
		name, ok := artifact.ModelNameFromKey(item.Key)
		if !ok {
			continue
		}
		if !withMeta[artifact.MetadataKey(name)] {
			log.Debug().Str("name", name).Msg("skipping model without metadata")
			continue
		}
		ans = append(ans, modelObject{name: name, modified: item.LastModified})
	}
	// newest first
	sort.SliceStable(ans, func(i, j int) bool {
		if ans[i].modified.Equal(ans[j].modified) {
			return ans[i].name > ans[j].name
		}
		return ans[i].modified.After(ans[j].modified)
	})
	return ans, nil
}

// SelectLatest picks the newest scheduled run artifact and falls
// back to the newest artifact of any kind.
func SelectLatest(ctx context.Context, store artifact.Store) (string, error) {
	models, err := listModels(ctx, store)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", artifact.ErrNotFound
	}
	for _, m := range models {
		if IsScheduled(m.name) {
			return m.name, nil
		}
	}
	return models[0].name, nil
}

// Load reads a concrete model version.
func Load(ctx context.Context, store artifact.Store, name string) (*model.TrainedModel, error) {
	bin, err := store.Get(ctx, artifact.ModelKey(name))
	if err != nil {
		return nil, err
	}
	meta, err := store.Get(ctx, artifact.MetadataKey(name))
	if err != nil {
		return nil, err
	}
	return Decode(bin, meta)
}

// LoadLatest reads the model selected by SelectLatest. Any failure
// is reported as ErrArtifactUnavailable wrapping the cause.
func LoadLatest(ctx context.Context, store artifact.Store) (*model.TrainedModel, error) {
	name, err := SelectLatest(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactUnavailable, err)
	}
	tm, err := Load(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactUnavailable, name, err)
	}
	return tm, nil
}

// StoreLoader adapts a store to the loader expected by the model cache.
type StoreLoader struct {
	Store artifact.Store
}

func (sl *StoreLoader) LoadLatest(ctx context.Context) (*model.TrainedModel, error) {
	return LoadLatest(ctx, sl.Store)
}

// Cleanup keeps the `keep` newest scheduled run artifacts and deletes
// the older ones along with their metadata in a single batch. Ad hoc
// (interactive) artifacts are not affected.
func Cleanup(ctx context.Context, store artifact.Store, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("failed to clean up models: at least one model must be kept")
	}
	models, err := listModels(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to clean up models: %w", err)
	}
	toDelete := make([]string, 0, 8)
	var numScheduled int
	for _, m := range models {
		if !IsScheduled(m.name) {
			continue
		}
		numScheduled++
		if numScheduled > keep {
			toDelete = append(toDelete, artifact.ModelKey(m.name), artifact.MetadataKey(m.name))
		}
	}
	if len(toDelete) == 0 {
		return toDelete, nil
	}
	if err := store.Delete(ctx, toDelete); err != nil {
		return nil, fmt.Errorf("failed to clean up models: %w", err)
	}
	log.Info().
		Int("deleted", len(toDelete)).
		Int("kept", keep).
		Msg("removed old scheduled models")
	return toDelete, nil
}
