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

package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/artifact"
	"github.com/andrewimpellitteri/awning-wo-sub000/cache"
	"github.com/andrewimpellitteri/awning-wo-sub000/metrics"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/andrewimpellitteri/awning-wo-sub000/model/registry"
	"github.com/andrewimpellitteri/awning-wo-sub000/orders"
	"github.com/rs/zerolog/log"
)

// Trainer runs the whole training procedure: it reads the order
// history, trains a model, publishes it to the artifact store and
// puts it into the local model cache. Nothing is published when
// training fails.
type Trainer struct {
	source  orders.Source
	store   artifact.Store
	cache   *cache.ModelCache
	options Options
	clock   func() time.Time

	// mu serializes training runs within the process. Prediction
	// requests do not touch it.
	mu sync.Mutex
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrNoFeatures):
		return "no_features"
	}
	return "error"
}

func (tr *Trainer) Run(ctx context.Context, mode string) (*model.TrainedModel, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t0 := time.Now()
	tm, err := tr.run(ctx, mode)
	metrics.TrainingDuration.Observe(time.Since(t0).Seconds())
	metrics.TrainingRuns.WithLabelValues(mode, outcomeLabel(err)).Inc()
	if err != nil {
		log.Error().Err(err).Str("mode", mode).Msg("training failed")
		return nil, err
	}
	return tm, nil
}

func (tr *Trainer) run(ctx context.Context, mode string) (*model.TrainedModel, error) {
	history, err := tr.source.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read order history: %w", err)
	}
	tm, err := Train(ctx, history, mode, tr.clock(), tr.options)
	if err != nil {
		return nil, err
	}
	if _, err := registry.Publish(ctx, tr.store, tm); err != nil {
		return nil, err
	}
	if tr.cache != nil {
		tr.cache.Put(tm)
	}
	return tm, nil
}

func NewTrainer(
	source orders.Source,
	store artifact.Store,
	modelCache *cache.ModelCache,
	options Options,
	clock func() time.Time,
) *Trainer {
	if clock == nil {
		clock = time.Now
	}
	return &Trainer{
		source:  source,
		store:   store,
		cache:   modelCache,
		options: options,
		clock:   clock,
	}
}
