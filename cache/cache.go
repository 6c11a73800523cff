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

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/metrics"
	"github.com/andrewimpellitteri/awning-wo-sub000/model"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL         = 300 * time.Second
	DefaultLoadTimeout = 10 * time.Second

	StateEmpty     = "empty"
	StatePopulated = "populated"
	StateExpired   = "expired"
)

// ErrUnavailable means there is no model to serve. Callers should
// treat it as "no model has been trained yet".
var ErrUnavailable = errors.New("no model available")

// Loader fetches the currently active model from a durable store.
type Loader interface {
	LoadLatest(ctx context.Context) (*model.TrainedModel, error)
}

type entry struct {
	model    *model.TrainedModel
	loadedAt time.Time
}

// Status is a snapshot of the cache state.
type Status struct {
	State      string          `json:"state"`
	AgeSecs    float64         `json:"ageSecs"`
	TTLSecs    float64         `json:"ttlSecs"`
	LoadedAt   *time.Time      `json:"loadedAt,omitempty"`
	Metadata   *model.Metadata `json:"metadata,omitempty"`
	LastError  string          `json:"lastError,omitempty"`
	ModelInfo  string          `json:"modelInfo,omitempty"`
	StaleServe bool            `json:"staleServe"`
}

// ModelCache is a per-process, time bounded holder of the active
// model. Different processes do not share it, a newly published
// model becomes visible here once the TTL expires.
//
// At most one refill runs at a time and it runs without holding
// the mutex. While it is in flight, callers get the expired model
// right away if there is one; callers of an empty cache wait for
// the refill. After a failed refill no new attempt is made until
// retryAfter.
type ModelCache struct {
	mu          sync.Mutex
	curr        *entry
	loader      Loader
	ttl         time.Duration
	loadTimeout time.Duration
	clock       func() time.Time
	lastErr     error
	staleServe  bool
	refilling   *refill
	retryAfter  time.Time
	numPuts     int
}

// refill is a single in-flight load shared by all the callers
// which missed the cache while it runs.
type refill struct {
	done    chan struct{}
	model   *model.TrainedModel
	err     error
	numPuts int
}

func (mc *ModelCache) serveStale(cause error) *model.TrainedModel {
	mc.staleServe = true
	log.Warn().
		Err(cause).
		Time("loadedAt", mc.curr.loadedAt).
		Msg("failed to refresh model, serving the expired one")
	return mc.curr.model
}

// Get returns the cached model if it is younger than TTL without
// any I/O. Otherwise it performs at most one load attempt shared by
// all concurrent callers. If the attempt fails (or is still running),
// a previously loaded (expired) model is returned if available,
// else ErrUnavailable.
func (mc *ModelCache) Get(ctx context.Context) (*model.TrainedModel, error) {
	mc.mu.Lock()
	now := mc.clock()
	if mc.curr != nil && now.Sub(mc.curr.loadedAt) < mc.ttl {
		tm := mc.curr.model
		mc.mu.Unlock()
		metrics.CacheHits.Inc()
		return tm, nil
	}
	metrics.CacheMisses.Inc()

	if mc.refilling == nil && now.Before(mc.retryAfter) {
		defer mc.mu.Unlock()
		if mc.curr != nil {
			mc.staleServe = true
			return mc.curr.model, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, mc.lastErr)
	}

	if r := mc.refilling; r != nil {
		if mc.curr != nil {
			mc.staleServe = true
			tm := mc.curr.model
			mc.mu.Unlock()
			return tm, nil
		}
		mc.mu.Unlock()
		return mc.waitFor(ctx, r)
	}

	r := &refill{done: make(chan struct{}), numPuts: mc.numPuts}
	mc.refilling = r
	mc.mu.Unlock()

	// the shared load must not die with the caller which started it
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mc.loadTimeout)
	r.model, r.err = mc.loader.LoadLatest(loadCtx)
	cancel()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.refilling = nil
	defer close(r.done)
	if mc.numPuts != r.numPuts && mc.curr != nil {
		// a model trained by this process arrived meanwhile
		r.model, r.err = mc.curr.model, nil
		return r.model, nil
	}
	if r.err != nil {
		metrics.CacheRefillFailures.Inc()
		mc.lastErr = r.err
		mc.retryAfter = mc.clock().Add(mc.loadTimeout)
		if mc.curr != nil {
			return mc.serveStale(r.err), nil
		}
		log.Warn().Err(r.err).Msg("failed to load model")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, r.err)
	}
	mc.curr = &entry{model: r.model, loadedAt: mc.clock()}
	mc.lastErr = nil
	mc.staleServe = false
	mc.retryAfter = time.Time{}
	log.Info().
		Str("name", r.model.Metadata.Name).
		Time("trainedAt", r.model.Metadata.TrainedAt).
		Msg("loaded model into cache")
	return r.model, nil
}

func (mc *ModelCache) waitFor(ctx context.Context, r *refill) (*model.TrainedModel, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, r.err)
	}
	return r.model, nil
}

// Put replaces the cached entry with a freshly trained model so the
// process which trained it does not need to go through the store.
func (mc *ModelCache) Put(tm *model.TrainedModel) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.curr = &entry{model: tm, loadedAt: mc.clock()}
	mc.lastErr = nil
	mc.staleServe = false
	mc.retryAfter = time.Time{}
	mc.numPuts++
}

// Invalidate drops the current entry.
func (mc *ModelCache) Invalidate() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.curr = nil
}

func (mc *ModelCache) TTL() time.Duration {
	return mc.ttl
}

func (mc *ModelCache) Status() Status {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	ans := Status{
		State:      StateEmpty,
		TTLSecs:    mc.ttl.Seconds(),
		StaleServe: mc.staleServe,
	}
	if mc.lastErr != nil {
		ans.LastError = mc.lastErr.Error()
	}
	if mc.curr == nil {
		return ans
	}
	age := mc.clock().Sub(mc.curr.loadedAt)
	ans.AgeSecs = age.Seconds()
	ans.State = StatePopulated
	if age >= mc.ttl {
		ans.State = StateExpired
	}
	loadedAt := mc.curr.loadedAt
	ans.LoadedAt = &loadedAt
	md := mc.curr.model.Metadata
	ans.Metadata = &md
	ans.ModelInfo = mc.curr.model.Regressor.GetInfo()
	return ans
}

// -----

type Option func(mc *ModelCache)

func WithTTL(ttl time.Duration) Option {
	return func(mc *ModelCache) {
		if ttl > 0 {
			mc.ttl = ttl
		}
	}
}

func WithLoadTimeout(timeout time.Duration) Option {
	return func(mc *ModelCache) {
		if timeout > 0 {
			mc.loadTimeout = timeout
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(mc *ModelCache) {
		mc.clock = clock
	}
}

func NewModelCache(loader Loader, opts ...Option) *ModelCache {
	mc := &ModelCache{
		loader:      loader,
		ttl:         DefaultTTL,
		loadTimeout: DefaultLoadTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(mc)
	}
	return mc
}
