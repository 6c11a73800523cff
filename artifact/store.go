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

package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andrewimpellitteri/awning-wo-sub000/cnf"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	ModelsPrefix      = "models/"
	PredictionsPrefix = "predictions/"

	ModelExt        = ".msgpack"
	MetadataSuffix  = "_metadata.json"
	SnapshotExt     = ".csv"
	SnapshotDateFmt = "2006-01-02"
)

var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its data.
type ObjectInfo struct {
	Key          string    `json:"key"`
	LastModified time.Time `json:"lastModified"`
}

// Store is a durable object store. Newer versions of an artifact
// are distinguished only by the last modification time.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error

	// Get returns ErrNotFound if there is no such key
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all the objects with keys starting with prefix,
	// sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes all the keys in a single operation. Missing keys
	// are ignored.
	Delete(ctx context.Context, keys []string) error
}

// Clock provides the current time. Stores use it to set
// the last modification time of written objects.
type Clock func() time.Time

// -----

func ModelKey(name string) string {
	return ModelsPrefix + name + ModelExt
}

func MetadataKey(name string) string {
	return ModelsPrefix + name + MetadataSuffix
}

func SnapshotKey(date time.Time) string {
	return PredictionsPrefix + date.Format(SnapshotDateFmt) + SnapshotExt
}

// ModelNameFromKey extracts the model base name from a binary model key.
// The second value is false for keys not representing a binary model.
func ModelNameFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, ModelsPrefix) || !strings.HasSuffix(key, ModelExt) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, ModelsPrefix), ModelExt), true
}

// SnapshotDateFromKey parses the date part of a snapshot key.
func SnapshotDateFromKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, PredictionsPrefix) || !strings.HasSuffix(key, SnapshotExt) {
		return time.Time{}, false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(key, PredictionsPrefix), SnapshotExt)
	t, err := time.Parse(SnapshotDateFmt, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sortByKey(items []ObjectInfo) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})
}

// -----

type timeoutStore struct {
	store   Store
	timeout time.Duration
}

func (ts *timeoutStore) Put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()
	return ts.store.Put(ctx, key, data)
}

func (ts *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()
	return ts.store.Get(ctx, key)
}

func (ts *timeoutStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()
	return ts.store.List(ctx, prefix)
}

func (ts *timeoutStore) Delete(ctx context.Context, keys []string) error {
	ctx, cancel := context.WithTimeout(ctx, ts.timeout)
	defer cancel()
	return ts.store.Delete(ctx, keys)
}

// WithTimeout bounds each store operation by the provided timeout.
func WithTimeout(store Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return store
	}
	return &timeoutStore{store: store, timeout: timeout}
}

// Open creates a store based on configuration. The returned function
// should be called to release the store's resources.
func Open(conf cnf.ArtifactStoreConf) (Store, func() error, error) {
	var store Store
	closeFn := func() error { return nil }
	switch conf.Type {
	case "memory":
		store = NewMemoryStore()
	case "badger":
		bs, err := OpenBadgerStore(conf.Path)
		if err != nil {
			return nil, nil, err
		}
		store = bs
		closeFn = bs.Close
	case "redis":
		opts, err := redis.ParseURL(conf.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse artifact store URL: %w", err)
		}
		client := redis.NewClient(opts)
		store = NewRedisStore(client, conf.Namespace)
		closeFn = client.Close
	default:
		return nil, nil, fmt.Errorf("unsupported artifact store type '%s'", conf.Type)
	}
	log.Info().
		Str("type", conf.Type).
		Dur("timeout", conf.Timeout()).
		Msg("opened artifact store")
	return WithTimeout(store, conf.Timeout()), closeFn, nil
}
