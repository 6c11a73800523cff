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
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps objects as plain string values and maintains
// a sorted set (score = last modification in Unix millis) which
// serves as an index for listing. It allows multiple worker
// processes (and hosts) to share artifacts.
type RedisStore struct {
	client    *redis.Client
	namespace string
	clock     Clock
}

func (rs *RedisStore) SetClock(clock Clock) {
	rs.clock = clock
}

func (rs *RedisStore) dataKey(key string) string {
	return rs.namespace + ":obj:" + key
}

func (rs *RedisStore) indexKey() string {
	return rs.namespace + ":objects"
}

func (rs *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	modified := rs.clock()
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rs.dataKey(key), data, 0)
		pipe.ZAdd(ctx, rs.indexKey(), redis.Z{
			Score:  float64(modified.UnixMilli()),
			Member: key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}
	return nil
}

func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ans, err := rs.client.Get(ctx, rs.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return ans, nil
}

func (rs *RedisStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	items, err := rs.client.ZRangeWithScores(ctx, rs.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	ans := make([]ObjectInfo, 0, len(items))
	for _, item := range items {
		key, ok := item.Member.(string)
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		ans = append(ans, ObjectInfo{
			Key:          key,
			LastModified: time.UnixMilli(int64(item.Score)).UTC(),
		})
	}
	sortByKey(ans)
	return ans, nil
}

func (rs *RedisStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	dataKeys := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		dataKeys[i] = rs.dataKey(k)
		members[i] = k
	}
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, dataKeys...)
		pipe.ZRem(ctx, rs.indexKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		clock:     time.Now,
	}
}
