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
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data     []byte
	modified time.Time
}

// MemoryStore keeps objects in process memory. It is meant for tests
// and for single process development setups.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	clock   Clock
}

func (ms *MemoryStore) SetClock(clock Clock) {
	ms.mu.Lock()
	ms.clock = clock
	ms.mu.Unlock()
}

func (ms *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.objects[key] = memObject{
		data:     append([]byte{}, data...),
		modified: ms.clock(),
	}
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	obj, ok := ms.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, obj.data...), nil
}

func (ms *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	ans := make([]ObjectInfo, 0, len(ms.objects))
	for k, obj := range ms.objects {
		if strings.HasPrefix(k, prefix) {
			ans = append(ans, ObjectInfo{Key: k, LastModified: obj.modified})
		}
	}
	sortByKey(ans)
	return ans, nil
}

func (ms *MemoryStore) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, k := range keys {
		delete(ms.objects, k)
	}
	return nil
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		clock:   time.Now,
	}
}
