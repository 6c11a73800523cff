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
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	objectPrefix   byte = 0x00
	timeHeaderSize      = 16
)

func encodeObjectKey(key string) []byte {
	ans := make([]byte, 1+len(key))
	ans[0] = objectPrefix
	copy(ans[1:], key)
	return ans
}

func decodeObjectKey(k []byte) string {
	return string(k[1:])
}

// encodeValue stores modification time (8 bytes of seconds + 8 bytes
// of nanoseconds, big endian, UTC) followed by the object data.
func encodeValue(t time.Time, data []byte) []byte {
	buf := make([]byte, timeHeaderSize+len(data))
	utc := t.UTC()
	binary.BigEndian.PutUint64(buf[0:8], uint64(utc.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(utc.Nanosecond()))
	copy(buf[timeHeaderSize:], data)
	return buf
}

func decodeTime(data []byte) (time.Time, error) {
	if len(data) < timeHeaderSize {
		return time.Time{}, fmt.Errorf("invalid value length: expected at least %d, got %d", timeHeaderSize, len(data))
	}
	seconds := int64(binary.BigEndian.Uint64(data[0:8]))
	nanoseconds := int64(binary.BigEndian.Uint64(data[8:16]))
	return time.Unix(seconds, nanoseconds).UTC(), nil
}

// BadgerStore is an embedded artifact store. As Badger allows only
// one process to open a database, it fits single node deployments.
type BadgerStore struct {
	bdb   *badger.DB
	clock Clock
}

func (bs *BadgerStore) SetClock(clock Clock) {
	bs.clock = clock
}

// Close closes the internal Badger database.
// It is possible to call the method on nil instance
// in which case it is a NOP.
func (bs *BadgerStore) Close() error {
	if bs != nil && bs.bdb != nil {
		return bs.bdb.Close()
	}
	return nil
}

func (bs *BadgerStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := bs.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeObjectKey(key), encodeValue(bs.clock(), data))
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}
	return nil
}

func (bs *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ans []byte
	err := bs.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeObjectKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < timeHeaderSize {
				return fmt.Errorf("corrupted object value")
			}
			ans = append([]byte{}, val[timeHeaderSize:]...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return ans, nil
}

func (bs *BadgerStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ans := make([]ObjectInfo, 0, 16)
	err := bs.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = encodeObjectKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var modified time.Time
			err := item.Value(func(val []byte) error {
				var err error
				modified, err = decodeTime(val)
				return err
			})
			if err != nil {
				return err
			}
			ans = append(ans, ObjectInfo{
				Key:          decodeObjectKey(item.KeyCopy(nil)),
				LastModified: modified,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return ans, nil
}

func (bs *BadgerStore) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := bs.bdb.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(encodeObjectKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}

func newBadgerStore(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}
	return &BadgerStore{bdb: db, clock: time.Now}, nil
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	return newBadgerStore(
		badger.DefaultOptions(path).
			WithValueLogFileSize(256 << 20).
			WithNumMemtables(4),
	)
}

// OpenInMemoryBadgerStore creates a non-persistent Badger store.
func OpenInMemoryBadgerStore() (*BadgerStore, error) {
	return newBadgerStore(badger.DefaultOptions("").WithInMemory(true))
}
