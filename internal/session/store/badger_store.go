// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
)

// BadgerStore is the default durable session store:
// - sessions: key = "sess:<id>" (JSON)
// - sync writes so a commit is on disk before the call returns
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) the store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %v", ErrStorage, path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func sessionKey(id int) []byte {
	return []byte("sess:" + strconv.Itoa(id))
}

func (s *BadgerStore) Put(ctx context.Context, rec *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode session %d: %v", ErrStorage, rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(rec.ID), buf)
	})
	if err != nil {
		return fmt.Errorf("%w: commit session %d: %v", ErrStorage, rec.ID, err)
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, id int) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read session %d: %v", ErrStorage, id, err)
	}
	return &out, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]*model.Session, error) {
	prefix := []byte("sess:")
	var list []*model.Session
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec model.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			list = append(list, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorage, err)
	}
	return list, nil
}

func (s *BadgerStore) UpdateStateAndCommit(ctx context.Context, id int, ev lifecycle.EventKind, errMsg string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out model.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: session %d", lifecycle.ErrUnknownSession, id)
			}
			return fmt.Errorf("%w: read session %d: %v", ErrStorage, id, err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return fmt.Errorf("%w: decode session %d: %v", ErrStorage, id, err)
		}
		if err := lifecycle.Apply(&out, ev, errMsg); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("%w: encode session %d: %v", ErrStorage, id, err)
		}
		return txn.Set(sessionKey(id), buf)
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrWrongState) || errors.Is(err, lifecycle.ErrUnknownSession) || errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: commit session %d: %v", ErrStorage, id, err)
	}
	return &out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
	if err != nil {
		return fmt.Errorf("%w: delete session %d: %v", ErrStorage, id, err)
	}
	return nil
}
