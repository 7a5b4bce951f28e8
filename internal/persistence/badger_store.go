package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the embedded BadgerDB implementation of Store.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewInMemoryBadgerStore opens a BadgerDB instance that lives only in memory.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	// Badger 自带的日志关闭, 错误仍由操作返回
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := getTxn(txn, key)
		out = v
		return err
	})
	return out, err
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setTxn(txn, key, value, ttl)
	})
}

func (s *BadgerStore) Delete(_ context.Context, keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// Update retries on transaction conflicts.
func (s *BadgerStore) Update(_ context.Context, _ []string, fn func(tx Tx) error) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(badgerTx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Close gracefully closes the connection to the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerTx struct {
	txn *badger.Txn
}

func (t badgerTx) Get(key string) ([]byte, error) { return getTxn(t.txn, key) }

func (t badgerTx) Set(key string, value []byte, ttl time.Duration) error {
	return setTxn(t.txn, key, value, ttl)
}

func (t badgerTx) Delete(key string) error { return t.txn.Delete([]byte(key)) }

func getTxn(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func setTxn(txn *badger.Txn, key string, value []byte, ttl time.Duration) error {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}
