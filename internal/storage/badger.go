package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ipsix/coresum/internal/logging"
)

type BadgerStore struct {
	db *badger.DB
}

type Options struct {
	Path string
	// EncryptionKeyBase64 enables encryption at rest with a 32 byte key.
	EncryptionKeyBase64 string
	// InMemory keeps everything in memory; Path is ignored.
	InMemory bool
	Logger   *logging.Logger
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	return Open(Options{Path: path})
}

func Open(o Options) (*BadgerStore, error) {
	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if o.Path == "" {
			return nil, fmt.Errorf("storage path is required")
		}
		opts = badger.DefaultOptions(o.Path)
	}
	opts = opts.WithLogger(badgerLogger{logger: o.Logger})
	if o.EncryptionKeyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(o.EncryptionKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("decode encryption key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes")
		}
		opts = opts.WithEncryptionKey(key).WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Put(bucket, key string, value []byte) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(bucket, key), value)
	})
}

func (b *BadgerStore) Get(bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(bucket, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) ForEach(bucket string, fn func(key, value []byte) error) error {
	if bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	prefix := []byte(bucket + "/")
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)[len(prefix):]
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Delete(bucket, key string) error {
	if bucket == "" || key == "" {
		return fmt.Errorf("bucket and key are required")
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(bucket, key))
	})
}

// RunGC reclaims value log space after deletions. Having nothing to collect
// is not an error.
func (b *BadgerStore) RunGC() error {
	err := b.db.RunValueLogGC(0.5)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) ||
		errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func (b *BadgerStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func makeKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

// badgerLogger forwards badger's own diagnostics, dropping info chatter.
type badgerLogger struct {
	logger *logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(trim(format, args...), logging.Field{Key: "component", Value: "badger"})
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(trim(format, args...), logging.Field{Key: "component", Value: "badger"})
}

func (l badgerLogger) Infof(string, ...interface{}) {}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(trim(format, args...), logging.Field{Key: "component", Value: "badger"})
}

func trim(format string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
