// Package storage is the persistent key/value layer behind run history and
// the manifest cache. Keys live in buckets; iteration within a bucket is in
// key order.
package storage

import "errors"

var ErrNotFound = errors.New("not found")

type Store interface {
	Put(bucket, key string, value []byte) error
	Get(bucket, key string) ([]byte, error)
	ForEach(bucket string, fn func(key, value []byte) error) error
	Delete(bucket, key string) error
	Close() error
}
