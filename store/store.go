/*
Package store keeps the results of scatter/gather tasks.

A ResultStore is an output sink: results are written after a task has completed, and a failed
write does not fail the task.
*/
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cd "github.com/dermesser/clusterdispatch"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Returned by Load for a task without stored result.
var ErrNotFound = errors.New("store: no result for task")

type ResultStore interface {
	// Save stores values as the result of task and returns where they were stored.
	Save(ctx context.Context, task cd.TaskID, values []int64) (string, error)
	Load(ctx context.Context, task cd.TaskID) ([]int64, error)
}

// Default file name prefix and Redis key prefix.
const DEFAULT_PREFIX = "sort"

/*
FileStore writes every result as a JSON array to its own file, <dir>/<prefix>_<task>.json.
TaskIDs restart with the process, so a restarted dispatcher overwrites older files.
*/
type FileStore struct {
	dir, prefix string
}

// Create a FileStore in dir. The directory is created if necessary.
func NewFileStore(dir, prefix string) (*FileStore, error) {
	if prefix == "" {
		prefix = DEFAULT_PREFIX
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &FileStore{dir: dir, prefix: prefix}, nil
}

func (s *FileStore) path(task cd.TaskID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.json", s.prefix, task))
}

// Writes to a temporary file first, so that readers never see a partial result.
func (s *FileStore) Save(_ context.Context, task cd.TaskID, values []int64) (string, error) {
	if values == nil {
		values = []int64{}
	}

	buf, err := json.Marshal(values)

	if err != nil {
		return "", err
	}

	path := s.path(task)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*")

	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}

	_, err = tmp.Write(buf)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}

	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store: writing %s: %w", path, err)
	}
	return path, nil
}

func (s *FileStore) Load(_ context.Context, task cd.TaskID) ([]int64, error) {
	buf, err := os.ReadFile(s.path(task))

	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var values []int64
	if err = json.Unmarshal(buf, &values); err != nil {
		return nil, fmt.Errorf("store: %s: %w", s.path(task), err)
	}
	return values, nil
}

/*
RedisStore keeps results as JSON strings under <prefix>:<instance>:<task>. The instance is a
random UUID chosen when the store is created, so that the results of different dispatcher
processes (whose TaskIDs overlap) don't collide. The caller owns the client.
*/
type RedisStore struct {
	client   redis.Cmdable
	prefix   string
	instance string
	ttl      time.Duration
}

// Create a RedisStore. A ttl of 0 keeps results forever.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DEFAULT_PREFIX
	}
	return &RedisStore{client: client, prefix: prefix, instance: uuid.NewString(), ttl: ttl}
}

func (s *RedisStore) Instance() string {
	return s.instance
}

func (s *RedisStore) key(task cd.TaskID) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, s.instance, task)
}

func (s *RedisStore) Save(ctx context.Context, task cd.TaskID, values []int64) (string, error) {
	if values == nil {
		values = []int64{}
	}

	buf, err := json.Marshal(values)

	if err != nil {
		return "", err
	}

	key := s.key(task)

	if err = s.client.Set(ctx, key, buf, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store: set %s: %w", key, err)
	}
	return "redis:" + key, nil
}

func (s *RedisStore) Load(ctx context.Context, task cd.TaskID) ([]int64, error) {
	buf, err := s.client.Get(ctx, s.key(task)).Bytes()

	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", s.key(task), err)
	}

	var values []int64
	if err = json.Unmarshal(buf, &values); err != nil {
		return nil, fmt.Errorf("store: %s: %w", s.key(task), err)
	}
	return values, nil
}

var _ ResultStore = (*FileStore)(nil)
var _ ResultStore = (*RedisStore)(nil)
