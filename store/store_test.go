package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	s, err := NewFileStore(dir, "")
	require.NoError(t, err)
	ctx := context.Background()

	path, err := s.Save(ctx, 3, []int64{1, 2, 3, 5, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sort_3.json"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3,5,7,8]", string(content))

	values, err := s.Load(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5, 7, 8}, values)

	_, err = s.Load(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)

	// Only the result file is left behind.
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1)
}

func TestFileStoreEmptyAndOverwrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "result")
	require.NoError(t, err)
	ctx := context.Background()

	path, err := s.Save(ctx, 0, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "result_0.json"))

	values, err := s.Load(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{}, values)

	s.Save(ctx, 0, []int64{9})
	values, _ = s.Load(ctx, 0)
	assert.Equal(t, []int64{9}, values)
}

func TestFileStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, "")
	os.WriteFile(filepath.Join(dir, "sort_1.json"), []byte("{"), 0644)

	_, err := s.Load(context.Background(), 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	s := NewRedisStore(client, "", time.Minute)
	other := NewRedisStore(client, "", 0)
	assert.NotEqual(t, s.Instance(), other.Instance())

	loc, err := s.Save(ctx, 1, []int64{4, 5})
	require.NoError(t, err)
	assert.Equal(t, "redis:sort:"+s.Instance()+":1", loc)

	values, err := s.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, values)

	// Same TaskID, different dispatcher instance.
	_, err = other.Load(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, time.Minute, mr.TTL("sort:"+s.Instance()+":1"))

	mr.FastForward(2 * time.Minute)
	_, err = s.Load(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, err := NewRedisStore(client, "x", 0).Save(context.Background(), 1, []int64{1})
	assert.Error(t, err)
}
