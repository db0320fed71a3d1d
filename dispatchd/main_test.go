package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dermesser/clusterdispatch/config"
	"github.com/dermesser/clusterdispatch/counter"
	smgr "github.com/dermesser/clusterdispatch/securitymanager"
	"github.com/dermesser/clusterdispatch/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	pub, priv := filepath.Join(dir, "pub.txt"), filepath.Join(dir, "priv.txt")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"keygen", "--pub", pub, "--priv", priv})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "Generating key pair"))

	// The generated files configure a server and a client.
	cfg := config.Default()
	cfg.Security = config.Security{PublicKey: pub, PrivateKey: priv, ServerPublicKey: pub}

	server, err := serverSecurity(cfg)
	require.NoError(t, err)
	client, err := clientSecurity(cfg)
	require.NoError(t, err)
	assert.Equal(t, server.GetPublicKey(), client.GetPublicKey())
}

func TestSecurityDisabled(t *testing.T) {
	cfg := config.Default()

	server, err := serverSecurity(cfg)
	assert.NoError(t, err)
	assert.Nil(t, server)

	client, err := clientSecurity(cfg)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestClientSecurityNeedsServerKey(t *testing.T) {
	dir := t.TempDir()
	pub, priv := filepath.Join(dir, "pub.txt"), filepath.Join(dir, "priv.txt")
	require.NoError(t, smgr.NewClientSecurityManager().WriteKeys(pub, priv))

	cfg := config.Default()
	cfg.Security = config.Security{PublicKey: pub, PrivateKey: priv}

	_, err := clientSecurity(cfg)
	assert.ErrorContains(t, err, "server's public key")
}

func TestRedisBackedComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Key = "pool:counter"

	client, err := redisClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	c := sharedCounter(cfg, client)
	require.IsType(t, &counter.Redis{}, c)
	_, err = c.Add(ctx, 3)
	require.NoError(t, err)
	got, err := mr.Get("pool:counter")
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	rs, err := resultStore(cfg, client)
	require.NoError(t, err)
	assert.IsType(t, &store.RedisStore{}, rs)

	cfg.OutputDir = t.TempDir()
	rs, err = resultStore(cfg, client)
	require.NoError(t, err)
	assert.IsType(t, &store.FileStore{}, rs)
}

func TestWithoutRedis(t *testing.T) {
	cfg := config.Default()

	client, err := redisClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, client)

	assert.IsType(t, &counter.Local{}, sharedCounter(cfg, nil))

	rs, err := resultStore(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, rs)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	_, err := redisClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLocalPool(t *testing.T) {
	cfg := config.Default()
	cfg.Heartbeat = 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := startLocalPool(ctx, cfg, 3, counter.NewLocal(), nil)
	require.NoError(t, err)
	defer d.Close()

	waitReady(ctx, d, 0)

	result, err := d.SubmitTask(ctx, "square", []byte("12"))
	require.NoError(t, err)
	assert.Equal(t, "144", string(result))
}
