// dispatchd runs the parts of a pool: the dispatcher with its HTTP API, workers, and a helper to
// generate CURVE keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dermesser/clusterdispatch/config"
	"github.com/dermesser/clusterdispatch/counter"
	"github.com/dermesser/clusterdispatch/log"
	smgr "github.com/dermesser/clusterdispatch/securitymanager"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	loglevel   string
	devLog     bool

	rootCmd = &cobra.Command{
		Use:           "dispatchd",
		Short:         "Distribute tasks over a pool of workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the pool configuration (YAML)")
	rootCmd.PersistentFlags().StringVar(&loglevel, "loglevel", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "Human-readable log output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dispatchd:", err)
		os.Exit(1)
	}
}

// Loads the configuration and sets up logging.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)

	if err != nil {
		return nil, err
	}

	if loglevel != "" {
		cfg.Loglevel = loglevel
	}

	ll, err := log.ParseLoglevel(cfg.Loglevel)

	if err != nil {
		return nil, err
	}
	log.SetLoglevel(ll)

	if devLog {
		l, err := zap.NewDevelopment(zap.AddCallerSkip(1))

		if err != nil {
			return nil, err
		}
		log.SetLogger(l)
	}
	return cfg, nil
}

// Returns a context that is canceled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Returns nil if no Redis server is configured.
func redisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	log.Log(log.LOGLEVEL_INFO, "Connected to Redis at", cfg.Redis.Addr)
	return client, nil
}

// The shared counter: in Redis if configured, otherwise local to this process.
func sharedCounter(cfg *config.Config, client *redis.Client) counter.Counter {
	if client == nil {
		return counter.NewLocal()
	}
	return counter.NewRedis(client, cfg.Redis.Key)
}

// CURVE settings for sockets this process binds. nil if security is disabled.
func serverSecurity(cfg *config.Config) (*smgr.ServerSecurityManager, error) {
	return smgr.LoadServer(cfg.Security.KeyFiles())
}

// CURVE settings for sockets this process connects. nil if security is disabled.
func clientSecurity(cfg *config.Config) (*smgr.ClientSecurityManager, error) {
	return smgr.LoadClient(cfg.Security.KeyFiles())
}
