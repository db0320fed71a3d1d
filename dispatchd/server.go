package main

import (
	"context"
	"fmt"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/api"
	"github.com/dermesser/clusterdispatch/config"
	"github.com/dermesser/clusterdispatch/counter"
	"github.com/dermesser/clusterdispatch/dispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/store"
	"github.com/dermesser/clusterdispatch/transport"
	"github.com/dermesser/clusterdispatch/worker"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	localWorkers int
	accessLog    bool

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Run the dispatcher and its HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}
)

func init() {
	serverCmd.Flags().IntVar(&localWorkers, "local-workers", 0,
		"Run this many workers in-process instead of connecting to the configured ones")
	serverCmd.Flags().BoolVar(&accessLog, "access-log", false, "Log every HTTP request")
	rootCmd.AddCommand(serverCmd)
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := setup()

	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, err := redisClient(ctx, cfg)

	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	c := sharedCounter(cfg, client)

	params := dispatch.NewParams().
		Timeout(cfg.Timeout).
		Retries(cfg.Retries).
		DeadlinePropagation(true).
		CallerID("dispatchd")

	var d *dispatch.Dispatcher

	if localWorkers > 0 {
		d, err = startLocalPool(ctx, cfg, localWorkers, c, params)
	} else if cfg.Pattern == config.PATTERN_BROADCAST {
		d, err = newBroadcastDispatcher(cfg, params)
	} else {
		d, err = newDirectDispatcher(cfg, params)
	}

	if err != nil {
		return err
	}
	defer d.Close()

	waitReady(ctx, d, cfg.Heartbeat)

	rs, err := resultStore(cfg, client)

	if err != nil {
		return err
	}

	svc := dispatch.NewService(d, dispatch.NewCoordinator(d, "", rs), c)
	srv := api.New(svc, api.Options{RateLimit: cfg.RateLimit, RateBurst: cfg.RateBurst, AccessLog: accessLog})

	return srv.ListenAndServe(ctx, cfg.HTTPAddr)
}

// Logs which workers have not announced themselves after a few heartbeats. Tasks to those workers
// will likely time out.
func waitReady(ctx context.Context, d *dispatch.Dispatcher, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = config.DEFAULT_HEARTBEAT
	}

	rctx, cancel := context.WithTimeout(ctx, 3*heartbeat)
	defer cancel()

	if err := d.WaitReady(rctx); err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Starting anyway:", err.Error())
	}
}

// Where sorted results are written: files if output_dir is set, else Redis if configured.
func resultStore(cfg *config.Config, client *redis.Client) (store.ResultStore, error) {
	switch {
	case cfg.OutputDir != "":
		return store.NewFileStore(cfg.OutputDir, "")
	case client != nil:
		return store.NewRedisStore(client, "", cfg.Redis.ResultTTL), nil
	}
	return nil, nil
}

func newBroadcastDispatcher(cfg *config.Config, params *dispatch.Params) (*dispatch.Dispatcher, error) {
	sec, err := serverSecurity(cfg)

	if err != nil {
		return nil, err
	}
	security := transport.Security{Server: sec}

	pub, err := transport.NewPubChannel(cfg.TaskEndpoint, true, security)

	if err != nil {
		return nil, err
	}

	sub, err := transport.NewSubChannel(cfg.ResultEndpoint, true, security)

	if err != nil {
		pub.Close()
		return nil, err
	}
	return dispatch.NewBroadcast(cfg.WorkerIDs(), pub, sub, cfg.GetCodec(), params)
}

func newDirectDispatcher(cfg *config.Config, params *dispatch.Params) (*dispatch.Dispatcher, error) {
	sec, err := clientSecurity(cfg)

	if err != nil {
		return nil, err
	}

	peers := make([]dispatch.Peer, 0, len(cfg.Workers))

	for _, w := range cfg.Workers {
		req, err := transport.NewReqChannel(w.Endpoint, cfg.Timeout, transport.Security{Client: sec})

		if err != nil {
			for _, p := range peers {
				p.Channel.Close()
			}
			return nil, fmt.Errorf("%s: %w", w.ID, err)
		}
		peers = append(peers, dispatch.Peer{ID: w.ID, Channel: req})
	}
	return dispatch.NewDirect(peers, cfg.GetCodec(), params)
}

// Runs n workers with IDs 0..n-1 in this process, connected to the dispatcher by buses. They stop
// when ctx is canceled.
func startLocalPool(ctx context.Context, cfg *config.Config, n int, c counter.Counter, params *dispatch.Params) (*dispatch.Dispatcher, error) {
	tasks, replies := transport.NewBus(0), transport.NewBus(0)
	codec := cfg.GetCodec()
	ids := make([]cd.WorkerID, n)

	for i := range ids {
		ids[i] = cd.WorkerID(i)
		w := worker.New(ids[i], codec)
		w.SetHeartbeat(cfg.Heartbeat)

		if err := worker.RegisterStandardOps(w, c); err != nil {
			return nil, err
		}

		go func() {
			if err := w.ServeBroadcast(tasks.Subscriber(), replies); err != nil {
				log.Log(log.LOGLEVEL_ERRORS, w.ID(), "stopped:", err.Error())
			}
		}()
		go func() {
			<-ctx.Done()
			w.Stop()
		}()
	}

	log.Log(log.LOGLEVEL_INFO, "Started", n, "local workers")
	return dispatch.NewBroadcast(ids, tasks, replies.Subscriber(), codec, params)
}
