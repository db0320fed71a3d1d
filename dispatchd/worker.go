package main

import (
	"fmt"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/config"
	"github.com/dermesser/clusterdispatch/counter"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/transport"
	"github.com/dermesser/clusterdispatch/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workerID   uint32
	trafficLog bool

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run one worker of the pool",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
)

func init() {
	workerCmd.Flags().Uint32Var(&workerID, "id", 0, "ID of this worker, as configured for the dispatcher")
	workerCmd.Flags().BoolVar(&trafficLog, "traffic-log", false, "Log every task and reply")
	workerCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := setup()

	if err != nil {
		return err
	}

	id := cd.WorkerID(workerID)
	wcfg, known := cfg.Worker(id)

	if !known {
		log.Log(log.LOGLEVEL_WARNINGS, id, "is not configured; the dispatcher will not send tasks to it")
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, err := redisClient(ctx, cfg)

	if err != nil {
		return err
	}

	// Without Redis, a counter would only count this worker's increments.
	var c counter.Counter
	if client != nil {
		defer client.Close()
		c = sharedCounter(cfg, client)
	} else {
		log.Log(log.LOGLEVEL_WARNINGS, "No Redis configured; the increment operation is not available")
	}

	w := worker.New(id, cfg.GetCodec())
	w.SetHeartbeat(cfg.Heartbeat)

	if trafficLog {
		l, err := zap.NewProduction()

		if err != nil {
			return err
		}
		w.SetTrafficLogger(l)
	}

	if err = worker.RegisterStandardOps(w, c); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		log.Log(log.LOGLEVEL_INFO, id, "shutting down")
		w.SetLameduck(true)
		w.Stop()
	}()

	if cfg.Pattern == config.PATTERN_BROADCAST {
		return serveBroadcast(cfg, w)
	}

	if wcfg.Endpoint == "" {
		return fmt.Errorf("%s has no endpoint", id)
	}
	return serveDirect(cfg, w, wcfg.Endpoint)
}

// Workers connect to the dispatcher's task and result endpoints.
func serveBroadcast(cfg *config.Config, w *worker.Worker) error {
	sec, err := clientSecurity(cfg)

	if err != nil {
		return err
	}
	security := transport.Security{Client: sec}

	tasks, err := transport.NewSubChannel(cfg.TaskEndpoint, false, security)

	if err != nil {
		return err
	}

	replies, err := transport.NewPubChannel(cfg.ResultEndpoint, false, security)

	if err != nil {
		tasks.Close()
		return err
	}
	defer replies.Close()

	return w.ServeBroadcast(tasks, replies)
}

// The worker binds its own endpoint; the dispatcher connects to it.
func serveDirect(cfg *config.Config, w *worker.Worker, endpoint string) error {
	sec, err := serverSecurity(cfg)

	if err != nil {
		return err
	}

	rep, err := transport.NewRepChannel(endpoint, transport.Security{Server: sec})

	if err != nil {
		return err
	}
	return w.ServeDirect(rep)
}
