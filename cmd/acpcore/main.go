// Command acpcore runs the orchestration runtime: it spawns and drives
// specialist upstream processes, exposes the JSON-RPC /acp surface and its
// SSE stream, and services the /background-tasks queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/orchestrator"
	"github.com/subluminal-labs/acpcore/provider"
	"github.com/subluminal-labs/acpcore/rpcserver"
	"github.com/subluminal-labs/acpcore/session"
	"github.com/subluminal-labs/acpcore/store"
	"github.com/subluminal-labs/acpcore/store/memstore"
	"github.com/subluminal-labs/acpcore/store/mongostore"
	"github.com/subluminal-labs/acpcore/supervisor"
	"github.com/subluminal-labs/acpcore/taskqueue"
	"github.com/subluminal-labs/acpcore/telemetry"
	"github.com/subluminal-labs/acpcore/trace"
)

// Exit codes, per the documented CLI surface.
const (
	exitOK                  = 0
	exitGenericError        = 1
	exitInvalidArguments    = 2
	exitUpstreamUnavailable = 64
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		portF    = flag.Int("port", 0, "HTTP port (overrides SERVER_PORT)")
		presetsF = flag.String("presets", "presets.yaml", "path to the specialist presets YAML file")
		dbgF     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return exitInvalidArguments
	}
	if flag.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n", flag.Args())
		flag.Usage()
		return exitInvalidArguments
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF || os.Getenv("ACPCORE_DEBUG") != "" {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()

	tunables := config.Load()

	persist, journal, cleanup, err := buildBackend(ctx, logger)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to initialize storage backend"})
		return exitGenericError
	}
	defer cleanup()

	presets, err := config.LoadPresets(*presetsF)
	if err != nil {
		log.Print(ctx, log.KV{K: "msg", V: "no presets loaded, continuing with an empty registry"}, log.KV{K: "path", V: *presetsF}, log.KV{K: "error", V: err.Error()})
		presets = nil
	}
	presetRegistry := config.NewPresetRegistry(presets)

	providers := provider.NewRegistry()
	recorder := trace.NewRecorder(journal, logger, tunables.MessageFlushThreshold, tunables.GitTimeout)
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "invalid REDIS_URL, continuing without cross-replica SSE fan-out"})
		} else {
			redisClient = redis.NewClient(opts)
		}
	}

	sessions := session.New(tunables, persist, providers, recorder, logger, metrics, redisClient)
	if err := sessions.Hydrate(ctx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "session history rehydration failed, continuing with a clean slate"})
	}
	go sessions.StartSweeper(ctx, tunables.IdleSweepInterval)

	resolver := supervisor.NewEnvBinaryResolver(nil)
	sup := supervisor.New(resolver, logger, tunables.SpawnTimeout, tunables.CloseGracePeriod)

	dispatcher, closeDispatcher, err := buildDispatcher(sup, sessions)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to initialize delegation dispatcher"})
		return exitUpstreamUnavailable
	}
	defer closeDispatcher()

	orch := orchestrator.New(sessions, dispatcher, presetRegistry, tunables.DelegationConcurrency, nil, logger, metrics, tracer)

	worker := taskqueue.New(tunables, persist, sessions, sup, presetRegistry, logger)
	sessions.SetProgressSink(worker)
	worker.Start(ctx)
	defer worker.Stop()

	srv := rpcserver.New(sessions, sup, orch, worker, presetRegistry, persist, persist, logger)

	port := *portF
	if port == 0 {
		port = portFromEnv(8080)
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: srv.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Print(ctx, log.KV{K: "msg", V: "listening"}, log.KV{K: "addr", V: httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	cause := <-errc
	log.Print(ctx, log.KV{K: "msg", V: "shutting down"}, log.KV{K: "cause", V: cause.Error()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "graceful shutdown failed"})
	}
	wg.Wait()

	return exitOK
}

// buildBackend selects the persistence backend named by DB_DRIVER (postgres,
// sqlite, memory, or mongo). Only memory (in-process, non-durable) and mongo
// (via MONGO_URI) are actually implemented; postgres and sqlite are accepted
// for compatibility with the documented driver selector but fall back to
// memory with a warning — acpcore carries no SQL driver anywhere in its
// dependency tree. See DESIGN.md.
func buildBackend(ctx context.Context, logger telemetry.Logger) (store.Store, trace.Journal, func(), error) {
	driver := os.Getenv("DB_DRIVER")
	noop := func() {}

	switch driver {
	case "mongo":
		uri := os.Getenv("MONGO_URI")
		if uri == "" {
			return nil, nil, noop, fmt.Errorf("DB_DRIVER=mongo requires MONGO_URI")
		}
		dbName := os.Getenv("MONGO_DATABASE")
		if dbName == "" {
			dbName = "acpcore"
		}
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, nil, noop, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			return nil, nil, noop, fmt.Errorf("ping mongo: %w", err)
		}
		mstore, err := mongostore.New(ctx, mongostore.Options{Client: client, Database: dbName})
		if err != nil {
			return nil, nil, noop, fmt.Errorf("initialize mongo store: %w", err)
		}
		journal := trace.NewMongoJournal(client.Database(dbName), 10*time.Second)
		cleanup := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
		return mstore, journal, cleanup, nil
	case "postgres", "sqlite":
		logger.Warn(ctx, "requested driver has no acpcore implementation, falling back to memory", "driver", driver)
		fallthrough
	default:
		mem := memstore.New()
		return mem, trace.NewMemoryJournal(1000), noop, nil
	}
}

// buildDispatcher selects InlineDispatcher by default, or TemporalDispatcher
// when TEMPORAL_HOST_PORT is set — delegation then runs as a durable
// Temporal workflow instead of an in-process goroutine.
func buildDispatcher(sup *supervisor.Supervisor, sessions *session.Store) (orchestrator.Dispatcher, func(), error) {
	hostPort := os.Getenv("TEMPORAL_HOST_PORT")
	if hostPort == "" {
		return orchestrator.NewInlineDispatcher(sup, sessions), func() {}, nil
	}

	taskQueue := os.Getenv("TEMPORAL_TASK_QUEUE")
	if taskQueue == "" {
		taskQueue = "acpcore-delegation"
	}
	workflowName := os.Getenv("TEMPORAL_WORKFLOW_NAME")
	if workflowName == "" {
		workflowName = "DelegateSession"
	}

	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return nil, func() {}, fmt.Errorf("dial temporal at %q: %w", hostPort, err)
	}
	return orchestrator.NewTemporalDispatcher(c, taskQueue, workflowName), c.Close, nil
}

func portFromEnv(fallback int) int {
	raw := os.Getenv("SERVER_PORT")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
