package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/opsched/internal/analytics"
	"github.com/djlord-it/opsched/internal/api"
	"github.com/djlord-it/opsched/internal/auth"
	"github.com/djlord-it/opsched/internal/circuitbreaker"
	"github.com/djlord-it/opsched/internal/config"
	"github.com/djlord-it/opsched/internal/deadletter"
	"github.com/djlord-it/opsched/internal/devices"
	"github.com/djlord-it/opsched/internal/jobengine"
	"github.com/djlord-it/opsched/internal/leaderelection"
	"github.com/djlord-it/opsched/internal/metrics"
	"github.com/djlord-it/opsched/internal/notification"
	"github.com/djlord-it/opsched/internal/reconciler"
	"github.com/djlord-it/opsched/internal/store/postgres"
	"github.com/djlord-it/opsched/internal/timer"
	timerpg "github.com/djlord-it/opsched/internal/timer/postgres"
	"github.com/djlord-it/opsched/internal/transport/channel"
	"github.com/djlord-it/opsched/internal/trigger"

	_ "github.com/lib/pq"
)

// dropStarter is the JobStarter used when no engine endpoint is
// configured. Fires are logged and dropped so the timer keeps
// advancing entries instead of error-looping.
type dropStarter struct{}

func (dropStarter) StartJob(ctx context.Context, req jobengine.StartRequest) error {
	log.Printf("opsched: JOB_ENGINE_URL not set; dropping start of job %s in scope %s", req.JobID, req.ScopeID)
	return nil
}

// logSink is the CommandSink used when no device transport is
// configured. The operation and job-target rows are still written, so
// correlation and the stale sweep behave normally; only delivery is
// skipped.
type logSink struct{}

func (logSink) Send(ctx context.Context, operationID uuid.UUID, cmd devices.Command) error {
	log.Printf("opsched: DEVICE_TRANSPORT_URL not set; command operation=%s resource=%s target=%s not delivered",
		operationID, cmd.Resource, cmd.TargetID)
	return nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`opsched - job trigger scheduler and operation notification correlator

Usage:
  opsched <command>

Commands:
  serve      Start the scheduler, timer runner and notification workers
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  WORKER_DRAIN_TIMEOUT      Notification worker drain timeout (default: "30s")

  EVENTBUS_BUFFER_SIZE      Notification queue buffer size (default: "100")
  NOTIFICATION_WORKERS      Notification worker goroutines (default: "1")

  TIMER_POLL_INTERVAL       Due-entry poll interval (default: "500ms")
  TIMER_BATCH_SIZE          Max entries claimed per poll (default: "50")

  JOB_ENGINE_URL            Job engine start endpoint (optional)
  JOB_ENGINE_SECRET         HMAC secret for engine requests (optional)
  JOB_ENGINE_TIMEOUT        Engine request timeout (default: "30s")

  DEVICE_TRANSPORT_URL      Device command delivery endpoint (optional)
  DEVICE_TRANSPORT_SECRET   HMAC secret for command requests (optional)
  DEVICE_TRANSPORT_TIMEOUT  Command request timeout (default: "30s")

  CIRCUIT_BREAKER_THRESHOLD Failures before a resource trips (default: "5", "0" disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")
  RETRY_DELAY               Dead-letter redelivery pacing (default: "5s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  RECONCILE_ENABLED         Enable the leader-elected sweep (default: "false")
  RECONCILE_INTERVAL        How often the sweep runs (default: "5m")
  STALE_THRESHOLD           Silence before an operation is stale (default: "1h")
  RECONCILE_BATCH_SIZE      Triggers scanned per page (default: "100")
  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower acquisition retry (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping (default: "2s")`)
}

// logConfigWarnings flags effective-but-risky configuration at startup.
// P0 warnings mean the deployment silently loses work; P1 means reduced
// visibility.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("opsched: WARNING [P0]: RECONCILE_ENABLED=false - orphaned triggers are never re-registered and stale operations are never retired")
	}
	if cfg.JobEngineURL == "" {
		log.Println("opsched: WARNING [P0]: JOB_ENGINE_URL not set - timer fires are logged and dropped, jobs never start")
	}
	if cfg.DeviceTransportURL == "" {
		log.Println("opsched: WARNING [P0]: DEVICE_TRANSPORT_URL not set - dispatched commands are recorded but never reach a device")
	}
	if !cfg.MetricsEnabled {
		log.Println("opsched: WARNING [P1]: METRICS_ENABLED=false - queue depth and leader status are not observable")
	}
	if cfg.NotificationWorkers > 1 {
		log.Printf("opsched: INFO: NOTIFICATION_WORKERS=%d - per-operation ordering is preserved by the event-time guard, not by arrival order", cfg.NotificationWorkers)
	}
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("opsched: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)
	timerEngine := timerpg.NewEngine(sqlx.NewDb(db, "postgres"))
	adapter := timer.NewAdapter(timerEngine)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	defer startupCancel()

	if err := adapter.EnsureLauncher(startupCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure launcher job definition: %v\n", err)
		return exitRuntimeError
	}

	defs, err := trigger.ResolveDefinitions(startupCtx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve trigger definitions: %v\n", err)
		return exitRuntimeError
	}

	// Single-tenant mode: no external identity provider is wired in.
	authorizer := auth.NewAllowAll()

	triggerService := trigger.New(store, authorizer, adapter, defs)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("opsched: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("opsched: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("opsched: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("opsched: METRICS_ENABLED not set; metrics disabled")
	}

	bus := channel.NewNotificationBus(cfg.EventBusBufferSize)
	if metricsSink != nil {
		bus = bus.WithMetrics(metricsSink)
	}

	processor := notification.NewProcessor(store, store.JobTargets())

	worker := notification.NewWorker(processor, bus)
	if metricsSink != nil {
		worker = worker.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		worker = worker.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("opsched: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("opsched: REDIS_ADDR not set; analytics disabled")
	}

	reprocessor := deadletter.NewReprocessor(bus, processor).
		WithRetryDelay(cfg.RetryDelay)
	if metricsSink != nil {
		reprocessor = reprocessor.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		reprocessor = reprocessor.WithBreaker(breaker)
		log.Printf("opsched: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("opsched: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}

	var starter jobengine.JobStarter
	if cfg.JobEngineURL != "" {
		starter = jobengine.NewHTTPStarter(cfg.JobEngineURL, cfg.JobEngineSecret).
			WithTimeout(cfg.JobEngineTimeout)
		log.Printf("opsched: job engine endpoint %s (timeout=%s)", cfg.JobEngineURL, cfg.JobEngineTimeout)
	} else {
		starter = dropStarter{}
		log.Println("opsched: JOB_ENGINE_URL not set; timer fires will be dropped")
	}

	runner := timerpg.NewRunner(
		timerpg.RunnerConfig{
			PollInterval: cfg.TimerPollInterval,
			BatchSize:    cfg.TimerBatchSize,
		},
		timerEngine,
		jobengine.NewLauncher(starter),
	)

	remote := jobengine.NewRemote(adapter, authorizer)

	var commandSink devices.CommandSink
	if cfg.DeviceTransportURL != "" {
		commandSink = devices.NewHTTPSink(cfg.DeviceTransportURL, cfg.DeviceTransportSecret).
			WithTimeout(cfg.DeviceTransportTimeout)
		log.Printf("opsched: device transport endpoint %s (timeout=%s)", cfg.DeviceTransportURL, cfg.DeviceTransportTimeout)
	} else {
		commandSink = logSink{}
		log.Println("opsched: DEVICE_TRANSPORT_URL not set; commands will be recorded but not delivered")
	}
	dispatcher := devices.NewDispatcher(store, commandSink)

	apiHandler := api.NewHandler(triggerService, store, bus, remote).
		WithHealthChecker(db).
		WithDispatcher(dispatcher)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("opsched: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("opsched: http server error: %v", err)
		}
	}()

	// Separate contexts per loop to enable ordered shutdown.
	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	redriveCtx, cancelRedrive := context.WithCancel(context.Background())

	var runnerWg sync.WaitGroup
	var workerWg sync.WaitGroup
	var redriveWg sync.WaitGroup
	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc

	runnerWg.Add(1)
	go func() {
		defer runnerWg.Done()
		runner.Run(runnerCtx)
	}()

	for i := 0; i < cfg.NotificationWorkers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			worker.Run(workerCtx, bus.Channel())
		}()
	}
	log.Printf("opsched: %d notification worker(s) started", cfg.NotificationWorkers)

	redriveWg.Add(1)
	go func() {
		defer redriveWg.Done()
		reprocessor.Run(redriveCtx)
	}()

	// The reconciler runs under leader election so exactly one instance
	// sweeps at a time.
	if cfg.ReconcileEnabled {
		recon := reconciler.New(
			reconciler.Config{
				Interval:       cfg.ReconcileInterval,
				StaleThreshold: cfg.StaleThreshold,
				BatchSize:      cfg.ReconcileBatchSize,
			},
			store,
			adapter,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}

		var reconWg sync.WaitGroup
		duties := leaderelection.Duties{
			OnElected: func(ctx context.Context) {
				reconWg.Add(1)
				go func() {
					defer reconWg.Done()
					recon.Run(ctx)
				}()
			},
			OnDemoted: func() {
				reconWg.Wait()
			},
		}

		elector := leaderelection.New(db, cfg.LeaderLockKey, cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval, duties)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("opsched: reconciler enabled (interval=%s, stale_threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.StaleThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("opsched: RECONCILE_ENABLED not set; reconciler disabled")
	}

	log.Printf("opsched: started (poll=%s, http=%s)", cfg.TimerPollInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("opsched: received signal %v, shutting down", received)

	// Phase 1: Stop the timer runner (no new fires)
	log.Println("opsched: stopping timer runner...")
	cancelRunner()
	runnerWg.Wait()
	log.Println("opsched: timer runner stopped")

	// Phase 2: Stop leader election (reconciler demoted before stores go away)
	if cancelElector != nil {
		log.Println("opsched: stopping leader election...")
		cancelElector()
		electorWg.Wait()
		log.Println("opsched: leader election stopped")
	}

	// Phase 3: Stop HTTP server so no new notifications are accepted
	log.Println("opsched: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("opsched: http server shutdown error: %v", err)
	}
	log.Println("opsched: http server stopped")

	// Phase 4: Stop notification workers (they drain buffered events before returning)
	log.Println("opsched: stopping notification workers (draining events)...")
	cancelWorkers()
	if !waitTimeout(&workerWg, cfg.WorkerDrainTimeout) {
		log.Println("opsched: worker drain timeout exceeded")
	}
	log.Println("opsched: notification workers stopped")

	// Phase 5: Stop the dead-letter reprocessor
	log.Println("opsched: stopping dead-letter reprocessor...")
	cancelRedrive()
	redriveWg.Wait()
	log.Println("opsched: dead-letter reprocessor stopped")

	// Phase 6: Stop metrics server if running
	if metricsServer != nil {
		log.Println("opsched: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("opsched: metrics server shutdown error: %v", err)
		}
		log.Println("opsched: metrics server stopped")
	}

	log.Println("opsched: stopped")
	return exitSuccess
}

// waitTimeout waits for the WaitGroup with a deadline. Returns false on
// timeout.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("opsched version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
