package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/gobors/internal/cfg"
	"github.com/simplesurance/gobors/internal/ci/ghactions"
	"github.com/simplesurance/gobors/internal/ci/httpci"
	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/mergequeue"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/provider"
	"github.com/simplesurance/gobors/internal/provider/ci"
	"github.com/simplesurance/gobors/internal/provider/github"
	"github.com/simplesurance/gobors/internal/store/memory"
	"github.com/simplesurance/gobors/internal/store/postgres"
)

const appName = "gobors"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const EventChannelBufferSize = 1024

// shutdown priorities, handlers with a lower priority run first
const (
	shutdownPrioHTTPServers = iota
	shutdownPrioMergeQueue
	shutdownPrioStore
	shutdownPrioLogger
)

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func registerServerShutdown(name string, srv *http.Server) {
	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	}, shutdownPrioHTTPServers)
}

func startHTTPSServer(listenAddr string, certFile, keyFile string, mux *http.ServeMux) {
	httpsServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Minute,
	}

	registerServerShutdown("https", &httpsServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Minute,
	}

	registerServerShutdown("http", &httpServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	EnvFile     *string
	DryRun      *bool
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/gobors/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the gobors configuration file",
		),
		EnvFile: pflag.String(
			"env-file",
			"",
			"path to a dotenv file, its variables are used if they are not set in the environment",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"do not post comments, push or merge on GitHub, only log the operations",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nTest and merge approved GitHub pull requests in order.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	lookup, err := cfg.EnvLookup(*args.EnvFile)
	exitOnErr(fmt.Sprintf("could not read env file: %s", *args.EnvFile), err)

	config.ApplyEnv(lookup)
	config.SetDefaults()

	exitOnErr("invalid configuration", config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	}, shutdownPrioLogger)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustInitStore(config *cfg.Config) mergequeue.Store {
	if config.DatabaseURL == "" {
		logger.Info(
			"no database configured, state is only kept in memory",
			logfields.Event("store_memory_initialized"),
		)

		return memory.New()
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFn()

	store, err := postgres.Open(ctx, config.DatabaseURL)
	if err != nil {
		logger.Fatal(
			"initializing postgres store failed",
			logfields.Event("store_initialization_failed"),
			zap.Error(err),
		)
	}

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		if err := store.Close(); err != nil {
			logger.Warn(
				"closing database connection failed",
				logfields.Event("store_close_failed"),
				zap.Error(err),
			)
		}
	}, shutdownPrioStore)

	logger.Info("postgres store initialized", logfields.Event("store_postgres_initialized"))

	return store
}

func mustInitCIProvider(config *cfg.Config, clt *githubclt.Client) mergequeue.CIProvider {
	switch config.CI.Provider {
	case cfg.CIProviderHTTP:
		c, err := httpci.New(&httpci.Config{
			Start:        httpci.Request(config.CI.Start),
			Cancel:       httpci.Request(config.CI.Cancel),
			User:         config.CI.User,
			Password:     config.CI.Password,
			BuildIDQuery: config.CI.BuildIDQuery,
		})
		if err != nil {
			logger.Fatal(
				"initializing http ci provider failed",
				logfields.Event("ci_provider_initialization_failed"),
				zap.Error(err),
			)
		}

		return c

	case cfg.CIProviderGithubActions:
		return ghactions.New(clt)

	default:
		logger.Fatal(
			"unsupported ci provider",
			logfields.Event("ci_provider_unsupported"),
			zap.String("ci_provider", config.CI.Provider),
		)
		return nil
	}
}

func normalizerOpts(config *cfg.Config) []event.NormalizerOption {
	var result []event.NormalizerOption

	if config.CommandPrefix != "" {
		result = append(result, event.WithCommandPrefix(config.CommandPrefix))
	}

	if config.CI.CheckSuiteApp != "" {
		result = append(result, event.WithCheckSuiteApp(config.CI.CheckSuiteApp))
	}

	if config.CI.StatusContext != "" {
		result = append(result, event.WithStatusContext(config.CI.StatusContext))
	}

	return result
}

func mergeQueueCfg(config *cfg.Config) (*mergequeue.Config, error) {
	result := mergequeue.Config{
		ReconcileInterval:     config.ReconcileInterval,
		BuildTimeout:          config.BuildTimeout,
		MergeableRefreshAfter: config.MergeableRefreshAfter,
		CommandWorkers:        config.CommandWorkers,
	}

	for _, r := range config.Repositories {
		repo, err := model.NewRepoID(r.Owner, r.RepositoryName)
		if err != nil {
			return nil, err
		}

		result.Repositories = append(result.Repositories, &mergequeue.RepositoryConfig{
			Repo:          repo,
			Reviewers:     r.Reviewers,
			BuildSlots:    r.BuildSlots,
			RollupEnabled: r.Rollup.Enabled,
			MaxBatchSize:  r.Rollup.MaxBatchSize,
		})
	}

	return &result, nil
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("ci_webhook_endpoint", config.HTTPCIWebhookEndpoint),
		zap.String("status_endpoint", config.HTTPStatusEndpoint),
		zap.String("metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("database_url", hide(config.DatabaseURL)),
		zap.String("ci_provider", config.CI.Provider),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Int("repositories", len(config.Repositories)),
		zap.Bool("dry_run", *args.DryRun),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	mqCfg, err := mergeQueueCfg(config)
	if err != nil {
		logger.Fatal("invalid repository configuration", logfields.Event("cfg_invalid"), zap.Error(err))
	}

	store := mustInitStore(config)

	githubClient := githubclt.New(config.GithubAPIToken)

	var gh interface {
		mergequeue.GithubClient
		mergequeue.CommitPreparer
	} = githubClient
	if *args.DryRun {
		gh = mergequeue.NewDryGithubClient(githubClient, logger)
	}

	ciProvider := mustInitCIProvider(config, githubClient)

	evChan := make(chan *provider.Event, EventChannelBufferSize)

	mq, err := mergequeue.New(
		*mqCfg,
		evChan,
		event.NewNormalizer(normalizerOpts(config)...),
		store,
		gh,
		gh,
		ciProvider,
	)
	if err != nil {
		logger.Fatal("initializing merge queue failed", logfields.Event("merge_queue_initialization_failed"), zap.Error(err))
	}

	mux := http.NewServeMux()

	ghProvider := github.New(
		evChan,
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)
	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, ghProvider.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	var ciOpts []ci.Option
	if config.CI.WebhookToken != "" {
		ciOpts = append(ciOpts, ci.WithToken(config.CI.WebhookToken))
	}

	ciEvProvider, err := ci.New(evChan, ci.Queries{
		Repository: config.CI.Callback.Repository,
		BuildID:    config.CI.Callback.BuildID,
		Branch:     config.CI.Callback.Branch,
		CommitSHA:  config.CI.Callback.CommitSHA,
		Status:     config.CI.Callback.Status,
		URL:        config.CI.Callback.URL,
	}, ciOpts...)
	if err != nil {
		logger.Fatal("initializing ci webhook provider failed", logfields.Event("ci_http_handler_initialization_failed"), zap.Error(err))
	}
	mux.HandleFunc(config.HTTPCIWebhookEndpoint, ciEvProvider.HTTPHandler)
	logger.Info(
		"registered ci webhook event http endpoint",
		logfields.Event("ci_http_handler_registered"),
		zap.String("endpoint", config.HTTPCIWebhookEndpoint),
	)

	mergequeue.NewHTTPService(mq).RegisterHandlers(mux, config.HTTPStatusEndpoint)
	logger.Info(
		"registered merge queue status http endpoint",
		logfields.Event("status_http_handler_registered"),
		zap.String("endpoint", config.HTTPStatusEndpoint),
	)

	mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		logger.Debug(
			"stopping merge queue",
			logfields.Event("merge_queue_stopping"),
		)

		mq.Stop()
	}, shutdownPrioMergeQueue)

	mq.Start()

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, mux)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		)
	}

	// the process terminates via the goodbye signal handler
	select {}
}
