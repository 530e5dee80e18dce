package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/rulecache"
	"github.com/always-cache/rulecache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsPath = "/_rulecache/metrics"

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	dbFilenameFlag     string
	verbosityDebugFlag bool
	verbosityTraceFlag bool
	traceKeysFlag      bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory cache)")
	flag.BoolVar(&verbosityDebugFlag, "v", false, "Verbosity: debug logging")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.BoolVar(&traceKeysFlag, "trace-keys", false, "Print every built cache key to stderr")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.InfoLevel
	if verbosityDebugFlag {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var fileConfig rulecache.FileConfig
	if configFilenameFlag != "" {
		var err error
		if fileConfig, err = rulecache.LoadConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Str("file", configFilenameFlag).Msg("Invalid config")
		}
	}
	if originFlag != "" {
		fileConfig.Origin = originFlag
	}
	if hostFlag != "" {
		fileConfig.Host = hostFlag
	}
	if fileConfig.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(fileConfig.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}

	rules, err := fileConfig.CacheRules()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache rules")
	}

	provider, closeProvider := openProvider(dbFilenameFlag)
	defer closeProvider()

	// metrics are served by the proxy itself
	exporter, err := prometheus.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create metrics exporter")
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer meterProvider.Shutdown(context.Background())

	config := rulecache.Config{
		Cache:       provider,
		Rules:       rules,
		Meter:       meterProvider.Meter("github.com/always-cache/rulecache"),
		MaxKeySize:  fileConfig.MaxKeySize,
		MaxBodySize: fileConfig.MaxBodySize,
	}
	if traceKeysFlag {
		config.KeyTrace = os.Stderr
	}
	rc, err := rulecache.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Served request")
	}))
	r.Handle(metricsPath, promhttp.Handler())
	r.With(rc.Middleware).Handle("/*", newProxy(originURL, fileConfig.Host))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", portFlag),
		Handler: r,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not listen")
	}
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", portFlag, originURL.String(), fileConfig.Host)
	if err := serve(server, ln, stop, 10*time.Second); err != nil {
		log.Error().Err(err).Msg("Server stopped")
		return
	}
	log.Info().Msg("Server stopped")
}

// serve runs server on ln until stop receives, then shuts it down and waits
// for open requests to finish, at most timeout.
func serve(server *http.Server, ln net.Listener, stop <-chan os.Signal, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		done <- server.Shutdown(ctx)
	}()
	if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}

// openProvider returns the cache provider selected by the db flag.
func openProvider(dbFilename string) (cache.CacheProvider, func()) {
	if dbFilename == "memory" {
		mem, err := cache.NewMemCache(cache.DefaultMemoryConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Could not create memory cache")
		}
		return mem, func() {}
	}
	db, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Str("file", dbFilename).Msg("Could not open cache db")
	}
	return db, func() { db.Close() }
}
