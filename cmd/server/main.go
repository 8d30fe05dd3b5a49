// Command server wires every collaborator and starts the HTTP surface:
// the VOD job engine, the concurrency session arbiter, the live-TV proxy,
// and the byte-range file proxy. Follows
// services/torrent-engine/cmd/server/main.go's own shape: load config,
// build a logger, init telemetry and metrics, connect Mongo, construct
// every component, wire the server, serve until a signal, drain.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "github.com/discoduckasaurus/duckflix-lite-sub001/internal/api/http"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/app"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/cache"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/collaborators"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/directory"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/engine"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/enrich"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/livetv"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/metrics"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/prefetch"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/rangeproxy"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/remux"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/resolver"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/session"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/telemetry"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/validator"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), cfg.OTELServiceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("zurgBaseUrl", cfg.ZurgBaseURL),
		slog.String("prowlarrBaseUrl", cfg.ProwlarrBaseURL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := directory.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	userRepo := directory.NewUserRepository(mongoClient, cfg.MongoDatabase)
	channelRepo := directory.NewChannelRepository(mongoClient, cfg.MongoDatabase)
	if err := directory.EnsureIndexes(connectCtx, userRepo, channelRepo); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	var cacheBackend cache.Backend
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, link cache will stay single-instance", slog.String("error", err.Error()))
		} else {
			redisClient := redis.NewClient(redisOpts)
			if err := redisClient.Ping(connectCtx).Err(); err != nil {
				logger.Warn("redis ping failed, link cache will stay single-instance", slog.String("error", err.Error()))
			} else {
				cacheBackend = cache.NewRedisBackend(redisClient)
			}
		}
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}

	zurgClient := collaborators.NewZurgClient(cfg.ZurgBaseURL, httpClient)
	prowlarrClient := collaborators.NewProwlarrClient(cfg.ProwlarrBaseURL, cfg.ProwlarrAPIKey, httpClient)
	debridClient := collaborators.NewDebridClient(cfg.DebridBaseURL, cfg.DebridAPIKey, httpClient)
	prober := collaborators.NewFFProbeClient("")

	linkCache := cache.New(cacheBackend, cache.HTTPLivenessProbe(httpClient))
	res := resolver.New(zurgClient, prowlarrClient, logger)
	val := validator.New(prober, validator.Config{
		AcceptedVideoCodecs: toCodecSet(cfg.AcceptedVideoCodecs),
		AcceptedAudioCodecs: toCodecSet(cfg.AcceptedAudioCodecs),
		TranscodeTarget:     cfg.TranscodeTarget,
	})
	remuxer := remux.New(logger)
	remuxer.FFmpegPath = cfg.FFmpegPath

	reg := registry.New()
	eng := engine.New(reg, linkCache, res, val, remuxer, zurgClient, debridClient, cfg.ProcessedFilesRoot, logger)
	eng.Timeouts = engine.Timeouts{
		FirstSourcesWait:     time.Duration(cfg.FirstSourcesWaitSeconds) * time.Second,
		FirstSourcesSlowWait: time.Duration(cfg.FirstSourcesSlowWaitSeconds) * time.Second,
		JobMaxDuration:       time.Duration(cfg.JobMaxDurationMinutes) * time.Minute,
		DeadTorrentTimeout:   time.Duration(cfg.DeadTorrentTimeoutSeconds) * time.Second,
		SlowStartTimeout:     time.Duration(cfg.SlowStartTimeoutSeconds) * time.Second,
		ActiveStartTimeout:   time.Duration(cfg.ActiveStartTimeoutSeconds) * time.Second,
		StallTimeout:         time.Duration(cfg.StallTimeoutSeconds) * time.Second,
		StatusPollInterval:   time.Second,
	}

	enrichers := enrich.New(reg, logger)
	enrichers.Prober = prober
	enrichers.SubtitleLanguage = cfg.SubtitleDefaultLanguage
	eng.Enrich = enrichers.Run

	pre := prefetch.New(eng, reg, nil, logger)
	arb := session.New()
	liveTV := livetv.New(channelRepo, httpClient, logger)
	rp := rangeproxy.New(cfg.RangeProxyRoot, logger)

	go sweepLoop(rootCtx, reg, arb, time.Duration(cfg.RegistrySweepIntervalSeconds)*time.Second)

	server := apihttp.NewServer(eng, reg, pre, arb, liveTV, rp, userRepo, apihttp.WithLogger(logger))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// sweepLoop periodically retires terminal jobs into history and expired
// sessions out of the arbiter's map. Both Sweep calls are cheap, bounded
// passes over a small map, so a simple ticker is enough.
func sweepLoop(ctx context.Context, reg *registry.Registry, arb *session.Arbiter, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reg.Sweep(now)
			arb.Sweep(now)
		}
	}
}

func toCodecSet(codecs []string) map[string]bool {
	if len(codecs) == 0 {
		return nil
	}
	out := make(map[string]bool, len(codecs))
	for _, c := range codecs {
		out[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return out
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
