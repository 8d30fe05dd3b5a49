// Package app holds process-wide configuration, loaded once from the
// environment at startup the way services/torrent-search/internal/app does
// it: a flat Config struct plus small typed getEnv helpers, no config file
// or flag parsing.
package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects every environment-tunable setting this service reads at
// startup. Nothing here is re-read after LoadConfig returns.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	MongoURI      string
	MongoDatabase string

	RedisURL string

	OTELExporterEndpoint string
	OTELServiceName      string

	ZurgBaseURL     string
	ProwlarrBaseURL string
	ProwlarrAPIKey  string
	DebridBaseURL   string
	DebridAPIKey    string

	FirstSourcesWaitSeconds     int
	FirstSourcesSlowWaitSeconds int
	JobMaxDurationMinutes       int
	DeadTorrentTimeoutSeconds   int
	SlowStartTimeoutSeconds     int
	ActiveStartTimeoutSeconds   int
	StallTimeoutSeconds         int

	AcceptedVideoCodecs []string
	AcceptedAudioCodecs []string
	TranscodeTarget     string

	FFmpegPath         string
	ProcessedFilesRoot string

	RangeProxyRoot       string
	RangeProxyStatSecs   int
	LiveTVProxyBase      string
	SegmentFailThreshold int

	SubtitleDefaultLanguage string

	SessionCheckDeadlineSeconds int

	RegistrySweepIntervalSeconds int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "duckflix"),

		RedisURL: getEnv("REDIS_URL", ""),

		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELServiceName:      getEnv("OTEL_SERVICE_NAME", "duckflix-stream-orchestrator"),

		ZurgBaseURL:     getEnv("ZURG_BASE_URL", "http://zurg:9999"),
		ProwlarrBaseURL: getEnv("PROWLARR_BASE_URL", "http://prowlarr:9696"),
		ProwlarrAPIKey:  strings.TrimSpace(os.Getenv("PROWLARR_API_KEY")),
		DebridBaseURL:   getEnv("DEBRID_BASE_URL", "https://api.real-debrid.com/rest/1.0"),
		DebridAPIKey:    strings.TrimSpace(os.Getenv("DEBRID_API_KEY")),

		FirstSourcesWaitSeconds:     getEnvInt("FIRST_SOURCES_WAIT_SECONDS", 15),
		FirstSourcesSlowWaitSeconds: getEnvInt("FIRST_SOURCES_SLOW_WAIT_SECONDS", 35),
		JobMaxDurationMinutes:       getEnvInt("JOB_MAX_DURATION_MINUTES", 5),
		DeadTorrentTimeoutSeconds:   getEnvInt("DEAD_TORRENT_TIMEOUT_SECONDS", 10),
		SlowStartTimeoutSeconds:     getEnvInt("SLOW_START_TIMEOUT_SECONDS", 12),
		ActiveStartTimeoutSeconds:   getEnvInt("ACTIVE_START_TIMEOUT_SECONDS", 30),
		StallTimeoutSeconds:         getEnvInt("STALL_TIMEOUT_SECONDS", 60),

		AcceptedVideoCodecs: splitCSV(getEnv("ACCEPTED_VIDEO_CODECS", "h264,hevc,av1,vp9")),
		AcceptedAudioCodecs: splitCSV(getEnv("ACCEPTED_AUDIO_CODECS", "aac,ac3,eac3,flac,mp3")),
		TranscodeTarget:     getEnv("AUDIO_TRANSCODE_TARGET", "aac"),

		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		ProcessedFilesRoot: getEnv("PROCESSED_FILES_ROOT", "/data/processed"),

		RangeProxyRoot:       getEnv("RANGE_PROXY_ROOT", "/data/processed"),
		RangeProxyStatSecs:   getEnvInt("FS_STAT_TIMEOUT_SECONDS", 10),
		LiveTVProxyBase:      getEnv("LIVETV_PROXY_BASE", "/livetv/stream"),
		SegmentFailThreshold: getEnvInt("LIVETV_SEGMENT_FAIL_THRESHOLD", 3),

		SubtitleDefaultLanguage: getEnv("SUBTITLE_DEFAULT_LANGUAGE", "eng"),

		SessionCheckDeadlineSeconds: getEnvInt("SESSION_CHECK_DEADLINE_SECONDS", 8),

		RegistrySweepIntervalSeconds: getEnvInt("REGISTRY_SWEEP_INTERVAL_SECONDS", 30),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
