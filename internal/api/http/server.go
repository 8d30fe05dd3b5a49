// Package apihttp implements the HTTP surface consumed by clients: VOD job
// control, session arbitration, range-proxied playback, and the live-TV
// manifest/segment proxy . Routing, middleware chain, and JSON error
// helpers follow services/torrent-engine/internal/api/http/server.go's
// stdlib-mux-plus-options-struct pattern.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/engine"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/livetv"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/prefetch"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/rangeproxy"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/registry"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/session"
)

// sessionCheckDeadline bounds how long a /vod/session/check request is
// allowed to run before the server gives up and reports it retryable.
const sessionCheckDeadline = 8 * time.Second

// Server wires every VOD/live-TV/session collaborator into one HTTP handler.
type Server struct {
	Engine     *engine.Engine
	Registry   *registry.Registry
	Prefetcher *prefetch.Prefetcher
	Arbiter    *session.Arbiter
	LiveTV     *livetv.Proxy
	RangeProxy *rangeproxy.Proxy
	Users      ports.UserDirectory

	logger  *slog.Logger
	handler http.Handler
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(eng *engine.Engine, reg *registry.Registry, pre *prefetch.Prefetcher, arb *session.Arbiter, live *livetv.Proxy, rp *rangeproxy.Proxy, users ports.UserDirectory, opts ...ServerOption) *Server {
	s := &Server{
		Engine:     eng,
		Registry:   reg,
		Prefetcher: pre,
		Arbiter:    arb,
		LiveTV:     live,
		RangeProxy: rp,
		Users:      users,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/vod/stream-url/start", s.handleStreamURLStart)
	mux.HandleFunc("/vod/stream-url/progress/", s.handleStreamURLProgress)
	mux.HandleFunc("/vod/stream-url/cancel/", s.handleStreamURLCancel)
	mux.HandleFunc("/vod/prefetch-next", s.handlePrefetchNext)
	mux.HandleFunc("/vod/prefetch-promote/", s.handlePrefetchPromote)
	mux.HandleFunc("/vod/report-bad", s.handleReportBad)
	mux.HandleFunc("/vod/session/check", s.handleSessionCheck)
	mux.HandleFunc("/vod/session/heartbeat", s.handleSessionHeartbeat)
	mux.HandleFunc("/vod/session/end", s.handleSessionEnd)
	mux.HandleFunc("/vod/stream/", s.handleVODStream)
	mux.HandleFunc("/vod/stream-processed/", s.handleVODStreamProcessed)
	mux.HandleFunc("/vod/stream-url/ws", s.handleProgressWS)
	mux.HandleFunc("/livetv/stream/", s.handleLiveTVStream)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "stream-orchestrator",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(corsMiddleware(traced))))
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userFromRequest resolves the caller identity this deployment uses in
// place of a full auth layer: the requesting user id and IP, carried on
// every VOD/session request via headers set by the upstream gateway.
func userFromRequest(r *http.Request) (userID, username, ip string) {
	userID = strings.TrimSpace(r.Header.Get("X-User-Id"))
	username = strings.TrimSpace(r.Header.Get("X-Username"))
	if username == "" {
		username = userID
	}
	ip = clientIP(r)
	return
}

type streamURLStartRequest struct {
	ExternalID string              `json:"externalId"`
	Kind       domain.ContentKind  `json:"kind"`
	Season     *int                `json:"season,omitempty"`
	Episode    *int                `json:"episode,omitempty"`
	Platform   domain.PlatformHint `json:"platform,omitempty"`
}

type streamURLStartResponse struct {
	Immediate bool   `json:"immediate"`
	JobID     string `json:"jobId,omitempty"`
	StreamURL string `json:"streamUrl,omitempty"`
	Source    string `json:"source,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

func (s *Server) handleStreamURLStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body streamURLStartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	if strings.TrimSpace(body.ExternalID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "externalId is required")
		return
	}
	ref := domain.ContentRef{
		ExternalID:   body.ExternalID,
		Kind:         body.Kind,
		Season:       body.Season,
		Episode:      body.Episode,
		PlatformHint: body.Platform,
	}
	userID, _, _ := userFromRequest(r)

	opts := engine.StartOpts{}
	if s.Users != nil {
		if bw, err := s.Users.Bandwidth(r.Context(), userID); err == nil {
			opts.BandwidthCeilingMbps = bw.Mbps
			measuredAt := bw.MeasuredAt
			opts.BandwidthMeasuredAt = &measuredAt
		}
	}

	jobID := s.Engine.Start(ref, userID, opts)
	writeJSON(w, http.StatusOK, streamURLStartResponse{Immediate: false, JobID: jobID})
}

type jobProgressResponse struct {
	Status                   domain.JobStatus          `json:"status"`
	Progress                 int                       `json:"progress"`
	Message                  string                    `json:"message"`
	StreamURL                string                    `json:"streamUrl,omitempty"`
	FileName                 string                    `json:"fileName,omitempty"`
	Quality                  string                    `json:"quality,omitempty"`
	Subtitles                []domain.ExternalSubtitle `json:"subtitles"`
	EmbeddedSubtitleTracks   []domain.SubtitleTrack    `json:"embeddedSubtitleTracks"`
	RecommendedSubtitleIndex *int                      `json:"recommendedSubtitleIndex,omitempty"`
	SkipMarkers              *domain.SkipMarkers       `json:"skipMarkers,omitempty"`
	Error                    domain.ErrorKind          `json:"error,omitempty"`
	SuggestBandwidthRetest   bool                      `json:"suggestBandwidthRetest"`
	HasNextEpisode           bool                      `json:"hasNextEpisode,omitempty"`
	NextEpisode              *domain.NextEpisodeHint   `json:"nextEpisode,omitempty"`
}

func jobToProgressResponse(job domain.Job) jobProgressResponse {
	return jobProgressResponse{
		Status:                   job.Status,
		Progress:                 job.ProgressPercent,
		Message:                  job.SynthesizedMessage(),
		StreamURL:                job.StreamURL,
		FileName:                 job.FileName,
		Quality:                  job.Quality,
		Subtitles:                job.Subtitles,
		EmbeddedSubtitleTracks:   job.EmbeddedSubtitleTracks,
		RecommendedSubtitleIndex: job.RecommendedSubtitleIndex,
		SkipMarkers:              job.SkipMarkers,
		Error:                    job.ErrorKind,
		SuggestBandwidthRetest:   job.SuggestBandwidthRetest(time.Now()),
		HasNextEpisode:           job.NextEpisode != nil,
		NextEpisode:              job.NextEpisode,
	}
}

func (s *Server) handleStreamURLProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/vod/stream-url/progress/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}
	job, ok := s.Engine.Progress(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobToProgressResponse(job))
}

func (s *Server) handleStreamURLCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/vod/stream-url/cancel/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}
	s.Engine.Cancel(jobID)
	w.WriteHeader(http.StatusNoContent)
}

type prefetchNextRequest struct {
	ExternalID     string             `json:"externalId"`
	Kind           domain.ContentKind `json:"kind"`
	CurrentSeason  *int               `json:"currentSeason,omitempty"`
	CurrentEpisode *int               `json:"currentEpisode,omitempty"`
	Mode           ports.NextMode     `json:"mode"`
}

type prefetchNextResponse struct {
	HasNext     bool                    `json:"hasNext"`
	JobID       string                  `json:"jobId,omitempty"`
	NextEpisode *domain.NextEpisodeHint `json:"nextEpisode,omitempty"`
}

func (s *Server) handlePrefetchNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body prefetchNextRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	mode := body.Mode
	if mode == "" {
		mode = ports.NextSequential
	}
	currentRef := domain.ContentRef{
		ExternalID: body.ExternalID,
		Kind:       body.Kind,
		Season:     body.CurrentSeason,
		Episode:    body.CurrentEpisode,
	}
	userID, _, _ := userFromRequest(r)

	jobID, err := s.Prefetcher.PrefetchNext(r.Context(), currentRef, userID, mode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, prefetchNextResponse{HasNext: false})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve next episode")
		return
	}

	resp := prefetchNextResponse{HasNext: true, JobID: jobID}
	if job, ok := s.Registry.Get(jobID); ok {
		resp.NextEpisode = &domain.NextEpisodeHint{ContentRef: job.ContentRef}
	}
	writeJSON(w, http.StatusOK, resp)
}

type prefetchPromoteResponse struct {
	jobProgressResponse
	HasNext     bool                    `json:"hasNext"`
	NextEpisode *domain.NextEpisodeHint `json:"nextEpisode,omitempty"`
}

func (s *Server) handlePrefetchPromote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/vod/prefetch-promote/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}
	job, err := s.Prefetcher.Promote(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefetchPromoteResponse{
		jobProgressResponse: jobToProgressResponse(job),
		HasNext:             job.NextEpisode != nil,
		NextEpisode:         job.NextEpisode,
	})
}

type reportBadRequest struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason,omitempty"`
}

type reportBadResponse struct {
	NewJobID      string `json:"newJobId"`
	ReportedCount int    `json:"reportedCount"`
	ExcludedCount int    `json:"excludedCount"`
}

func (s *Server) handleReportBad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body reportBadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	if strings.TrimSpace(body.JobID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}

	job, ok := s.Registry.Get(body.JobID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	newJobID, err := s.Engine.ReportBad(body.JobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	excludedCount := len(job.AttemptedSources)
	if job.StreamURL != "" {
		excludedCount++
	}
	writeJSON(w, http.StatusOK, reportBadResponse{
		NewJobID:      newJobID,
		ReportedCount: 1,
		ExcludedCount: excludedCount,
	})
}

type sessionCheckResponse struct {
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	ActiveUser string     `json:"activeUser,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}

func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, username, ip := userFromRequest(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "X-User-Id header is required")
		return
	}

	debridKey, err := s.Users.DebridKey(r.Context(), userID)
	if err != nil {
		if parentID, hasParent, perr := s.Users.ParentOf(r.Context(), userID); perr == nil && hasParent {
			debridKey, err = s.Users.DebridKey(r.Context(), parentID)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve debrid key")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), sessionCheckDeadline)
	defer cancel()

	active, err := s.Arbiter.Check(ctx, debridKey, ip, userID, username)
	if err != nil {
		if errors.Is(err, domain.ErrSessionInUse) {
			writeJSON(w, http.StatusConflict, sessionCheckResponse{
				Success:    false,
				Error:      "in_use_elsewhere",
				ActiveUser: active.Username,
				StartedAt:  &active.StartedAt,
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, string(domain.KindSessionTimeout), "session arbiter timed out")
		return
	}
	writeJSON(w, http.StatusOK, sessionCheckResponse{Success: true})
}

func (s *Server) handleSessionHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, _, ip := userFromRequest(r)
	debridKey, err := s.Users.DebridKey(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	s.Arbiter.Heartbeat(debridKey, ip)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, _, ip := userFromRequest(r)
	debridKey, err := s.Users.DebridKey(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	s.Arbiter.End(debridKey, ip)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVODStream(w http.ResponseWriter, r *http.Request) {
	streamID := strings.TrimPrefix(r.URL.Path, "/vod/stream/")
	if streamID == "" {
		http.NotFound(w, r)
		return
	}
	s.RangeProxy.ServeByStreamID(w, r, streamID)
}

func (s *Server) handleVODStreamProcessed(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/vod/stream-processed/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}
	job, ok := s.Registry.Get(jobID)
	if !ok || job.ProcessedFilePath == "" {
		writeError(w, http.StatusNotFound, "not_found", "processed file not found")
		return
	}
	s.RangeProxy.ServePath(w, r, job.ProcessedFilePath)
}

// handleProgressWS upgrades the connection; the client names the job it
// wants pushed updates for as its first text message, per §4.11.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	s.serveJobProgress(w, r)
}

func (s *Server) handleLiveTVStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	channelID := strings.TrimPrefix(r.URL.Path, "/livetv/stream/")
	if channelID == "" {
		http.NotFound(w, r)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		body, contentType, err := s.LiveTV.Manifest(r.Context(), channelID)
		if err != nil {
			writeLiveTVError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	result, err := s.LiveTV.FetchSegment(r.Context(), channelID, target)
	if err != nil {
		writeLiveTVError(w, err)
		return
	}
	defer result.Body.Close()
	w.Header().Set("Content-Type", result.ContentType)
	if result.ContentLength > 0 {
		w.Header().Set("Content-Length", formatInt64(result.ContentLength))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = copyBody(w, result.Body)
}
