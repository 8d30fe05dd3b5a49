// Package rangeproxy implements RangeProxy: the byte-range file proxy used
// as a fallback transport for candidates that could not be promoted to a
// direct debrid CDN URL, and for serving a job's audio-remux output file.
// Follows handleStreamTorrent's range-serving logic in
// services/torrent-engine/internal/api/http/handlers_streaming.go
// (parseByteRange, single-range Content-Range responses, HEAD handling),
// adapted from an in-process torrent reader to a FUSE-mounted filesystem
// path with its own stat/open deadline to defend against a sick mount.
package rangeproxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// DefaultStatTimeout bounds filesystem stat/open calls against the mounted
// catalog (FS_STAT_TIMEOUT).
const DefaultStatTimeout = 10 * time.Second

// Proxy serves files rooted under Root, enforcing path containment and a
// hard deadline on every filesystem call.
type Proxy struct {
	Root        string
	StatTimeout time.Duration
	Logger      *slog.Logger
}

func New(root string, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{Root: root, StatTimeout: DefaultStatTimeout, Logger: logger}
}

func (p *Proxy) statTimeout() time.Duration {
	if p.StatTimeout <= 0 {
		return DefaultStatTimeout
	}
	return p.StatTimeout
}

// DecodeStreamID reverses the base64url file-path encoding the engine uses
// for its RangeProxy fallback URLs (engine.RangeProxyURLPrefix).
func DecodeStreamID(streamID string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(streamID)
	if err != nil {
		return "", fmt.Errorf("decode stream id: %w", err)
	}
	return string(raw), nil
}

// ResolvePath decodes streamID and rejects any result that escapes Root
// paths outside the allowed root are rejected.
func (p *Proxy) ResolvePath(streamID string) (string, error) {
	rel, err := DecodeStreamID(streamID)
	if err != nil {
		return "", err
	}
	return p.containPath(rel)
}

func (p *Proxy) containPath(rel string) (string, error) {
	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.Root, abs)
	}
	abs = filepath.Clean(abs)
	root := filepath.Clean(p.Root)
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("resolved path escapes mount root")
	}
	return abs, nil
}

// ServeByStreamID decodes streamID, enforces containment, and serves the
// file with range support, served at `GET /vod/stream/{streamId}`.
func (p *Proxy) ServeByStreamID(w http.ResponseWriter, r *http.Request, streamID string) {
	abs, err := p.ResolvePath(streamID)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindFSUnavailable, "invalid stream id")
		return
	}
	p.serveFile(w, r, abs)
}

// ServePath serves an already-resolved, trusted file path (used for the
// processed-file endpoint, which is keyed by jobId rather than an
// attacker-controlled stream id).
func (p *Proxy) ServePath(w http.ResponseWriter, r *http.Request, path string) {
	p.serveFile(w, r, path)
}

func (p *Proxy) serveFile(w http.ResponseWriter, r *http.Request, absPath string) {
	info, err := runWithTimeout(p.statTimeout(), func() (os.FileInfo, error) {
		return os.Stat(absPath)
	})
	if err != nil {
		p.writeStatError(w, err)
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusNotFound, "", "not found")
		return
	}

	f, err := runWithTimeout(p.statTimeout(), func() (*os.File, error) {
		return os.Open(absPath)
	})
	if err != nil {
		p.writeStatError(w, err)
		return
	}
	defer f.Close()

	size := info.Size()
	w.Header().Set("Accept-Ranges", "bytes")

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		p.copyAndLog(w, f, r.Context())
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if errors.Is(err, errInvalidRange) {
		writeError(w, http.StatusBadRequest, "", "invalid range")
		return
	}
	if errors.Is(err, errRangeNotSatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusServiceUnavailable, domain.KindFSUnavailable, "failed to seek file")
		return
	}
	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, f, length); err != nil {
		p.logReadError(r.Context(), err)
	}
}

func (p *Proxy) copyAndLog(w http.ResponseWriter, f *os.File, ctx context.Context) {
	if _, err := io.Copy(w, f); err != nil {
		p.logReadError(ctx, err)
	}
}

// writeStatError maps a stat/open failure: a timeout from runWithTimeout is
// always domain.ErrFSUnavailable (503, retryable); a missing file is a
// plain 404.
func (p *Proxy) writeStatError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrFSUnavailable) {
		writeError(w, http.StatusServiceUnavailable, domain.KindFSUnavailable, "mounted filesystem unavailable")
		return
	}
	if os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "", "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "", "internal server error")
}

// logReadError logs a read failure without attempting to rewrite the
// response: headers (and possibly a partial body) have already been sent,
// so the best this proxy can do is stop writing and let the client retry
// on stream read errors the connection is terminated cleanly.
func (p *Proxy) logReadError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	p.Logger.Debug("range proxy read interrupted", slog.String("error", err.Error()))
}

func runWithTimeout[T any](timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.val, r.err
	case <-time.After(timeout):
		var zero T
		return zero, domain.ErrFSUnavailable
	}
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange parses a single-range `bytes=start-end` header; multi-range
// requests are rejected ("single-range only").
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "bytes=") {
		return 0, 0, errInvalidRange
	}

	spec := strings.TrimSpace(value[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, errInvalidRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errInvalidRange
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		if endStr == "" {
			return 0, 0, errInvalidRange
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}

	if endStr == "" {
		return start, size - 1, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, errInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := fmt.Sprintf(`{"error":%q,"message":%q}`, string(kind), message)
	_, _ = w.Write([]byte(body))
}
