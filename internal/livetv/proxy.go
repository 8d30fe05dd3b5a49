// Package livetv implements LiveTVProxy: manifest fetch-and-rewrite with
// master->media resolution, segment pass-through, and consecutive-failure
// source rotation per channel.
package livetv

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

// ManifestContentType is served for every playlist response, master or
// media (after this proxy resolves a master down to a media playlist).
const ManifestContentType = "application/vnd.apple.mpegurl"

// DefaultProxyBase prefixes every rewritten segment/sub-manifest URL; the
// HTTP layer mounts the proxy at this same path.
const DefaultProxyBase = "/livetv/stream/"

// maxManifestRecursion bounds master->media resolution to a single hop
// (fetch the first variant's sub-playlist inline and recurse once).
const maxManifestRecursion = 1

// SegmentResult is what FetchSegment hands back to the HTTP layer to
// stream to the client.
type SegmentResult struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64 // -1 when unknown
}

type channelState struct {
	mu          sync.Mutex
	core        domain.ChannelSourceState
	sourceCount int
}

// Proxy is the LiveTVProxy. Per-channel state is owned exclusively here —
// never persisted, never a package-level global — a struct owned by the
// LiveTVProxy component and passed by reference.
type Proxy struct {
	Catalog   ports.LiveTVCatalog
	Client    *http.Client
	ProxyBase string
	Logger    *slog.Logger

	mu     sync.Mutex
	states map[string]*channelState
}

func New(catalog ports.LiveTVCatalog, client *http.Client, logger *slog.Logger) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		Catalog:   catalog,
		Client:    client,
		ProxyBase: DefaultProxyBase,
		Logger:    logger,
		states:    make(map[string]*channelState),
	}
}

func (p *Proxy) stateFor(channelID string) *channelState {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs, ok := p.states[channelID]
	if !ok {
		cs = &channelState{}
		p.states[channelID] = cs
	}
	return cs
}

// Manifest fetches the channel's manifest, rotating through sources
// starting at the channel's active index; the first source that responds
// becomes active.
func (p *Proxy) Manifest(ctx context.Context, channelID string) ([]byte, string, error) {
	sources, err := p.Catalog.SourceURLs(ctx, channelID)
	if err != nil || len(sources) == 0 {
		return nil, "", domain.ErrBadStreamSources
	}

	cs := p.stateFor(channelID)
	cs.mu.Lock()
	cs.sourceCount = len(sources)
	start := cs.core.ActiveIndex % len(sources)
	cs.mu.Unlock()

	for i := 0; i < len(sources); i++ {
		idx := (start + i) % len(sources)
		body, err := p.fetchAndRewrite(ctx, sources[idx], channelID, 0)
		if err != nil {
			p.Logger.Debug("livetv source failed", slog.String("channelId", channelID), slog.Int("sourceIndex", idx), slog.String("error", err.Error()))
			continue
		}
		cs.mu.Lock()
		cs.core.ActiveIndex = idx
		cs.core.ConsecutiveFailCount = 0
		cs.mu.Unlock()
		return body, ManifestContentType, nil
	}
	return nil, "", domain.ErrBadStreamSources
}

// FetchSegment serves one segment request (query has `url`). A sub-manifest
// target (.m3u8) is recursively fetched and rewritten rather than piped;
// anything else streams through byte-for-byte.
func (p *Proxy) FetchSegment(ctx context.Context, channelID, target string) (SegmentResult, error) {
	if isManifestURL(target) {
		body, err := p.fetchAndRewrite(ctx, target, channelID, 0)
		if err != nil {
			p.recordFailure(ctx, channelID)
			return SegmentResult{}, err
		}
		p.recordSuccess(channelID)
		return SegmentResult{
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentType:   ManifestContentType,
			ContentLength: int64(len(body)),
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		p.recordFailure(ctx, channelID)
		return SegmentResult{}, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		p.recordFailure(ctx, channelID)
		return SegmentResult{}, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		p.recordFailure(ctx, channelID)
		return SegmentResult{}, fmt.Errorf("upstream segment status %d", resp.StatusCode)
	}

	p.recordSuccess(channelID)
	return SegmentResult{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}, nil
}

// recordFailure increments the channel's consecutive-failure counter and
// rotates the active source once the threshold is reached; activeIndex is
// non-decreasing modulo sourceCount.
func (p *Proxy) recordFailure(ctx context.Context, channelID string) {
	cs := p.stateFor(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.sourceCount == 0 {
		if sources, err := p.Catalog.SourceURLs(ctx, channelID); err == nil {
			cs.sourceCount = len(sources)
		}
	}

	cs.core.ConsecutiveFailCount++
	if cs.sourceCount > 0 && cs.core.ConsecutiveFailCount >= domain.SegmentFailThreshold {
		cs.core.ActiveIndex = (cs.core.ActiveIndex + 1) % cs.sourceCount
		cs.core.ConsecutiveFailCount = 0
	}
}

func (p *Proxy) recordSuccess(channelID string) {
	cs := p.stateFor(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.core.ConsecutiveFailCount = 0
}

// State returns a snapshot of a channel's failover cursor, for diagnostics.
func (p *Proxy) State(channelID string) domain.ChannelSourceState {
	cs := p.stateFor(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.core
}

func isManifestURL(target string) bool {
	parsed, err := url.Parse(target)
	path := target
	if err == nil {
		path = parsed.Path
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}

// fetchAndRewrite fetches one manifest, resolves a master playlist down to
// its first variant (at most one recursion), and rewrites every URL line to
// the proxy form.
func (p *Proxy) fetchAndRewrite(ctx context.Context, target, channelID string, depth int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream manifest status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("parse final manifest url: %w", err)
	}

	lines := splitLines(string(data))

	if variantURI, ok := firstVariantURI(lines); ok {
		if depth >= maxManifestRecursion {
			return nil, fmt.Errorf("master playlist nested beyond one level")
		}
		variantURL, err := resolveReference(base, variantURI)
		if err != nil {
			return nil, err
		}
		return p.fetchAndRewrite(ctx, variantURL, channelID, depth+1)
	}

	return rewriteLines(lines, base, channelID, p.proxyBase()), nil
}

func (p *Proxy) proxyBase() string {
	if p.ProxyBase == "" {
		return DefaultProxyBase
	}
	return p.ProxyBase
}

func splitLines(content string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// firstVariantURI reports the first non-comment URI line following an
// EXT-X-STREAM-INF tag, which marks this as a master playlist.
func firstVariantURI(lines []string) (string, bool) {
	sawStreamInf := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			sawStreamInf = true
			continue
		}
		if !sawStreamInf {
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
	return "", false
}

func resolveReference(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}

// rewriteLines rewrites every non-comment, non-blank line to the proxy
// form; comments and blank lines pass through unchanged.
func rewriteLines(lines []string, base *url.URL, channelID, proxyBase string) []byte {
	var out bytes.Buffer
	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		absolute, err := resolveReference(base, trimmed)
		if err != nil {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		out.WriteString(rewriteURL(proxyBase, channelID, absolute))
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func rewriteURL(proxyBase, channelID, absoluteURL string) string {
	q := url.Values{}
	q.Set("url", absoluteURL)
	return strings.TrimSuffix(proxyBase, "/") + "/" + channelID + "?" + q.Encode()
}
