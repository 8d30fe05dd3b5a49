package collaborators

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/resolver"
)

// ProwlarrClient is the reference ports.ProwlarrSearch: a Torznab-protocol
// client against a Prowlarr instance's aggregated /api/v1/search endpoint.
// Grounded directly on
// services/torrent-search/internal/providers/torznab/provider.go's XML item
// parsing and attr-map extraction, trimmed to the single aggregated-search
// call Prowlarr itself exposes (Prowlarr fans out to its own indexers; this
// client does not need torznab.Provider's per-Jackett-indexer fan-out).
type ProwlarrClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Retry   resolver.RetryConfig
}

func NewProwlarrClient(baseURL, apiKey string, client *http.Client) *ProwlarrClient {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ProwlarrClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  client,
		Retry:   resolver.DefaultRetryConfig(),
	}
}

type torznabResponse struct {
	Channel torznabChannel `xml:"channel"`
}

type torznabChannel struct {
	Items []torznabItem `xml:"item"`
}

type torznabItem struct {
	Title     string           `xml:"title"`
	Guid      string           `xml:"guid"`
	Link      string           `xml:"link"`
	Enclosure torznabEnclosure `xml:"enclosure"`
	Attrs     []torznabAttr    `xml:"attr"`
}

type torznabEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Search fires the Torznab query in the background and streams the single
// result batch Prowlarr returns onto the channel, then closes it. Prowlarr
// itself does not paginate/stream within one request — the "may stream
// partial results" character SourceResolver relies on comes from
// running alongside Zurg, not from multiple Prowlarr batches.
func (p *ProwlarrClient) Search(ctx context.Context, ref domain.ContentRef) (<-chan []domain.CandidateSource, error) {
	out := make(chan []domain.CandidateSource, 1)
	go func() {
		defer close(out)
		items, err := p.doSearch(ctx, ref)
		if err != nil {
			return
		}
		if len(items) > 0 {
			out <- items
		}
	}()
	return out, nil
}

func (p *ProwlarrClient) doSearch(ctx context.Context, ref domain.ContentRef) ([]domain.CandidateSource, error) {
	query := buildSearchQuery(ref)

	var payload []byte
	err := resolver.RetryWithBackoff(ctx, p.Retry, func() error {
		uri, perr := url.Parse(p.BaseURL + "/api/v1/search")
		if perr != nil {
			return perr
		}
		q := uri.Query()
		q.Set("query", query)
		q.Set("type", "search")
		q.Set("apikey", p.APIKey)
		uri.RawQuery = q.Encode()

		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
		if rerr != nil {
			return rerr
		}
		req.Header.Set("Accept", "application/xml,text/xml,application/rss+xml")

		resp, derr := p.Client.Do(req)
		if derr != nil {
			return derr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("prowlarr HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
		if rerr != nil {
			return rerr
		}
		payload = body
		return nil
	})
	if err != nil {
		return nil, err
	}

	var feed torznabResponse
	if err := xml.Unmarshal(payload, &feed); err != nil {
		return nil, fmt.Errorf("prowlarr: invalid torznab response: %w", err)
	}

	out := make([]domain.CandidateSource, 0, len(feed.Channel.Items))
	seen := make(map[string]struct{}, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		cand, ok := itemToCandidate(item)
		if !ok {
			continue
		}
		if _, dup := seen[cand.StableKey]; dup {
			continue
		}
		seen[cand.StableKey] = struct{}{}
		out = append(out, cand)
	}
	return out, nil
}

func buildSearchQuery(ref domain.ContentRef) string {
	parts := []string{ref.DisplayTitle}
	if parts[0] == "" {
		parts[0] = ref.ExternalID
	}
	if ref.Kind == domain.KindTV && ref.Season != nil && ref.Episode != nil {
		parts = append(parts, fmt.Sprintf("S%02dE%02d", *ref.Season, *ref.Episode))
	}
	return strings.Join(parts, " ")
}

func itemToCandidate(item torznabItem) (domain.CandidateSource, bool) {
	attrs := make(map[string]string, len(item.Attrs))
	for _, a := range item.Attrs {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if key == "" {
			continue
		}
		if _, exists := attrs[key]; !exists {
			attrs[key] = strings.TrimSpace(a.Value)
		}
	}

	magnet := firstMagnet(item.Guid, item.Link, item.Enclosure.URL)
	infoHash := strings.ToLower(strings.TrimSpace(attrs["infohash"]))
	if infoHash == "" && magnet != "" {
		infoHash = extractInfoHashFromMagnet(magnet)
	}
	if infoHash == "" {
		return domain.CandidateSource{}, false
	}
	if magnet == "" {
		magnet = "magnet:?xt=urn:btih:" + infoHash + "&dn=" + url.QueryEscape(item.Title)
	}

	var size *int64
	if sizeBytes := parseI64(attrs["size"]); sizeBytes > 0 {
		size = &sizeBytes
	} else if item.Enclosure.Length > 0 {
		v := item.Enclosure.Length
		size = &v
	}

	seeders := parseI64(attrs["seeders"])

	return domain.CandidateSource{
		Provenance:       domain.ProvenanceProwlarr,
		StableKey:        infoHash,
		MagnetOrPath:     magnet,
		QualityLabel:     qualityLabelFromTitle(item.Title),
		ResolutionHeight: resolutionFromTitle(item.Title),
		SizeBytes:        size,
		CachedOnDebrid:   false,
		Score:            scoreFromAttrs(seeders, size),
	}, true
}

func firstMagnet(candidates ...string) string {
	for _, c := range candidates {
		v := strings.TrimSpace(c)
		if strings.HasPrefix(strings.ToLower(v), "magnet:?") {
			return v
		}
	}
	return ""
}

func extractInfoHashFromMagnet(magnet string) string {
	parsed, err := url.Parse(magnet)
	if err != nil {
		return ""
	}
	xt := parsed.Query().Get("xt")
	return strings.ToLower(strings.TrimPrefix(xt, "urn:btih:"))
}

func parseI64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var resolutionMarkers = []struct {
	marker string
	height int
}{
	{"2160p", 2160}, {"4k", 2160},
	{"1440p", 1440},
	{"1080p", 1080},
	{"720p", 720},
	{"480p", 480},
}

func resolutionFromTitle(title string) int {
	lower := strings.ToLower(title)
	for _, m := range resolutionMarkers {
		if strings.Contains(lower, m.marker) {
			return m.height
		}
	}
	return 0
}

func qualityLabelFromTitle(title string) string {
	height := resolutionFromTitle(title)
	if height == 0 {
		return "SD"
	}
	return fmt.Sprintf("%dp", height)
}

// scoreFromAttrs favors more-seeded, larger (usually higher-bitrate)
// releases, the same seeders-then-size preference
// services/torrent-search ranks search results by.
func scoreFromAttrs(seeders int64, size *int64) float64 {
	score := float64(seeders) * 10
	if size != nil {
		score += float64(*size) / (1 << 30) // +1 point per GiB
	}
	return score
}
