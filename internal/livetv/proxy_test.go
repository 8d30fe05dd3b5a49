package livetv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

type fakeCatalog struct {
	sources []string
}

func (f fakeCatalog) SourceURLs(ctx context.Context, channelID string) ([]string, error) {
	return f.sources, nil
}

func TestManifestRewritesMediaPlaylist(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg-0.ts\n#EXT-X-ENDLIST\n"))
	}))
	defer upstream.Close()

	p := New(fakeCatalog{sources: []string{upstream.URL + "/live.m3u8"}}, upstream.Client(), nil)
	body, contentType, err := p.Manifest(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if contentType != ManifestContentType {
		t.Fatalf("contentType = %q", contentType)
	}
	text := string(body)
	if !strings.Contains(text, "#EXT-X-TARGETDURATION:6") {
		t.Fatalf("comment line dropped: %q", text)
	}
	if !strings.Contains(text, "/livetv/stream/c1?url=") {
		t.Fatalf("segment line not rewritten: %q", text)
	}
	if strings.Contains(text, "\nseg-0.ts\n") {
		t.Fatalf("segment URL should have been replaced, got: %q", text)
	}
}

func TestManifestResolvesMasterToMedia(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000\nv1.m3u8\n"))
		case "/v1.m3u8":
			w.Write([]byte("#EXTM3U\nseg-0.ts\n#EXT-X-ENDLIST\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	p := New(fakeCatalog{sources: []string{upstream.URL + "/master.m3u8"}}, upstream.Client(), nil)
	body, _, err := p.Manifest(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if strings.Contains(string(body), "STREAM-INF") {
		t.Fatalf("expected media playlist, got master content: %q", body)
	}
	if !strings.Contains(string(body), "/livetv/stream/c1?url=") {
		t.Fatalf("expected rewritten segment line, got: %q", body)
	}
}

func TestManifestFailsOverToSecondSource(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\nseg-0.ts\n"))
	}))
	defer good.Close()

	p := New(fakeCatalog{sources: []string{"http://127.0.0.1:1/broken.m3u8", good.URL + "/live.m3u8"}}, good.Client(), nil)
	_, _, err := p.Manifest(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if got := p.State("c1").ActiveIndex; got != 1 {
		t.Fatalf("activeIndex = %d, want 1", got)
	}
}

func TestManifestAllSourcesFailReturnsBadStreamSources(t *testing.T) {
	p := New(fakeCatalog{sources: []string{"http://127.0.0.1:1/a.m3u8", "http://127.0.0.1:1/b.m3u8"}}, http.DefaultClient, nil)
	_, _, err := p.Manifest(context.Background(), "c1")
	if err != domain.ErrBadStreamSources {
		t.Fatalf("err = %v, want ErrBadStreamSources", err)
	}
}

func TestSegmentFailureRotatesAfterThreshold(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("segment-bytes"))
	}))
	defer upstream.Close()

	p := New(fakeCatalog{sources: []string{upstream.URL + "/s0", upstream.URL + "/s1"}}, upstream.Client(), nil)
	// Seed source count via a manifest-independent failure path.
	for i := 0; i < domain.SegmentFailThreshold; i++ {
		if _, err := p.FetchSegment(context.Background(), "c1", upstream.URL+"/bad.ts"); err == nil {
			t.Fatalf("expected segment fetch to fail")
		}
	}
	if got := p.State("c1").ActiveIndex; got != 1 {
		t.Fatalf("activeIndex = %d, want 1 after %d consecutive failures", got, domain.SegmentFailThreshold)
	}
	if got := p.State("c1").ConsecutiveFailCount; got != 0 {
		t.Fatalf("consecutiveFailCount = %d, want reset to 0", got)
	}
}

func TestSegmentSuccessResetsFailCount(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("segment-bytes"))
	}))
	defer upstream.Close()

	p := New(fakeCatalog{sources: []string{upstream.URL + "/s0", upstream.URL + "/s1"}}, upstream.Client(), nil)
	p.FetchSegment(context.Background(), "c1", upstream.URL+"/bad.ts")
	p.FetchSegment(context.Background(), "c1", upstream.URL+"/bad.ts")
	result, err := p.FetchSegment(context.Background(), "c1", upstream.URL+"/good.ts")
	if err != nil {
		t.Fatalf("FetchSegment: %v", err)
	}
	result.Body.Close()
	if got := p.State("c1").ConsecutiveFailCount; got != 0 {
		t.Fatalf("consecutiveFailCount = %d, want 0 after success", got)
	}
}
