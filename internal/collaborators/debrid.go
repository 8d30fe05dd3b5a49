package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

// DebridClient is the reference ports.DebridClient: a generic REST client
// against a debrid provider's magnet-add/status/delete endpoints (the
// shape shared by Real-Debrid, AllDebrid, Premiumize, etc). Grounded on the
// JSON-over-http.Client request pattern used throughout the debrid health
// checker in the retrieval pack's strmr reference file, adapted from a
// torrent-health poller to the add-magnet/poll-status/cancel contract
// ports.DebridClient requires.
type DebridClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewDebridClient(baseURL, apiKey string, client *http.Client) *DebridClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DebridClient{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, Client: client}
}

// torrentHandle is the concrete type behind ports.TorrentHandle for this
// client: the provider-assigned torrent id.
type torrentHandle struct {
	id string
}

type addMagnetResponse struct {
	ID string `json:"id"`
}

func (d *DebridClient) AddMagnet(ctx context.Context, magnet string) (ports.TorrentHandle, error) {
	form := url.Values{"magnet": {magnet}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/torrents/addMagnet", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("debrid: build add-magnet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("debrid: add magnet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("debrid: add magnet returned status %d", resp.StatusCode)
	}

	var out addMagnetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("debrid: decode add-magnet response: %w", err)
	}
	return torrentHandle{id: out.ID}, nil
}

type torrentInfoResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Seeders  int     `json:"seeders"`
	Speed    int64   `json:"speed"`
	Links    []string `json:"links"`
	Filename string  `json:"filename"`
}

// Status maps the provider's native status strings onto ports.DebridState.
// Naming varies by provider; these are the strings Real-Debrid-shaped APIs
// use, the most common debrid wire format in the retrieval pack.
func (d *DebridClient) Status(ctx context.Context, handle ports.TorrentHandle) (ports.DebridStatus, error) {
	h, ok := handle.(torrentHandle)
	if !ok {
		return ports.DebridStatus{}, fmt.Errorf("debrid: unrecognized torrent handle")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/torrents/info/"+url.PathEscape(h.id), nil)
	if err != nil {
		return ports.DebridStatus{}, fmt.Errorf("debrid: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := d.Client.Do(req)
	if err != nil {
		return ports.DebridStatus{}, fmt.Errorf("debrid: status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnavailableForLegalReasons {
		return ports.DebridStatus{State: ports.DebridStateDMCA}, nil
	}
	if resp.StatusCode >= 300 {
		return ports.DebridStatus{}, fmt.Errorf("debrid: status returned status %d", resp.StatusCode)
	}

	var info torrentInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ports.DebridStatus{}, fmt.Errorf("debrid: decode status response: %w", err)
	}

	status := ports.DebridStatus{
		Progress:   info.Progress / 100,
		Seeders:    info.Seeders,
		SpeedBytes: info.Speed,
		FileName:   info.Filename,
		State:      mapDebridState(info.Status),
	}
	if status.State == ports.DebridStateDownloaded && len(info.Links) > 0 {
		status.DirectURL = info.Links[0]
	}
	return status, nil
}

func mapDebridState(raw string) ports.DebridState {
	switch strings.ToLower(raw) {
	case "magnet_conversion", "waiting_files_selection":
		return ports.DebridStateMagnetConversion
	case "downloaded":
		return ports.DebridStateDownloaded
	case "error", "virus", "dead":
		return ports.DebridStateError
	case "downloading", "queued", "compressing", "uploading":
		return ports.DebridStateDownloading
	default:
		return ports.DebridStateDownloading
	}
}

// Cancel deletes the torrent from the provider's account, the best-effort
// orphan cleanup fired after a candidate is abandoned.
func (d *DebridClient) Cancel(ctx context.Context, handle ports.TorrentHandle) error {
	h, ok := handle.(torrentHandle)
	if !ok {
		return fmt.Errorf("debrid: unrecognized torrent handle")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, d.BaseURL+"/torrents/delete/"+url.PathEscape(h.id), nil)
	if err != nil {
		return fmt.Errorf("debrid: build cancel request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.APIKey)

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("debrid: cancel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("debrid: cancel returned status %d", resp.StatusCode)
	}
	return nil
}
