package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// DefaultProbeTimeout bounds a probe when the caller's context carries no
// deadline of its own, guarding against a hung subprocess.
const DefaultProbeTimeout = 20 * time.Second

// FFProbeClient is the reference ports.Prober: shells out to ffprobe and
// parses its JSON `-show_streams -show_format` output into domain.MediaInfo.
// Grounded almost directly on
// services/torrent-engine/internal/services/torrent/engine/ffprobe/ffprobe.go,
// adapted from that file's flat MediaTrack shape (single Index counter
// across all stream types, no container/forced/SDH) to this system's
// MediaInfo (container format, per-kind indices, subtitle forced/SDH
// disposition) and from probing a local file path to probing a remote
// candidate stream URL.
type FFProbeClient struct {
	Binary string
}

func NewFFProbeClient(binary string) *FFProbeClient {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbeClient{Binary: bin}
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Channels    int               `json:"channels"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default     int `json:"default"`
		Forced      int `json:"forced"`
		HearingImpaired int `json:"hearing_impaired"`
	} `json:"disposition"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Chapters   int    `json:"nb_chapters"`
}

func (p *FFProbeClient) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	start := time.Now()
	if strings.TrimSpace(url) == "" {
		return domain.MediaInfo{}, fmt.Errorf("probe: url is required")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-show_chapters",
		url,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return domain.MediaInfo{ProbeDuration: duration, TimedOut: true}, nil
	}

	info, parseErr := parseProbePayload(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}
	if runErr != nil && len(info.Tracks) == 0 {
		msg := strings.TrimSpace(stderr.String())
		return domain.MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
	}

	info.ProbeDuration = duration
	return info, nil
}

func parseProbePayload(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	var tracks []domain.MediaTrack
	videoIdx, audioIdx, subIdx := 0, 0, 0
	for _, s := range payload.Streams {
		switch s.CodecType {
		case "video":
			tracks = append(tracks, domain.MediaTrack{
				Kind: domain.TrackVideo, Index: videoIdx, CodecName: s.CodecName,
				Language: getTag(s.Tags, "language"), Default: s.Disposition.Default == 1,
			})
			videoIdx++
		case "audio":
			tracks = append(tracks, domain.MediaTrack{
				Kind: domain.TrackAudio, Index: audioIdx, CodecName: s.CodecName, Channels: s.Channels,
				Language: getTag(s.Tags, "language"), Default: s.Disposition.Default == 1,
			})
			audioIdx++
		case "subtitle":
			tracks = append(tracks, domain.MediaTrack{
				Kind: domain.TrackSubtitle, Index: subIdx, CodecName: s.CodecName,
				Language: getTag(s.Tags, "language"),
				Default:  s.Disposition.Default == 1,
				Forced:   s.Disposition.Forced == 1,
				SDH:      s.Disposition.HearingImpaired == 1,
			})
			subIdx++
		}
	}

	var duration float64
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
			duration = d
		}
	}

	return domain.MediaInfo{
		ContainerFormat: firstFormatName(payload.Format.FormatName),
		Tracks:          tracks,
		HasChapters:     payload.Format.Chapters > 0,
		DurationSeconds: duration,
	}, nil
}

// firstFormatName takes the first entry of ffprobe's comma-separated
// format_name (e.g. "matroska,webm" -> "matroska").
func firstFormatName(raw string) string {
	if idx := strings.IndexByte(raw, ','); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if v, ok := tags[key]; ok {
		return v
	}
	if v, ok := tags[strings.ToUpper(key)]; ok {
		return v
	}
	return ""
}
