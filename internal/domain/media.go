package domain

import "time"

// TrackKind mirrors ffprobe's codec_type field.
type TrackKind string

const (
	TrackVideo    TrackKind = "video"
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

// MediaTrack is one stream reported by the Prober collaborator.
type MediaTrack struct {
	Kind      TrackKind `json:"kind"`
	Index     int       `json:"index"`
	CodecName string    `json:"codecName"`
	Language  string    `json:"language,omitempty"`
	Channels  int       `json:"channels,omitempty"`
	Default   bool      `json:"default"`
	Forced    bool      `json:"forced"`
	SDH       bool      `json:"sdh"`
}

// MediaInfo is the probe result for one candidate stream URL.
type MediaInfo struct {
	ContainerFormat string
	Tracks          []MediaTrack
	HasChapters     bool
	DurationSeconds float64
	ProbeDuration   time.Duration
	TimedOut        bool
}

func (m MediaInfo) VideoTrack() (MediaTrack, bool) {
	for _, t := range m.Tracks {
		if t.Kind == TrackVideo {
			return t, true
		}
	}
	return MediaTrack{}, false
}

func (m MediaInfo) AudioTracks() []MediaTrack {
	var out []MediaTrack
	for _, t := range m.Tracks {
		if t.Kind == TrackAudio {
			out = append(out, t)
		}
	}
	return out
}

func (m MediaInfo) SubtitleTracks() []MediaTrack {
	var out []MediaTrack
	for _, t := range m.Tracks {
		if t.Kind == TrackSubtitle {
			out = append(out, t)
		}
	}
	return out
}

func (m MediaInfo) IsMatroskaLike() bool {
	switch m.ContainerFormat {
	case "matroska", "webm":
		return true
	default:
		return false
	}
}

// AudioProcessingKind describes what the remuxer must do to the audio
// track, if anything.
type AudioProcessingKind string

const (
	AudioProcessingNone      AudioProcessingKind = "none"
	AudioProcessingRemapTo   AudioProcessingKind = "remap"    // pick a different compatible embedded stream
	AudioProcessingTranscode AudioProcessingKind = "transcode"
)

// ValidationPlan is the Validator's output: whether to accept the
// candidate, and what processing (if any) is required before it is
// playable on the requesting client.
type ValidationPlan struct {
	Accepted bool
	Reason   ErrorKind

	NeedsContainerRemux bool // matroska-like container on a web client
	HEVCTag             bool // add hvc1 tag when video codec is hevc

	AudioProcessing   AudioProcessingKind
	ChosenAudioIndex  int
	TranscodeTarget   string // widely-compatible codec name, e.g. "aac"

	NeedsSubtitleCleanup bool

	EmbeddedSubtitleTracks   []SubtitleTrack
	RecommendedSubtitleIndex *int
	HasEnglishSubtitle       bool
}
