package domain

import "time"

// SubtitleTrack describes one subtitle stream as surfaced to the client's
// own track selector.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Language string `json:"language"`
	Forced   bool   `json:"forced"`
	Default  bool   `json:"default"`
	SDH      bool   `json:"sdh"`
	Keep     bool   `json:"keep"`
}

// SkipMarkers are intro/credits boundaries, in seconds from start.
type SkipMarkers struct {
	IntroStart   *float64 `json:"introStart,omitempty"`
	IntroEnd     *float64 `json:"introEnd,omitempty"`
	CreditsStart *float64 `json:"creditsStart,omitempty"`
}

// ExternalSubtitle is a fetched/synced subtitle file offered to the client.
type ExternalSubtitle struct {
	Language string `json:"language"`
	URL      string `json:"url"`
	Synced   bool   `json:"synced"`
}

// NextEpisodeHint lets the client chain autoplay without a fresh lookup.
type NextEpisodeHint struct {
	ContentRef ContentRef `json:"contentRef"`
	Title      string     `json:"title"`
}

// Job is the unit of work tracked by JobRegistry. Mutated only through
// JobRegistry.Update, which enforces the terminal-state invariant.
type Job struct {
	ID        string     `json:"id"`
	ContentRef ContentRef `json:"contentRef"`
	UserRef   string     `json:"userRef"`
	CreatedAt time.Time  `json:"createdAt"`

	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress"`
	HumanMessage    string    `json:"message"`

	StreamURL         string    `json:"streamUrl,omitempty"`
	FileName          string    `json:"fileName,omitempty"`
	Quality           string    `json:"quality,omitempty"`
	ErrorKind         ErrorKind `json:"error,omitempty"`
	ProcessedFilePath string    `json:"-"`

	AttemptedSources []AttemptedSource `json:"attemptedSources"`

	IsPrefetch                bool `json:"isPrefetch"`
	UsedOverBandwidthFallback bool `json:"usedOverBandwidthFallback"`

	EmbeddedSubtitleTracks   []SubtitleTrack `json:"embeddedSubtitleTracks,omitempty"`
	RecommendedSubtitleIndex *int            `json:"recommendedSubtitleIndex,omitempty"`

	SkipMarkers *SkipMarkers       `json:"skipMarkers,omitempty"`
	Subtitles   []ExternalSubtitle `json:"subtitles,omitempty"`
	NextEpisode *NextEpisodeHint   `json:"nextEpisode,omitempty"`

	BandwidthMeasuredAt *time.Time `json:"-"`

	UpdatedAt time.Time `json:"-"`
}

// Snapshot returns a value copy safe to hand to callers outside the
// registry's lock.
func (j Job) Snapshot() Job {
	cp := j
	cp.AttemptedSources = append([]AttemptedSource(nil), j.AttemptedSources...)
	cp.EmbeddedSubtitleTracks = append([]SubtitleTrack(nil), j.EmbeddedSubtitleTracks...)
	cp.Subtitles = append([]ExternalSubtitle(nil), j.Subtitles...)
	return cp
}

// SuggestBandwidthRetest is true if an over-bandwidth fallback was used, or
// the bandwidth measurement backing this job is older than an hour.
func (j Job) SuggestBandwidthRetest(now time.Time) bool {
	if j.UsedOverBandwidthFallback {
		return true
	}
	if j.BandwidthMeasuredAt == nil {
		return false
	}
	return now.Sub(*j.BandwidthMeasuredAt) > time.Hour
}

// SynthesizedMessage produces a human message from status when none was
// set explicitly.
func (j Job) SynthesizedMessage() string {
	if j.HumanMessage != "" {
		return j.HumanMessage
	}
	switch j.Status {
	case StatusSearching:
		return "Searching for sources..."
	case StatusDownloading:
		return "Downloading..."
	case StatusProcessing:
		return "Processing..."
	case StatusCompleted:
		return "Ready to play."
	case StatusError:
		return "No playable source was found."
	default:
		return ""
	}
}
