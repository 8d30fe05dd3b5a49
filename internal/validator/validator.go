// Package validator probes a candidate stream URL and decides whether its
// container/codecs are safe for the requesting client, and what processing
// (remux, audio transcode, subtitle cleanup) would make it so.
package validator

import (
	"context"
	"sort"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

// DefaultAcceptedVideoCodecs is the configurable set of video codecs the
// client can play without transcoding.
var DefaultAcceptedVideoCodecs = map[string]bool{
	"h264": true,
	"hevc": true,
	"av1":  true,
	"vp9":  true,
}

// DefaultAcceptedAudioCodecs mirrors the same idea for audio.
var DefaultAcceptedAudioCodecs = map[string]bool{
	"aac":  true,
	"ac3":  true,
	"eac3": true,
	"flac": true,
	"mp3":  true,
}

// DefaultTranscodeTarget is the widely-compatible audio codec used when no
// embedded stream can be used as-is.
const DefaultTranscodeTarget = "aac"

// Config lets the embedding application narrow the accepted codec sets per
// deployment (e.g. a stricter native-app policy).
type Config struct {
	AcceptedVideoCodecs map[string]bool
	AcceptedAudioCodecs map[string]bool
	TranscodeTarget     string
}

func DefaultConfig() Config {
	return Config{
		AcceptedVideoCodecs: DefaultAcceptedVideoCodecs,
		AcceptedAudioCodecs: DefaultAcceptedAudioCodecs,
		TranscodeTarget:     DefaultTranscodeTarget,
	}
}

type Validator struct {
	Prober ports.Prober
	Config Config
}

func New(prober ports.Prober, cfg Config) *Validator {
	if cfg.AcceptedVideoCodecs == nil {
		cfg.AcceptedVideoCodecs = DefaultAcceptedVideoCodecs
	}
	if cfg.AcceptedAudioCodecs == nil {
		cfg.AcceptedAudioCodecs = DefaultAcceptedAudioCodecs
	}
	if cfg.TranscodeTarget == "" {
		cfg.TranscodeTarget = DefaultTranscodeTarget
	}
	return &Validator{Prober: prober, Config: cfg}
}

// Validate probes url and builds a ValidationPlan per the rules in.
func (v *Validator) Validate(ctx context.Context, url string, platform domain.PlatformHint, preferredLanguage string) (domain.ValidationPlan, error) {
	info, err := v.Prober.Probe(ctx, url)
	if err != nil {
		return domain.ValidationPlan{}, err
	}
	return v.evaluate(info, platform, preferredLanguage), nil
}

func (v *Validator) evaluate(info domain.MediaInfo, platform domain.PlatformHint, preferredLanguage string) domain.ValidationPlan {
	plan := domain.ValidationPlan{}

	video, hasVideo := info.VideoTrack()
	if info.TimedOut {
		// "Treat video as accepted-if-codec-known and audio as compatible
		// to avoid false rejection" —.
		if hasVideo && !v.Config.AcceptedVideoCodecs[video.CodecName] {
			plan.Reason = domain.KindIncompatibleVideo
			return plan
		}
		plan.Accepted = true
		return v.finishSubtitles(plan, info, preferredLanguage)
	}

	if !hasVideo || !v.Config.AcceptedVideoCodecs[video.CodecName] {
		plan.Reason = domain.KindIncompatibleVideo
		return plan
	}
	plan.Accepted = true

	audioTracks := info.AudioTracks()
	defaultAudio, hasDefaultAudio := defaultOrFirst(audioTracks)

	if hasDefaultAudio && v.Config.AcceptedAudioCodecs[defaultAudio.CodecName] {
		plan.AudioProcessing = domain.AudioProcessingNone
	} else {
		alt, found := v.bestAlternateAudio(audioTracks, preferredLanguage)
		if found {
			plan.AudioProcessing = domain.AudioProcessingRemapTo
			plan.ChosenAudioIndex = alt.Index
		} else {
			plan.AudioProcessing = domain.AudioProcessingTranscode
			plan.TranscodeTarget = v.Config.TranscodeTarget
		}
	}

	if platform == domain.PlatformWeb && info.IsMatroskaLike() {
		plan.NeedsContainerRemux = true
		if hasVideo && video.CodecName == "hevc" {
			plan.HEVCTag = true
		}
	}

	return v.finishSubtitles(plan, info, preferredLanguage)
}

// finishSubtitles fills in the subtitle-cleanup decision and the
// client-facing track list.
func (v *Validator) finishSubtitles(plan domain.ValidationPlan, info domain.MediaInfo, preferredLanguage string) domain.ValidationPlan {
	subs := info.SubtitleTracks()
	tracks := make([]domain.SubtitleTrack, 0, len(subs))
	needsCleanup := false

	for _, s := range subs {
		langKnown := s.Language != "" && s.Language != "und"
		forcedNotDefault := s.Forced && !s.Default
		keep := langKnown && !forcedNotDefault

		if !langKnown || forcedNotDefault {
			needsCleanup = true
		}

		tracks = append(tracks, domain.SubtitleTrack{
			Index:    s.Index,
			Language: s.Language,
			Forced:   s.Forced,
			Default:  s.Default,
			SDH:      s.SDH,
			Keep:     keep,
		})
	}

	plan.NeedsSubtitleCleanup = needsCleanup
	plan.EmbeddedSubtitleTracks = tracks
	plan.RecommendedSubtitleIndex = recommendedSubtitleIndex(tracks, preferredLanguage)
	plan.HasEnglishSubtitle = hasKeptNonForcedEnglish(tracks)
	return plan
}

func defaultOrFirst(tracks []domain.MediaTrack) (domain.MediaTrack, bool) {
	for _, t := range tracks {
		if t.Default {
			return t, true
		}
	}
	if len(tracks) > 0 {
		return tracks[0], true
	}
	return domain.MediaTrack{}, false
}

// bestAlternateAudio picks the best-compatible non-default audio stream by
// preference order: same-language priority -> channel count -> codec
// preference.
func (v *Validator) bestAlternateAudio(tracks []domain.MediaTrack, preferredLanguage string) (domain.MediaTrack, bool) {
	var candidates []domain.MediaTrack
	for _, t := range tracks {
		if v.Config.AcceptedAudioCodecs[t.CodecName] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return domain.MediaTrack{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aLang := a.Language == preferredLanguage
		bLang := b.Language == preferredLanguage
		if aLang != bLang {
			return aLang
		}
		if a.Channels != b.Channels {
			return a.Channels > b.Channels
		}
		return audioCodecRank(a.CodecName) < audioCodecRank(b.CodecName)
	})
	return candidates[0], true
}

// audioCodecRank is a lower-is-better preference order among accepted
// codecs when channel count and language are tied.
func audioCodecRank(codec string) int {
	switch codec {
	case "eac3":
		return 0
	case "ac3":
		return 1
	case "aac":
		return 2
	case "flac":
		return 3
	default:
		return 4
	}
}

// recommendedSubtitleIndex: first English non-forced kept track, else
// first kept English, else none.
func recommendedSubtitleIndex(tracks []domain.SubtitleTrack, preferredLanguage string) *int {
	if preferredLanguage == "" {
		preferredLanguage = "eng"
	}
	var firstEnglishKept *int
	for _, t := range tracks {
		if !t.Keep || t.Language != preferredLanguage {
			continue
		}
		idx := t.Index
		if !t.Forced {
			return &idx
		}
		if firstEnglishKept == nil {
			firstEnglishKept = &idx
		}
	}
	return firstEnglishKept
}

func hasKeptNonForcedEnglish(tracks []domain.SubtitleTrack) bool {
	for _, t := range tracks {
		if t.Keep && !t.Forced && (t.Language == "eng" || t.Language == "en") {
			return true
		}
	}
	return false
}
