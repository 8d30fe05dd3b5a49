package validator

import (
	"context"
	"testing"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

type fakeProber struct {
	info domain.MediaInfo
	err  error
}

func (f fakeProber) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	return f.info, f.err
}

func TestValidateRejectsUnknownVideoCodec(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{Tracks: []domain.MediaTrack{
		{Kind: domain.TrackVideo, CodecName: "mpeg2video"},
	}}}, DefaultConfig())

	plan, err := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Accepted {
		t.Fatalf("expected rejection for unknown video codec")
	}
	if plan.Reason != domain.KindIncompatibleVideo {
		t.Fatalf("reason = %v, want KindIncompatibleVideo", plan.Reason)
	}
}

func TestValidateAcceptsCompatibleAudioAsIs(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{Tracks: []domain.MediaTrack{
		{Kind: domain.TrackVideo, CodecName: "h264"},
		{Kind: domain.TrackAudio, CodecName: "aac", Default: true},
	}}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if !plan.Accepted {
		t.Fatalf("expected acceptance")
	}
	if plan.AudioProcessing != domain.AudioProcessingNone {
		t.Fatalf("audioProcessing = %v, want none", plan.AudioProcessing)
	}
}

func TestValidateRemapsToCompatibleNonDefaultAudio(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{Tracks: []domain.MediaTrack{
		{Kind: domain.TrackVideo, CodecName: "h264"},
		{Kind: domain.TrackAudio, Index: 1, CodecName: "dts", Default: true},
		{Kind: domain.TrackAudio, Index: 2, CodecName: "ac3", Language: "eng", Channels: 6},
	}}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if plan.AudioProcessing != domain.AudioProcessingRemapTo {
		t.Fatalf("audioProcessing = %v, want remap", plan.AudioProcessing)
	}
	if plan.ChosenAudioIndex != 2 {
		t.Fatalf("chosenAudioIndex = %d, want 2", plan.ChosenAudioIndex)
	}
}

func TestValidateFallsBackToTranscodeWhenNoCompatibleAudio(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{Tracks: []domain.MediaTrack{
		{Kind: domain.TrackVideo, CodecName: "h264"},
		{Kind: domain.TrackAudio, CodecName: "dts", Default: true},
	}}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if plan.AudioProcessing != domain.AudioProcessingTranscode {
		t.Fatalf("audioProcessing = %v, want transcode", plan.AudioProcessing)
	}
	if plan.TranscodeTarget != DefaultTranscodeTarget {
		t.Fatalf("transcodeTarget = %q, want %q", plan.TranscodeTarget, DefaultTranscodeTarget)
	}
}

func TestValidateFlagsMatroskaRemuxForWebClients(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{
		ContainerFormat: "matroska",
		Tracks: []domain.MediaTrack{
			{Kind: domain.TrackVideo, CodecName: "hevc"},
			{Kind: domain.TrackAudio, CodecName: "aac", Default: true},
		},
	}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if !plan.NeedsContainerRemux {
		t.Fatalf("expected NeedsContainerRemux for matroska on web")
	}
	if !plan.HEVCTag {
		t.Fatalf("expected HEVCTag for hevc video")
	}
}

func TestValidateSkipsRemuxForNativeClients(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{
		ContainerFormat: "matroska",
		Tracks: []domain.MediaTrack{
			{Kind: domain.TrackVideo, CodecName: "h264"},
			{Kind: domain.TrackAudio, CodecName: "aac", Default: true},
		},
	}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformNative, "eng")
	if plan.NeedsContainerRemux {
		t.Fatalf("expected no remux for a native client")
	}
}

func TestValidateTimeoutTreatsKnownVideoCodecAsAccepted(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{
		TimedOut: true,
		Tracks: []domain.MediaTrack{
			{Kind: domain.TrackVideo, CodecName: "h264"},
		},
	}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if !plan.Accepted {
		t.Fatalf("expected acceptance on probe timeout with a known video codec")
	}
}

func TestValidateSubtitleCleanupFlagsUnknownLanguageAndForcedOnly(t *testing.T) {
	v := New(fakeProber{info: domain.MediaInfo{
		Tracks: []domain.MediaTrack{
			{Kind: domain.TrackVideo, CodecName: "h264"},
			{Kind: domain.TrackAudio, CodecName: "aac", Default: true},
			{Kind: domain.TrackSubtitle, Index: 3, Language: "eng", Default: true},
			{Kind: domain.TrackSubtitle, Index: 4, Language: "und"},
			{Kind: domain.TrackSubtitle, Index: 5, Language: "fre", Forced: true},
		},
	}}, DefaultConfig())

	plan, _ := v.Validate(context.Background(), "https://cdn/a", domain.PlatformWeb, "eng")
	if !plan.NeedsSubtitleCleanup {
		t.Fatalf("expected subtitle cleanup to be flagged")
	}
	if len(plan.EmbeddedSubtitleTracks) != 3 {
		t.Fatalf("expected all 3 tracks surfaced, got %d", len(plan.EmbeddedSubtitleTracks))
	}
	for _, tr := range plan.EmbeddedSubtitleTracks {
		if tr.Index == 4 && tr.Keep {
			t.Fatalf("unknown-language track should be dropped (keep=false)")
		}
	}
	if plan.RecommendedSubtitleIndex == nil || *plan.RecommendedSubtitleIndex != 3 {
		t.Fatalf("recommendedSubtitleIndex = %v, want 3", plan.RecommendedSubtitleIndex)
	}
	if !plan.HasEnglishSubtitle {
		t.Fatalf("expected HasEnglishSubtitle true")
	}
}
