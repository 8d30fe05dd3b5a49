package remux

import (
	"strings"
	"testing"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestBuildRemuxArgsStreamCopiesVideoAlways(t *testing.T) {
	args := buildRemuxArgs(ports.RemuxPlan{SourceURL: "https://cdn/a.mkv", OutputDir: "/tmp/x"}, "/tmp/x/remuxed.mp4")
	if !containsArg(args, "copy") {
		t.Fatalf("expected stream-copy video, got %v", args)
	}
	if !containsArg(args, "-reconnect") {
		t.Fatalf("expected reconnect flags for an http source, got %v", args)
	}
}

func TestBuildRemuxArgsRemapsAudioByIndex(t *testing.T) {
	args := buildRemuxArgs(ports.RemuxPlan{
		SourceURL:        "https://cdn/a.mkv",
		AudioProcessing:  domain.AudioProcessingRemapTo,
		ChosenAudioIndex: 2,
		OutputDir:        "/tmp/x",
	}, "/tmp/x/remuxed.mp4")

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-map 0:a:2") {
		t.Fatalf("expected explicit stream map for chosen audio index, got %v", args)
	}
}

func TestBuildRemuxArgsTranscodesToTarget(t *testing.T) {
	args := buildRemuxArgs(ports.RemuxPlan{
		SourceURL:       "https://cdn/a.mkv",
		AudioProcessing: domain.AudioProcessingTranscode,
		TranscodeTarget: "aac",
		OutputDir:       "/tmp/x",
	}, "/tmp/x/remuxed.mp4")

	if !containsArg(args, "aac") {
		t.Fatalf("expected transcode target codec in args, got %v", args)
	}
}

func TestBuildRemuxArgsAddsHEVCTag(t *testing.T) {
	args := buildRemuxArgs(ports.RemuxPlan{SourceURL: "https://cdn/a.mkv", HEVCTag: true, OutputDir: "/tmp/x"}, "/tmp/x/remuxed.mp4")
	if !containsArg(args, "hvc1") {
		t.Fatalf("expected hvc1 tag, got %v", args)
	}
}

func TestBuildRemuxArgsIncludesSubtitlesWhenCleanupRequested(t *testing.T) {
	args := buildRemuxArgs(ports.RemuxPlan{SourceURL: "https://cdn/a.mkv", SubtitleCleanup: true, OutputDir: "/tmp/x"}, "/tmp/x/remuxed.mp4")
	if !containsArg(args, "mov_text") {
		t.Fatalf("expected mov_text subtitle codec when cleanup requested, got %v", args)
	}
}

func TestBuildRemuxArgsOmitsSubtitlesByDefault(t *testing.T) {
	args := buildRemuxArgs(ports.RemuxPlan{SourceURL: "https://cdn/a.mkv", OutputDir: "/tmp/x"}, "/tmp/x/remuxed.mp4")
	if containsArg(args, "mov_text") {
		t.Fatalf("did not expect subtitle mapping without cleanup, got %v", args)
	}
}
