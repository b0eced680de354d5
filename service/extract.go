package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"iris/pkg/media"
)

// ffmpegExtractor pulls a mono 16 kHz audio track out of a video before transcription.
type ffmpegExtractor struct {
	binary string
}

func NewFFmpegExtractor(binary string) AudioExtractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &ffmpegExtractor{binary: binary}
}

func extractArgs(inputFilepath, outputFilepath string) []string {
	return []string{
		"-y",
		"-i", inputFilepath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame",
		"-b:a", "64k",
		outputFilepath,
	}
}

func (x *ffmpegExtractor) Extract(ctx context.Context, m media.Media) (media.Media, error) {
	tempDir, err := os.MkdirTemp("", "iris-extract-*")
	if err != nil {
		return media.Media{}, err
	}
	defer os.RemoveAll(tempDir)

	inputFilepath := filepath.Join(tempDir, "input"+filepath.Ext(m.Name))
	if err := os.WriteFile(inputFilepath, m.Data, 0o600); err != nil {
		return media.Media{}, err
	}
	outputFilepath := filepath.Join(tempDir, "audio.mp3")

	args := extractArgs(inputFilepath, outputFilepath)
	cmd := exec.CommandContext(ctx, x.binary, args...)
	zerolog.Ctx(ctx).Debug().Str("command", x.binary+" "+strings.Join(args, " ")).Msg("executing ffmpeg")

	output, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Debug().Str("output", string(output)).Msg("ffmpeg output")
		return media.Media{}, fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	data, err := os.ReadFile(outputFilepath)
	if err != nil {
		return media.Media{}, err
	}

	name := strings.TrimSuffix(m.Name, filepath.Ext(m.Name)) + ".mp3"
	zerolog.Ctx(ctx).Info().Int("input_bytes", len(m.Data)).Int("output_bytes", len(data)).Msg("audio extracted")
	return media.Media{Name: name, ContentType: "audio/mpeg", Data: data}, nil
}
