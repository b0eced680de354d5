package service

import (
	"context"
	"errors"
	"iter"
	"time"

	"iris/dto"
	"iris/pkg/analysis"
	"iris/pkg/media"
	"iris/pkg/transcription"
)

// ErrNonRetryable marks failures that retrying the same message cannot fix.
var ErrNonRetryable = errors.New("non-retryable error")

type Transcriber interface {
	DetectLanguage(ctx context.Context, m media.Media) transcription.Language
	Transcribe(ctx context.Context, m media.Media, opts transcription.Options) (*transcription.Result, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*analysis.Result, error)
	Chat(ctx context.Context, transcript string, history []analysis.Message, message string) iter.Seq2[string, error]
}

type EventPublisher interface {
	Publish(ctx context.Context, event dto.MeetingEvent) error
}

type AudioExtractor interface {
	Extract(ctx context.Context, m media.Media) (media.Media, error)
}

type PipelineConfig struct {
	DecisionTimeout      time.Duration
	TranscriptionTimeout time.Duration
	AnalysisTimeout      time.Duration
	MaxUploadBytes       int64
}

// withTimeout bounds ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
