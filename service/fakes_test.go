package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"iris/constant"
	"iris/dto"
	"iris/entities"
	"iris/errs"
	"iris/pkg/analysis"
	"iris/pkg/media"
	"iris/pkg/observability"
	"iris/pkg/transcription"
	"iris/repository"
)

type fakeMedia struct {
	mu         sync.Mutex
	objects    map[string][]byte
	releaseErr error
	putErr     error
	onRelease  func(ref string)
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{objects: make(map[string][]byte)}
}

func (f *fakeMedia) Put(_ context.Context, meetingID string, m media.Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	ref := media.ObjectName(meetingID, m.Name)
	f.objects[ref] = m.Data
	return ref, nil
}

func (f *fakeMedia) PlaybackURL(_ context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[ref]; !ok {
		return "", fmt.Errorf("no object %s", ref)
	}
	return "https://media.local/" + ref, nil
}

func (f *fakeMedia) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref]
	if !ok {
		return nil, fmt.Errorf("no object %s", ref)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeMedia) Release(_ context.Context, ref string) error {
	if f.onRelease != nil {
		f.onRelease(ref)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	delete(f.objects, ref)
	return nil
}

func (f *fakeMedia) has(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[ref]
	return ok
}

func (f *fakeMedia) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeTranscriber struct {
	mu          sync.Mutex
	language    transcription.Language
	result      *transcription.Result
	err         error
	gate        chan struct{}
	detectCalls int
	calls       []transcription.Options
}

func (f *fakeTranscriber) DetectLanguage(_ context.Context, _ media.Media) transcription.Language {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectCalls++
	if f.language.Code == "" {
		return transcription.FallbackLanguage()
	}
	return f.language
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ media.Media, opts transcription.Options) (*transcription.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &errs.TranscriptionFailed{Reason: "provider call timed out", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if opts.Translate {
		return &transcription.Result{
			Text:         "Hello team, the budget is approved.",
			WordTimings:  []entities.WordTiming{},
			IsTranslated: true,
			Language:     transcription.Language{Code: constant.PivotLanguage, DisplayName: constant.PivotLanguageName},
		}, nil
	}
	if f.result != nil {
		return f.result, nil
	}
	return &transcription.Result{
		Text: "hello team",
		WordTimings: []entities.WordTiming{
			{Word: "hello", Start: 0, End: 0.4},
			{Word: "team", Start: 0.5, End: 0.9},
		},
		Language: transcription.Language{Code: "en", DisplayName: "English"},
	}, nil
}

func (f *fakeTranscriber) options() []transcription.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcription.Options(nil), f.calls...)
}

type fakeAnalyzer struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	calls     int
	fragments []string
	chatErr   error
	histories [][]analysis.Message
}

func (f *fakeAnalyzer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAnalyzer) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) Analyze(_ context.Context, transcript string) (*analysis.Result, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{
		Discussions: "1. Budget",
		Summary:     "Summary of: " + transcript,
		Tasks:       "1. Send the report\nAssignee: Ana\nDue: Friday\n2. Book a room",
	}, nil
}

func (f *fakeAnalyzer) Chat(_ context.Context, _ string, history []analysis.Message, _ string) iter.Seq2[string, error] {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	fragments := f.fragments
	chatErr := f.chatErr
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, fr := range fragments {
			if !yield(fr, nil) {
				return
			}
		}
		if chatErr != nil {
			yield("", chatErr)
		}
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.MeetingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event dto.MeetingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) stages(meetingID string) []constant.Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stages []constant.Stage
	for _, e := range p.events {
		if e.MeetingID == meetingID && e.Type == constant.EventStageChanged {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

func (p *recordingPublisher) progress(meetingID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var progress []int
	for _, e := range p.events {
		if e.MeetingID == meetingID && e.Type == constant.EventStageChanged {
			progress = append(progress, e.Progress)
		}
	}
	return progress
}

// flakyStore injects failures into an otherwise real store.
type flakyStore struct {
	repository.RecordStore
	mu        sync.Mutex
	putErr    error
	deleteErr error
}

func (s *flakyStore) PutMeeting(ctx context.Context, m *entities.Meeting) error {
	s.mu.Lock()
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.RecordStore.PutMeeting(ctx, m)
}

func (s *flakyStore) DeleteMeeting(ctx context.Context, id string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.RecordStore.DeleteMeeting(ctx, id)
}

type harness struct {
	store       *flakyStore
	media       *fakeMedia
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	publisher   *recordingPublisher
	meetings    MeetingService
}

func newHarness(t *testing.T, cfg PipelineConfig) *harness {
	t.Helper()
	store, err := repository.Open(repository.Config{Driver: repository.DriverSQLite, Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:       &flakyStore{RecordStore: store},
		media:       newFakeMedia(),
		transcriber: &fakeTranscriber{},
		analyzer:    &fakeAnalyzer{},
		publisher:   &recordingPublisher{},
	}
	h.meetings = h.newLifecycle(cfg)
	return h
}

func (h *harness) newLifecycle(cfg PipelineConfig) MeetingService {
	return NewLifecycle(LifecycleDependencies{
		Store:       h.store,
		Media:       h.media,
		Transcriber: h.transcriber,
		Analyzer:    h.analyzer,
		Publisher:   h.publisher,
		Metrics:     observability.NewMetrics(prometheus.NewRegistry()),
		Config:      cfg,
	})
}

func (h *harness) stored(t *testing.T, id string) *entities.Meeting {
	t.Helper()
	all, err := h.store.GetAllMeetings(context.Background())
	require.NoError(t, err)
	for _, m := range all {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}

func audioUpload(translate *bool) UploadInput {
	return UploadInput{
		Filename:    "standup.wav",
		ContentType: "audio/wav",
		Data:        []byte("RIFF....WAVEfmt "),
		Uploader:    entities.Uploader{Name: "Ana Lima", Email: "ana@example.com"},
		Translate:   translate,
	}
}

func waitForEvent(t *testing.T, ch <-chan dto.MeetingEvent, eventType constant.EventType) dto.MeetingEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event received", eventType)
			return dto.MeetingEvent{}
		}
	}
}

var errBoom = errors.New("boom")
