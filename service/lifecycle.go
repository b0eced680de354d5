package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"iris/constant"
	"iris/dto"
	"iris/entities"
	"iris/errs"
	"iris/pkg/media"
	"iris/pkg/observability"
	"iris/pkg/transcription"
	"iris/repository"
)

// errMeetingGone reports that a meeting was deleted while a pipeline still held it.
var errMeetingGone = errors.New("meeting deleted")

type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
	Title       string
	Uploader    entities.Uploader
	// Translate is nil when the caller has not decided yet; the pipeline then asks.
	Translate *bool
}

type MeetingService interface {
	Load(ctx context.Context) error
	Upload(ctx context.Context, in UploadInput) (*entities.Meeting, error)
	DecideTranslation(ctx context.Context, id string, translate bool) error
	Open(ctx context.Context, id string) (*dto.MeetingView, error)
	OpenMedia(ctx context.Context, id string) (io.ReadCloser, string, error)
	EditAnalysis(ctx context.Context, id string, field constant.AnalysisField, text string) (*entities.Meeting, error)
	Delete(ctx context.Context, id string) error
	List(query string) []*entities.Meeting
	Get(id string) (*entities.Meeting, error)
	Subscribe() (<-chan dto.MeetingEvent, func())
	Wait()
	// Shutdown cancels running pipelines and waits for them until ctx expires. Interrupted
	// meetings keep their persisted stage and are settled by the next Load.
	Shutdown(ctx context.Context) error
}

type LifecycleDependencies struct {
	Store       repository.RecordStore
	Media       media.Store
	Transcriber Transcriber
	Analyzer    Analyzer
	Extractor   AudioExtractor
	Publisher   EventPublisher
	Hub         *Hub
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Config      PipelineConfig
}

// entry guards one meeting. Every pipeline write goes through its lock, so a result that
// arrives after Delete is discarded instead of written back.
type entry struct {
	mu        sync.Mutex
	meeting   entities.Meeting
	deleted   bool
	analyzing bool
	decision  chan bool
	decided   bool
	gone      chan struct{}
}

func newEntry(m entities.Meeting) *entry {
	return &entry{meeting: m, gone: make(chan struct{})}
}

func (e *entry) snapshot() *entities.Meeting {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.meeting.Clone()
	return &m
}

type lifecycle struct {
	store       repository.RecordStore
	media       media.Store
	transcriber Transcriber
	analyzer    Analyzer
	extractor   AudioExtractor
	publisher   EventPublisher
	hub         *Hub
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	cfg         PipelineConfig

	mu       sync.RWMutex
	entries  map[string]*entry
	wg       sync.WaitGroup
	stopping context.Context
	stop     context.CancelFunc
}

func NewLifecycle(deps LifecycleDependencies) MeetingService {
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.NewTracer()
	}
	stopping, stop := context.WithCancel(context.Background())
	return &lifecycle{
		stopping:    stopping,
		stop:        stop,
		store:       deps.Store,
		media:       deps.Media,
		transcriber: deps.Transcriber,
		analyzer:    deps.Analyzer,
		extractor:   deps.Extractor,
		publisher:   deps.Publisher,
		hub:         hub,
		metrics:     deps.Metrics,
		tracer:      tracer,
		cfg:         deps.Config,
		entries:     make(map[string]*entry),
	}
}

var transitions = map[constant.Stage][]constant.Stage{
	constant.StageUploading:  {constant.StageProcessing, constant.StageFailed},
	constant.StageProcessing: {constant.StageReady, constant.StageFailed},
}

var stageProgress = map[constant.Stage]int{
	constant.StageUploading:  constant.ProgressUploaded,
	constant.StageProcessing: constant.ProgressTranscribed,
	constant.StageReady:      constant.ProgressAnalyzed,
	constant.StageFailed:     0,
}

// transition is the only place a meeting's stage changes.
func transition(m *entities.Meeting, to constant.Stage) error {
	if !slices.Contains(transitions[m.Stage], to) {
		return fmt.Errorf("illegal stage transition %s -> %s", m.Stage, to)
	}
	m.Stage = to
	m.Progress = stageProgress[to]
	return nil
}

// Load hydrates the in-memory view. Meetings left in Uploading by a previous process have no
// pipeline anymore and are marked Failed.
func (s *lifecycle) Load(ctx context.Context) error {
	meetings, err := s.store.GetAllMeetings(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range meetings {
		if m.Stage == constant.StageUploading {
			interrupted := m.Clone()
			_ = transition(&interrupted, constant.StageFailed)
			interrupted.FailureReason = "processing interrupted by restart"
			if err := s.store.PutMeeting(ctx, &interrupted); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("meeting_id", m.ID).Msg("failed to mark interrupted meeting")
			} else {
				m = &interrupted
			}
		}
		s.entries[m.ID] = newEntry(*m)
	}
	zerolog.Ctx(ctx).Info().Int("meetings", len(meetings)).Msg("meetings loaded")
	return nil
}

func (s *lifecycle) validate(in *UploadInput) error {
	if len(in.Data) == 0 {
		return errs.Invalid("media file is empty")
	}
	if strings.TrimSpace(in.Filename) == "" {
		return errs.Invalid("media file name is required")
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(in.Data)) > s.cfg.MaxUploadBytes {
		return errs.Invalid("media file exceeds %d bytes", s.cfg.MaxUploadBytes)
	}

	contentType := in.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeByExtension(in.Filename)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !(strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/")) {
		return errs.Invalid("unsupported media type %q", in.ContentType)
	}
	in.ContentType = mediaType
	return nil
}

var mediaExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".mpga": "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".flac": "audio/flac",
	".aac":  "audio/aac",
	".weba": "audio/webm",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
}

func contentTypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mediaExtensions[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

func (s *lifecycle) Upload(ctx context.Context, in UploadInput) (*entities.Meeting, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("meeting_id", id).Logger()
	ctx = logger.WithContext(ctx)

	m := media.Media{Name: in.Filename, ContentType: in.ContentType, Data: in.Data}
	ref, err := s.media.Put(ctx, id, m)
	if err != nil {
		logger.Error().Err(err).Msg("failed to store media")
		return nil, errs.Storage(err)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.Filename
	}
	now := time.Now().UTC()
	meeting := entities.Meeting{
		ID:          id,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
		Stage:       constant.StageUploading,
		Progress:    constant.ProgressUploaded,
		MediaRef:    ref,
		ContentType: in.ContentType,
		UploadedBy:  in.Uploader,
	}
	if err := s.store.PutMeeting(ctx, &meeting); err != nil {
		logger.Error().Err(err).Msg("failed to persist meeting")
		if releaseErr := s.media.Release(ctx, ref); releaseErr != nil {
			logger.Error().Err(releaseErr).Msg("failed to release media of unsaved meeting")
		}
		return nil, err
	}

	e := newEntry(meeting)
	if in.Translate == nil {
		e.decision = make(chan bool, 1)
	}
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()

	logger.Info().Str("file_name", in.Filename).Int("size_bytes", len(in.Data)).Msg("meeting uploaded")
	s.emit(ctx, s.event(constant.EventStageChanged, meeting))

	s.wg.Add(1)
	go s.runPipeline(ctx, e, m, in.Translate)

	out := meeting.Clone()
	return &out, nil
}

// runPipeline outlives the upload request but not Shutdown.
func (s *lifecycle) runPipeline(ctx context.Context, e *entry, m media.Media, translate *bool) {
	defer s.wg.Done()
	ctx, cancel := s.detach(ctx)
	defer cancel()
	if s.metrics != nil {
		s.metrics.PipelinesInFlight.Inc()
		defer s.metrics.PipelinesInFlight.Dec()
	}

	id := e.snapshot().ID
	ctx, span := s.tracer.Start(ctx, observability.SpanPipeline, id)
	var pipelineErr error
	defer func() { observability.End(span, pipelineErr) }()

	var hint string
	if translate == nil {
		lang, decided, err := s.awaitDecision(ctx, e, m)
		if err != nil {
			pipelineErr = err
			return
		}
		translate = &decided
		if !lang.Fallback {
			hint = lang.Code
		}
	}

	if pipelineErr = s.transcribe(ctx, e, m, *translate, hint); pipelineErr != nil {
		return
	}
	if !s.beginAnalysis(e) {
		return
	}
	pipelineErr = s.analyze(ctx, e)
}

// awaitDecision records the detected language and blocks until the user decides on translation.
func (s *lifecycle) awaitDecision(ctx context.Context, e *entry, m media.Media) (transcription.Language, bool, error) {
	logger := zerolog.Ctx(ctx)

	detectCtx, span := s.tracer.Start(ctx, observability.SpanDetect, e.snapshot().ID)
	start := time.Now()
	lang := s.transcriber.DetectLanguage(detectCtx, m)
	s.observeProvider("transcription", "detect_language", start, nil)
	observability.End(span, nil)

	meeting, err := s.update(ctx, e, func(m *entities.Meeting) error {
		m.Language = lang.Code
		m.LanguageDisplayName = lang.DisplayName
		return nil
	})
	if err != nil {
		return lang, false, err
	}

	event := s.event(constant.EventDecisionRequired, meeting)
	event.Message = fmt.Sprintf("Detected %s. Translate to %s?", lang.DisplayName, constant.PivotLanguageName)
	s.emit(ctx, event)
	logger.Info().Str("language", lang.Code).Bool("fallback", lang.Fallback).Msg("awaiting translation decision")

	var timeout <-chan time.Time
	if s.cfg.DecisionTimeout > 0 {
		timer := time.NewTimer(s.cfg.DecisionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case decided := <-e.decision:
		return lang, decided, nil
	case <-e.gone:
		return lang, false, errMeetingGone
	case <-ctx.Done():
		logger.Info().Msg("shutting down while awaiting translation decision")
		return lang, false, ctx.Err()
	case <-timeout:
		e.mu.Lock()
		e.decided = true
		e.mu.Unlock()
		err := errors.New("translation decision not received")
		s.fail(ctx, e, err.Error())
		return lang, false, err
	}
}

func (s *lifecycle) DecideTranslation(ctx context.Context, id string, translate bool) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("meeting %s: %w", id, errs.ErrNotFound)
	}
	if e.decision == nil || e.decided {
		return errs.Invalid("meeting %s is not awaiting a translation decision", id)
	}
	e.decided = true
	e.decision <- translate
	zerolog.Ctx(ctx).Info().Str("meeting_id", id).Bool("translate", translate).Msg("translation decided")
	return nil
}

func (s *lifecycle) transcribe(ctx context.Context, e *entry, m media.Media, translate bool, hint string) error {
	logger := zerolog.Ctx(ctx)
	id := e.snapshot().ID

	input := m
	if s.extractor != nil && m.IsVideo() {
		extracted, err := s.extractor.Extract(ctx, m)
		if err != nil {
			logger.Warn().Err(err).Msg("audio extraction failed, sending original media")
		} else {
			input = extracted
		}
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.TranscriptionTimeout)
	defer cancel()
	callCtx, span := s.tracer.Start(callCtx, observability.SpanTranscribe, id)
	start := time.Now()
	result, err := s.transcriber.Transcribe(callCtx, input, transcription.Options{Translate: translate, LanguageHint: hint})
	s.observeProvider("transcription", "transcribe", start, err)
	observability.End(span, err)

	if err != nil {
		if s.stopping.Err() != nil {
			logger.Info().Err(err).Msg("transcription interrupted by shutdown")
			return err
		}
		logger.Error().Err(err).Msg("transcription failed")
		s.fail(ctx, e, failureReason(err))
		return err
	}
	if strings.TrimSpace(result.Text) == "" {
		err := &errs.TranscriptionFailed{Reason: "no speech detected"}
		logger.Warn().Msg("transcription returned no text")
		s.fail(ctx, e, err.Reason)
		return err
	}
	if !result.IsTranslated && len(result.WordTimings) == 0 {
		err := &errs.TranscriptionFailed{Reason: "provider returned no word timings"}
		logger.Warn().Msg("untranslated transcript without word timings")
		s.fail(ctx, e, err.Reason)
		return err
	}

	meeting, err := s.update(ctx, e, func(m *entities.Meeting) error {
		if err := transition(m, constant.StageProcessing); err != nil {
			return err
		}
		text := result.Text
		m.Transcript = &text
		m.IsTranslated = result.IsTranslated
		if result.IsTranslated {
			m.SetTimings([]entities.WordTiming{})
		} else {
			m.SetTimings(result.WordTimings)
		}
		if result.Language.Code != "" {
			m.Language = result.Language.Code
			m.LanguageDisplayName = result.Language.DisplayName
		}
		m.FailureReason = ""
		return nil
	})
	if err != nil {
		logUpdateErr(ctx, err, "failed to record transcript")
		return err
	}

	logger.Info().Bool("translated", meeting.IsTranslated).Int("words", len(meeting.Timings())).Msg("meeting transcribed")
	s.stageChanged(ctx, meeting)
	return nil
}

// beginAnalysis claims the analysis slot of a meeting; false means one is already running.
func (s *lifecycle) beginAnalysis(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || e.analyzing {
		return false
	}
	e.analyzing = true
	return true
}

// analyze requires a prior successful beginAnalysis. Failure leaves the meeting in Processing.
func (s *lifecycle) analyze(ctx context.Context, e *entry) error {
	defer func() {
		e.mu.Lock()
		e.analyzing = false
		e.mu.Unlock()
	}()

	logger := zerolog.Ctx(ctx)
	current := e.snapshot()
	if !current.HasTranscript() {
		return nil
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.AnalysisTimeout)
	defer cancel()
	callCtx, span := s.tracer.Start(callCtx, observability.SpanAnalyze, current.ID)
	start := time.Now()
	result, err := s.analyzer.Analyze(callCtx, *current.Transcript)
	s.observeProvider("analysis", "analyze", start, err)
	observability.End(span, err)

	if err != nil {
		if s.stopping.Err() != nil {
			logger.Info().Err(err).Msg("analysis interrupted by shutdown")
			return err
		}
		logger.Error().Err(err).Msg("analysis failed")
		reason := failureReason(err)
		meeting, updateErr := s.update(ctx, e, func(m *entities.Meeting) error {
			m.FailureReason = "analysis failed: " + reason
			return nil
		})
		if updateErr != nil {
			logUpdateErr(ctx, updateErr, "failed to record analysis failure")
			return err
		}
		event := s.event(constant.EventError, meeting)
		event.Message = "Analysis failed: " + reason
		s.emit(ctx, event)
		return err
	}

	meeting, err := s.update(ctx, e, func(m *entities.Meeting) error {
		if err := transition(m, constant.StageReady); err != nil {
			return err
		}
		m.SetAnalysis(&entities.Analysis{
			Discussions: result.Discussions,
			Summary:     result.Summary,
			Tasks:       result.Tasks,
		})
		m.FailureReason = ""
		return nil
	})
	if err != nil {
		logUpdateErr(ctx, err, "failed to record analysis")
		return err
	}

	logger.Info().Msg("meeting analyzed")
	s.stageChanged(ctx, meeting)
	return nil
}

func (s *lifecycle) fail(ctx context.Context, e *entry, reason string) {
	meeting, err := s.update(ctx, e, func(m *entities.Meeting) error {
		if err := transition(m, constant.StageFailed); err != nil {
			return err
		}
		m.FailureReason = reason
		return nil
	})
	if err != nil {
		logUpdateErr(ctx, err, "failed to record meeting failure")
		return
	}

	s.stageChanged(ctx, meeting)
	event := s.event(constant.EventError, meeting)
	event.Message = reason
	s.emit(ctx, event)
}

// Open returns the meeting with a fresh playback handle. A Processing meeting with a transcript
// but no analysis gets one new analysis attempt.
func (s *lifecycle) Open(ctx context.Context, id string) (*dto.MeetingView, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("meeting %s: %w", id, errs.ErrNotFound)
	}
	meeting := e.meeting.Clone()
	retry := meeting.Stage == constant.StageProcessing &&
		meeting.HasTranscript() &&
		meeting.CurrentAnalysis() == nil &&
		!e.analyzing
	if retry {
		e.analyzing = true
	}
	e.mu.Unlock()

	if retry {
		zerolog.Ctx(ctx).Info().Str("meeting_id", id).Msg("retrying analysis on open")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := s.detach(ctx)
			defer cancel()
			_ = s.analyze(ctx, e)
		}()
	}

	view := &dto.MeetingView{Meeting: meeting}
	if meeting.MediaRef != "" {
		url, err := s.media.PlaybackURL(ctx, meeting.MediaRef)
		if err != nil {
			return nil, errs.Storage(err)
		}
		view.PlaybackURL = url
	}
	return view, nil
}

func (s *lifecycle) OpenMedia(ctx context.Context, id string) (io.ReadCloser, string, error) {
	meeting, err := s.Get(id)
	if err != nil {
		return nil, "", err
	}
	rc, err := s.media.Open(ctx, meeting.MediaRef)
	if err != nil {
		return nil, "", errs.Storage(err)
	}
	return rc, meeting.ContentType, nil
}

func (s *lifecycle) EditAnalysis(ctx context.Context, id string, field constant.AnalysisField, text string) (*entities.Meeting, error) {
	switch field {
	case constant.AnalysisFieldDiscussions, constant.AnalysisFieldSummary, constant.AnalysisFieldTasks:
	default:
		return nil, errs.Invalid("unknown analysis field %q", field)
	}

	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	meeting, err := s.update(ctx, e, func(m *entities.Meeting) error {
		current := m.CurrentAnalysis()
		if current == nil {
			return errs.Invalid("meeting %s has no analysis to edit", id)
		}
		edited := *current
		switch field {
		case constant.AnalysisFieldDiscussions:
			edited.Discussions = text
		case constant.AnalysisFieldSummary:
			edited.Summary = text
		case constant.AnalysisFieldTasks:
			edited.Tasks = text
		}
		m.SetAnalysis(&edited)
		return nil
	})
	if errors.Is(err, errMeetingGone) {
		return nil, fmt.Errorf("meeting %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("meeting_id", id).Str("field", string(field)).Msg("analysis edited")
	s.emit(ctx, s.event(constant.EventUpdated, meeting))
	return &meeting, nil
}

// Delete removes the record and releases the media as one unit; on any failure both stay.
// The row goes first and is restored when the media cannot be released.
func (s *lifecycle) Delete(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return fmt.Errorf("meeting %s: %w", id, errs.ErrNotFound)
	}
	logger := zerolog.Ctx(ctx).With().Str("meeting_id", id).Logger()
	if err := s.store.DeleteMeeting(ctx, id); err != nil {
		e.mu.Unlock()
		logger.Error().Err(err).Msg("failed to delete meeting")
		return err
	}
	if err := s.media.Release(ctx, e.meeting.MediaRef); err != nil {
		restore := e.meeting.Clone()
		if restoreErr := s.store.PutMeeting(context.WithoutCancel(ctx), &restore); restoreErr != nil {
			logger.Error().Err(restoreErr).Str("media_ref", restore.MediaRef).Msg("failed to restore meeting after media release failure")
		}
		e.mu.Unlock()
		logger.Error().Err(err).Msg("failed to release meeting media")
		return errs.Storage(err)
	}
	e.deleted = true
	close(e.gone)
	meeting := e.meeting.Clone()
	e.mu.Unlock()

	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()

	logger.Info().Msg("meeting deleted")
	event := s.event(constant.EventDeleted, meeting)
	event.Meeting = nil
	s.emit(ctx, event)
	return nil
}

// List filters by title, uploader name or uploader email, newest first.
func (s *lifecycle) List(query string) []*entities.Meeting {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	meetings := make([]*entities.Meeting, 0, len(entries))
	for _, e := range entries {
		m := e.snapshot()
		if q != "" && !MatchesQuery(m, q) {
			continue
		}
		meetings = append(meetings, m)
	}
	sort.SliceStable(meetings, func(i, j int) bool {
		return meetings[i].CreatedAt.After(meetings[j].CreatedAt)
	})
	return meetings
}

// MatchesQuery reports whether a lower-cased query occurs in the title or uploader of m.
func MatchesQuery(m *entities.Meeting, q string) bool {
	return strings.Contains(strings.ToLower(m.Title), q) ||
		strings.Contains(strings.ToLower(m.UploadedBy.Name), q) ||
		strings.Contains(strings.ToLower(m.UploadedBy.Email), q)
}

func (s *lifecycle) Get(id string) (*entities.Meeting, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

func (s *lifecycle) Subscribe() (<-chan dto.MeetingEvent, func()) {
	return s.hub.Subscribe()
}

func (s *lifecycle) Wait() {
	s.wg.Wait()
}

func (s *lifecycle) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for meeting pipelines: %w", ctx.Err())
	}
}

// detach keeps the values of a request context but ties cancellation to Shutdown.
func (s *lifecycle) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unregister := context.AfterFunc(s.stopping, cancel)
	return ctx, func() {
		unregister()
		cancel()
	}
}

func (s *lifecycle) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, errs.ErrNotFound)
	}
	return e, nil
}

// update applies mutate to a copy, persists it, and only then publishes it in memory.
func (s *lifecycle) update(ctx context.Context, e *entry, mutate func(m *entities.Meeting) error) (entities.Meeting, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return entities.Meeting{}, errMeetingGone
	}

	next := e.meeting.Clone()
	if err := mutate(&next); err != nil {
		return entities.Meeting{}, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.store.PutMeeting(context.WithoutCancel(ctx), &next); err != nil {
		return entities.Meeting{}, err
	}
	e.meeting = next
	return next.Clone(), nil
}

func (s *lifecycle) stageChanged(ctx context.Context, m entities.Meeting) {
	if s.metrics != nil {
		s.metrics.StageTransitionsTotal.WithLabelValues(string(m.Stage)).Inc()
	}
	s.emit(ctx, s.event(constant.EventStageChanged, m))
}

func (s *lifecycle) event(t constant.EventType, m entities.Meeting) dto.MeetingEvent {
	return dto.MeetingEvent{
		Type:                t,
		MeetingID:           m.ID,
		Stage:               m.Stage,
		Progress:            m.Progress,
		Language:            m.Language,
		LanguageDisplayName: m.LanguageDisplayName,
		Meeting:             &m,
		OccurredAt:          time.Now().UTC(),
	}
}

func (s *lifecycle) emit(ctx context.Context, event dto.MeetingEvent) {
	s.hub.Publish(event)
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, event)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("meeting_id", event.MeetingID).Msg("failed to publish meeting event")
	}
	if s.metrics != nil {
		s.metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), observability.Outcome(err)).Inc()
	}
}

func (s *lifecycle) observeProvider(provider, operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProviderSeconds.WithLabelValues(provider, operation, observability.Outcome(err)).Observe(time.Since(start).Seconds())
}

func logUpdateErr(ctx context.Context, err error, msg string) {
	if errors.Is(err, errMeetingGone) {
		zerolog.Ctx(ctx).Info().Msg("meeting deleted mid-pipeline, result discarded")
		return
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg(msg)
}

func failureReason(err error) string {
	var tf *errs.TranscriptionFailed
	if errors.As(err, &tf) {
		return tf.Reason
	}
	var af *errs.AnalysisFailed
	if errors.As(err, &af) {
		return af.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider call timed out"
	}
	return err.Error()
}
