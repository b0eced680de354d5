package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
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
	"iris/service"
)

type memoryMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryMedia) Put(_ context.Context, meetingID string, md media.Media) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := media.ObjectName(meetingID, md.Name)
	m.objects[ref] = md.Data
	return ref, nil
}

func (m *memoryMedia) PlaybackURL(_ context.Context, ref string) (string, error) {
	return "https://media.local/" + ref, nil
}

func (m *memoryMedia) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, fmt.Errorf("no object %s", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryMedia) Release(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

type stubTranscriber struct{}

func (stubTranscriber) DetectLanguage(context.Context, media.Media) transcription.Language {
	return transcription.Language{Code: "fr", DisplayName: "French"}
}

func (stubTranscriber) Transcribe(_ context.Context, _ media.Media, opts transcription.Options) (*transcription.Result, error) {
	if opts.Translate {
		return &transcription.Result{
			Text:         "hello team",
			WordTimings:  []entities.WordTiming{},
			IsTranslated: true,
			Language:     transcription.Language{Code: "en", DisplayName: "English"},
		}, nil
	}
	return &transcription.Result{
		Text: "bonjour équipe",
		WordTimings: []entities.WordTiming{
			{Word: "bonjour", Start: 0, End: 0.5},
			{Word: "équipe", Start: 0.6, End: 1.1},
		},
		Language: transcription.Language{Code: "fr", DisplayName: "French"},
	}, nil
}

type stubAnalyzer struct {
	chatErr error
}

func (stubAnalyzer) Analyze(_ context.Context, transcript string) (*analysis.Result, error) {
	if transcript == "" {
		return nil, errs.Invalid("transcript is empty")
	}
	return &analysis.Result{
		Discussions: "1. Greetings",
		Summary:     "The team said hello.",
		Tasks:       "1. Reply to the team\nAssignee: Ana",
	}, nil
}

func (a stubAnalyzer) Chat(context.Context, string, []analysis.Message, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if a.chatErr != nil {
			yield("", a.chatErr)
			return
		}
		for _, fr := range []string{"They ", "said ", "hello."} {
			if !yield(fr, nil) {
				return
			}
		}
	}
}

type testServer struct {
	router   *gin.Engine
	meetings service.MeetingService
}

func newTestServer(t *testing.T, auth AuthConfig, analyzer stubAnalyzer) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repository.Open(repository.Config{Driver: repository.DriverSQLite, Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	meetings := service.NewLifecycle(service.LifecycleDependencies{
		Store:       store,
		Media:       &memoryMedia{objects: make(map[string][]byte)},
		Transcriber: stubTranscriber{},
		Analyzer:    analyzer,
		Publisher:   noPublisher{},
		Metrics:     metrics,
	})
	tasks := service.NewTaskService(store, meetings)

	router := NewRouter(zerolog.Nop(), Dependencies{
		Meetings:     meetings,
		Tasks:        tasks,
		Chat:         service.NewChatService(meetings, analyzer, metrics),
		Integrations: service.NewIntegrationService(nil, nil, meetings, tasks),
		Transcriber:  stubTranscriber{},
		Analyzer:     analyzer,
		Gatherer:     registry,
		Auth:         auth,
	})
	return &testServer{router: router, meetings: meetings}
}

type noPublisher struct{}

func (noPublisher) Publish(context.Context, dto.MeetingEvent) error {
	return nil
}

var localUser = entities.Uploader{Name: "Local User", Email: "local@localhost"}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func multipartRequest(t *testing.T, path, field, filename string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFF....WAVEfmt "))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) upload(t *testing.T, fields map[string]string) entities.Meeting {
	t.Helper()
	w := s.do(multipartRequest(t, "/api/meetings", "file", "standup.wav", fields))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	return decode[entities.Meeting](t, w)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()

	w = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "iris_meeting_stage_transitions_total")
}

func TestMeetingLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})

	created := s.upload(t, map[string]string{"translate": "false", "title": "Weekly sync"})
	assert.Equal(t, constant.StageUploading, created.Stage)
	assert.Equal(t, localUser, created.UploadedBy)
	s.meetings.Wait()

	w := s.doJSON(http.MethodGet, "/api/meetings/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[dto.MeetingView](t, w)
	assert.Equal(t, constant.StageReady, view.Stage)
	assert.Equal(t, 100, view.Progress)
	assert.NotEmpty(t, view.PlaybackURL)
	require.NotNil(t, view.CurrentAnalysis())
	assert.Equal(t, "The team said hello.", view.CurrentAnalysis().Summary)

	w = s.doJSON(http.MethodGet, "/api/meetings?q=weekly", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]entities.Meeting](t, w), 1)

	w = s.doJSON(http.MethodGet, "/api/meetings?q=nothing-matches", nil)
	assert.Empty(t, decode[[]entities.Meeting](t, w))

	w = s.doJSON(http.MethodGet, "/api/meetings/"+created.ID+"/media", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF....WAVEfmt ", w.Body.String())

	w = s.doJSON(http.MethodPatch, "/api/meetings/"+created.ID+"/analysis", dto.EditAnalysisRequest{Field: "summary", Text: "Edited"})
	require.Equal(t, http.StatusOK, w.Code)
	edited := decode[entities.Meeting](t, w)
	require.NotNil(t, edited.CurrentAnalysis())
	assert.Equal(t, "Edited", edited.CurrentAnalysis().Summary)

	w = s.doJSON(http.MethodDelete, "/api/meetings/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.doJSON(http.MethodGet, "/api/meetings/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[dto.ErrorResponse](t, w).Error.Code)
}

func TestTranscriptPositionAndSeek(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})
	created := s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()
	base := "/api/meetings/" + created.ID

	w := s.doJSON(http.MethodGet, base+"/transcript/position?t=0.7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pos := decode[dto.TranscriptPosition](t, w)
	assert.Equal(t, 1, pos.WordIndex)
	require.NotNil(t, pos.Word)
	assert.Equal(t, "équipe", pos.Word.Word)

	w = s.doJSON(http.MethodGet, base+"/transcript/position?t=0.55", nil)
	assert.Equal(t, service.NoWord, decode[dto.TranscriptPosition](t, w).WordIndex)

	w = s.doJSON(http.MethodGet, base+"/transcript/position?t=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.doJSON(http.MethodGet, base+"/transcript/words/1/seek", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.6, decode[dto.SeekResponse](t, w).Offset, 1e-9)

	w = s.doJSON(http.MethodGet, base+"/transcript/words/9/seek", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})

	req := httptest.NewRequest(http.MethodPost, "/api/meetings", strings.NewReader(""))
	w := s.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode[dto.ErrorResponse](t, w).Error.Code)

	w = s.do(multipartRequest(t, "/api/meetings", "file", "notes.txt", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(multipartRequest(t, "/api/meetings", "file", "standup.wav", map[string]string{"translate": "maybe"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranslationDecisionOverHTTP(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})
	created := s.upload(t, nil)

	w := s.doJSON(http.MethodPost, "/api/meetings/"+created.ID+"/translation", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Eventually(t, func() bool {
		w := s.doJSON(http.MethodPost, "/api/meetings/"+created.ID+"/translation", dto.TranslationDecisionRequest{Translate: ptr(true)})
		return w.Code == http.StatusAccepted
	}, 5*time.Second, 10*time.Millisecond)
	s.meetings.Wait()

	meeting, err := s.meetings.Get(created.ID)
	require.NoError(t, err)
	assert.True(t, meeting.IsTranslated)
	assert.Equal(t, []entities.WordTiming{}, meeting.Timings())
}

func ptr[T any](v T) *T {
	return &v
}

func TestIdentityFromJWT(t *testing.T) {
	const secret = "s3cret"
	s := newTestServer(t, AuthConfig{JWTSecret: secret}, stubAnalyzer{})

	w := s.doJSON(http.MethodGet, "/api/meetings", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode[dto.ErrorResponse](t, w).Error.Code)

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "Eve"}).SignedString([]byte("other"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "Ana Lima", "email": "ana@example.com"}).SignedString([]byte(secret))
	require.NoError(t, err)
	req = multipartRequest(t, "/api/meetings", "file", "standup.wav", map[string]string{"translate": "false"})
	req.Header.Set("Authorization", "Bearer "+token)
	w = s.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, entities.Uploader{Name: "Ana Lima", Email: "ana@example.com"}, decode[entities.Meeting](t, w).UploadedBy)
	s.meetings.Wait()
}

func TestTasksOverHTTP(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})
	created := s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()

	w := s.doJSON(http.MethodGet, "/api/meetings/"+created.ID+"/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	derived := decode[[]entities.Task](t, w)
	require.Len(t, derived, 1)
	assert.Equal(t, "Reply to the team", derived[0].Title)
	assert.Equal(t, "Ana", derived[0].Assignee)

	w = s.doJSON(http.MethodPost, "/api/meetings/"+created.ID+"/tasks/import", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.doJSON(http.MethodPost, "/api/tasks", dto.CreateTaskRequest{Title: "Book room"})
	require.Equal(t, http.StatusCreated, w.Code)
	task := decode[entities.Task](t, w)

	w = s.doJSON(http.MethodPost, "/api/tasks/"+task.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constant.TaskStatusCompleted, decode[entities.Task](t, w).Status)

	w = s.doJSON(http.MethodGet, "/api/tasks", nil)
	assert.Len(t, decode[[]entities.Task](t, w), 2)

	w = s.doJSON(http.MethodDelete, "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.doJSON(http.MethodDelete, "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.doJSON(http.MethodPost, "/api/tasks", map[string]string{"details": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatStream(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})
	created := s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()

	w := s.doJSON(http.MethodPost, "/api/meetings/"+created.ID+"/chat", dto.ChatRequest{Message: "What happened?"})
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event:fragment"))
	assert.Contains(t, body, "event:done")
	assert.Contains(t, body, "They said hello.")

	w = s.doJSON(http.MethodGet, "/api/meetings/"+created.ID+"/chat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]service.ChatMessage](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, service.RoleUser, history[0].Role)
	assert.Equal(t, "They said hello.", history[1].Content)

	w = s.doJSON(http.MethodPost, "/api/meetings/missing/chat", dto.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatStreamFailure(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{chatErr: &errs.AnalysisFailed{Reason: "rate limited"}})
	created := s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()

	w := s.doJSON(http.MethodPost, "/api/meetings/"+created.ID+"/chat", dto.ChatRequest{Message: "What happened?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:error")
	assert.Contains(t, w.Body.String(), "analysis_failed")
	assert.Contains(t, w.Body.String(), "event:done")
}

func TestTranscribeEndpoint(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})

	w := s.do(multipartRequest(t, "/api/transcribe", "audio", "clip.wav", map[string]string{"detectOnly": "true"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"detectedLanguage":"fr","detectedLanguageName":"French"}`, w.Body.String())

	w = s.do(multipartRequest(t, "/api/transcribe", "audio", "clip.wav", map[string]string{"translate": "true"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"transcript":"hello team","wordTimings":[],"isTranslated":true,"language":"en","languageName":"English"}`, w.Body.String())

	w = s.do(multipartRequest(t, "/api/transcribe", "audio", "clip.wav", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.TranscribeResponse](t, w)
	assert.Len(t, resp.WordTimings, 2)
	assert.False(t, resp.IsTranslated)

	w = s.do(multipartRequest(t, "/api/transcribe", "file", "clip.wav", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})

	w := s.doJSON(http.MethodPost, "/api/analyze", dto.AnalyzeRequest{Transcript: "hello team"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "The team said hello.", decode[dto.AnalyzeResponse](t, w).Analysis.Summary)

	w = s.doJSON(http.MethodPost, "/api/analyze", dto.AnalyzeRequest{Transcript: "hello team", Query: "who spoke?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "They said hello.", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	w = s.doJSON(http.MethodPost, "/api/analyze", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMeetingEventStream(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})
	created := s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/meetings/"+created.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:snapshot\n", line)

	w := s.doJSON(http.MethodGet, "/api/meetings/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// editOnGet changes the meeting right after the first snapshot is taken.
type editOnGet struct {
	service.MeetingService
	once sync.Once
}

func (m *editOnGet) Get(id string) (*entities.Meeting, error) {
	meeting, err := m.MeetingService.Get(id)
	m.once.Do(func() {
		_, _ = m.MeetingService.EditAnalysis(context.Background(), id, constant.AnalysisFieldSummary, "Changed after snapshot")
	})
	return meeting, err
}

func TestMeetingEventStreamKeepsChangeAfterSnapshot(t *testing.T) {
	s := newTestServer(t, AuthConfig{Identity: localUser}, stubAnalyzer{})
	created := s.upload(t, map[string]string{"translate": "false"})
	s.meetings.Wait()

	router := NewRouter(zerolog.Nop(), Dependencies{
		Meetings: &editOnGet{MeetingService: s.meetings},
		Auth:     AuthConfig{Identity: localUser},
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/meetings/"+created.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var names []string
	for len(names) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			names = append(names, strings.TrimSpace(name))
		}
	}
	assert.Equal(t, []string{"snapshot", string(constant.EventUpdated)}, names)
}

func TestErrorBody(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{errs.Invalid("bad"), http.StatusBadRequest, "invalid_input"},
		{fmt.Errorf("meeting x: %w", errs.ErrNotFound), http.StatusNotFound, "not_found"},
		{errs.Storage(errors.New("disk")), http.StatusServiceUnavailable, "storage_unavailable"},
		{&errs.TranscriptionFailed{Reason: "timeout"}, http.StatusBadGateway, "transcription_failed"},
		{&errs.AnalysisFailed{Reason: "quota"}, http.StatusBadGateway, "analysis_failed"},
		{errors.Join(errs.ErrIntegrationFailed, errors.New("trello")), http.StatusBadGateway, "integration_failed"},
		{errors.New("unexpected"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, body := errorBody(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Code)
		assert.NotContains(t, body.Message, "\n")
	}
}
