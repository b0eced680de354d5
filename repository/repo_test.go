package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"iris/constant"
	"iris/entities"
	"iris/errs"
	"iris/repository"
)

func openStore(t *testing.T) repository.RecordStore {
	t.Helper()
	store, err := repository.Open(repository.Config{Driver: repository.DriverSQLite, Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newMeeting(id string, createdAt time.Time) *entities.Meeting {
	return &entities.Meeting{
		ID:         id,
		Title:      "Weekly sync " + id,
		CreatedAt:  createdAt,
		Stage:      constant.StageUploading,
		UploadedBy: entities.Uploader{Name: "Local User", Email: "local@example.com"},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestPutMeetingUpserts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	m := newMeeting("m1", time.Now().UTC())
	require.NoError(t, store.PutMeeting(ctx, m))

	transcript := "hello world"
	m.Stage = constant.StageProcessing
	m.Progress = constant.ProgressTranscribed
	m.Transcript = &transcript
	m.SetTimings([]entities.WordTiming{{Word: "hello", Start: 0, End: 0.4}, {Word: "world", Start: 0.5, End: 0.9}})
	require.NoError(t, store.PutMeeting(ctx, m))

	all, err := store.GetAllMeetings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, constant.StageProcessing, got.Stage)
	assert.Equal(t, 50, got.Progress)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello world", *got.Transcript)
	assert.Equal(t, m.Timings(), got.Timings())
	assert.Equal(t, "local@example.com", got.UploadedBy.Email)
	assert.Nil(t, got.CurrentAnalysis())
}

func TestWordTimingsNilAndEmptyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	withoutTimings := newMeeting("a", time.Now().Add(-time.Minute).UTC())
	translated := newMeeting("b", time.Now().UTC())
	translated.SetTimings([]entities.WordTiming{})
	translated.IsTranslated = true
	require.NoError(t, store.PutMeeting(ctx, withoutTimings))
	require.NoError(t, store.PutMeeting(ctx, translated))

	all, err := store.GetAllMeetings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Nil(t, all[0].Timings())
	assert.Equal(t, "b", all[1].ID)
	assert.NotNil(t, all[1].Timings())
	assert.Empty(t, all[1].Timings())
	assert.True(t, all[1].IsTranslated)
}

func TestAnalysisEditSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	m := newMeeting("m1", time.Now().UTC())
	m.Stage = constant.StageReady
	m.Progress = constant.ProgressAnalyzed
	m.SetAnalysis(&entities.Analysis{Discussions: "d", Summary: "s", Tasks: "1. t"})
	require.NoError(t, store.PutMeeting(ctx, m))

	m.SetAnalysis(&entities.Analysis{Discussions: "d", Summary: "Revised", Tasks: "1. t"})
	require.NoError(t, store.PutMeeting(ctx, m))

	all, err := store.GetAllMeetings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].CurrentAnalysis())
	assert.Equal(t, "Revised", all[0].CurrentAnalysis().Summary)
	assert.Equal(t, constant.StageReady, all[0].Stage)
}

func TestDeleteMeeting(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.PutMeeting(ctx, newMeeting("m1", time.Now().UTC())))
	require.NoError(t, store.DeleteMeeting(ctx, "m1"))

	err := store.DeleteMeeting(ctx, "m1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	all, err := store.GetAllMeetings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.PutMeeting(ctx, newMeeting("m1", time.Now().UTC())))

	boom := errors.New("release failed")
	err := store.Transaction(ctx, func(ctx context.Context) error {
		if err := store.DeleteMeeting(ctx, "m1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, errs.ErrStorageUnavailable))

	all, err := store.GetAllMeetings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "m1", all[0].ID)
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	meetingID := "m1"
	task := &entities.Task{
		ID:           "t1",
		Title:        "Send notes",
		Status:       constant.TaskStatusPending,
		Assignee:     "Ana",
		CreatedAt:    time.Now().UTC(),
		MeetingID:    &meetingID,
		MeetingTitle: "Weekly sync",
	}
	require.NoError(t, store.PutTask(ctx, task))

	task.Status = constant.TaskStatusCompleted
	require.NoError(t, store.PutTask(ctx, task))

	all, err := store.GetAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, constant.TaskStatusCompleted, all[0].Status)
	require.NotNil(t, all[0].MeetingID)
	assert.Equal(t, "m1", *all[0].MeetingID)

	require.NoError(t, store.DeleteTask(ctx, "t1"))
	assert.ErrorIs(t, store.DeleteTask(ctx, "t1"), errs.ErrNotFound)
}

func TestPutRequiresID(t *testing.T) {
	store := openStore(t)
	err := store.PutMeeting(context.Background(), &entities.Meeting{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestPutRejectsOverlongID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	long := strings.Repeat("a", entities.IDLength+1)
	err := store.PutTask(ctx, &entities.Task{ID: long, Title: "Send notes", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.ErrorIs(t, store.PutMeeting(ctx, newMeeting(long, time.Now().UTC())), errs.ErrInvalidInput)

	fits := strings.Repeat("b", entities.IDLength)
	require.NoError(t, store.PutTask(ctx, &entities.Task{ID: fits, Title: "Send notes", CreatedAt: time.Now().UTC()}))
	all, err := store.GetAllTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, fits, all[0].ID)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := repository.Open(repository.Config{Driver: "mongo"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
