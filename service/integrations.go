package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"iris/constant"
	"iris/dto"
	"iris/entities"
	"iris/errs"
	"iris/pkg/slack"
	"iris/pkg/trello"
)

const (
	ShareMeeting = "meeting"
	ShareTasks   = "tasks"
)

type TaskBoard interface {
	CreateBoard(ctx context.Context) (*trello.Board, error)
	CreateList(ctx context.Context, boardID, meetingTitle string) (*trello.List, error)
	CreateCard(ctx context.Context, listID, name, desc, due string) (*trello.Card, error)
	SyncTasks(ctx context.Context, listID string, tasks []trello.Task) ([]*trello.Card, error)
}

type ChannelPoster interface {
	ShareMeeting(ctx context.Context, channel, meetingID, message string) (string, error)
	ShareTasks(ctx context.Context, channel, meetingID, message string) (string, error)
}

type IntegrationService interface {
	CreateBoard(ctx context.Context) (*trello.Board, error)
	CreateList(ctx context.Context, req dto.TrelloListRequest) (*trello.List, error)
	CreateCard(ctx context.Context, req dto.TrelloCardRequest) (*trello.Card, error)
	SyncTasks(ctx context.Context, req dto.TrelloSyncRequest) ([]*trello.Card, error)
	Share(ctx context.Context, req dto.SlackShareRequest) (string, error)
}

type integrationService struct {
	board    TaskBoard
	poster   ChannelPoster
	meetings MeetingService
	tasks    TaskService
}

func NewIntegrationService(board TaskBoard, poster ChannelPoster, meetings MeetingService, tasks TaskService) IntegrationService {
	return &integrationService{
		board:    board,
		poster:   poster,
		meetings: meetings,
		tasks:    tasks,
	}
}

func (s *integrationService) CreateBoard(ctx context.Context) (*trello.Board, error) {
	board, err := s.board.CreateBoard(ctx)
	if err != nil {
		return nil, errs.Integration(err, trello.ErrNotConfigured)
	}
	return board, nil
}

func (s *integrationService) CreateList(ctx context.Context, req dto.TrelloListRequest) (*trello.List, error) {
	list, err := s.board.CreateList(ctx, req.BoardID, req.MeetingTitle)
	if err != nil {
		return nil, errs.Integration(err, trello.ErrNotConfigured)
	}
	return list, nil
}

func (s *integrationService) CreateCard(ctx context.Context, req dto.TrelloCardRequest) (*trello.Card, error) {
	card, err := s.board.CreateCard(ctx, req.ListID, req.Name, req.Desc, req.Due)
	if err != nil {
		return nil, errs.Integration(err, trello.ErrNotConfigured)
	}
	return card, nil
}

// SyncTasks creates a card for each derived task of the meeting, or for every pending stored task.
func (s *integrationService) SyncTasks(ctx context.Context, req dto.TrelloSyncRequest) ([]*trello.Card, error) {
	var source []entities.Task
	if req.MeetingID != "" {
		derived, err := s.tasks.Derive(req.MeetingID)
		if err != nil {
			return nil, err
		}
		source = derived
	} else {
		stored, err := s.tasks.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range stored {
			if t.Status == constant.TaskStatusPending {
				source = append(source, *t)
			}
		}
	}
	if len(source) == 0 {
		return nil, errs.Invalid("no tasks to sync")
	}

	cards, err := s.board.SyncTasks(ctx, req.ListID, toCards(source))
	if err != nil {
		return nil, errs.Integration(err, trello.ErrNotConfigured)
	}
	zerolog.Ctx(ctx).Info().Str("list_id", req.ListID).Int("cards", len(cards)).Msg("tasks synced to trello")
	return cards, nil
}

func toCards(tasks []entities.Task) []trello.Task {
	out := make([]trello.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, trello.Task{
			Title:       t.Title,
			Description: t.Details,
			Assignee:    t.Assignee,
			DueDate:     t.DueDate,
			Priority:    "normal",
		})
	}
	return out
}

// Share posts meeting insights or action items to a channel. An empty message is filled from
// the meeting's analysis.
func (s *integrationService) Share(ctx context.Context, req dto.SlackShareRequest) (string, error) {
	kind := req.Type
	if kind == "" {
		kind = ShareMeeting
	}
	if kind != ShareMeeting && kind != ShareTasks {
		return "", errs.Invalid("unknown share type %q", req.Type)
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		meeting, err := s.meetings.Get(req.MeetingID)
		if err != nil {
			return "", err
		}
		message = shareText(meeting, kind)
		if message == "" {
			return "", errs.Invalid("meeting %s has no analysis to share", req.MeetingID)
		}
	}

	var (
		ts  string
		err error
	)
	if kind == ShareTasks {
		ts, err = s.poster.ShareTasks(ctx, req.Channel, req.MeetingID, message)
	} else {
		ts, err = s.poster.ShareMeeting(ctx, req.Channel, req.MeetingID, message)
	}
	if err != nil {
		return "", errs.Integration(err, slack.ErrNotConfigured)
	}
	zerolog.Ctx(ctx).Info().Str("meeting_id", req.MeetingID).Str("channel", req.Channel).Str("type", kind).Msg("meeting shared")
	return ts, nil
}

func shareText(m *entities.Meeting, kind string) string {
	a := m.CurrentAnalysis()
	if a == nil {
		return ""
	}
	if kind == ShareTasks {
		return a.Tasks
	}
	return "*" + m.Title + "*\n\n" + a.Summary
}
