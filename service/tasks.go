package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"iris/constant"
	"iris/dto"
	"iris/entities"
	"iris/errs"
	"iris/pkg/analysis"
	"iris/repository"
)

const DefaultAssignee = "Unassigned"

type TaskService interface {
	Create(ctx context.Context, req dto.CreateTaskRequest) (*entities.Task, error)
	List(ctx context.Context) ([]*entities.Task, error)
	Toggle(ctx context.Context, id string) (*entities.Task, error)
	Delete(ctx context.Context, id string) error
	Derive(meetingID string) ([]entities.Task, error)
	Import(ctx context.Context, meetingID string) ([]*entities.Task, error)
}

type taskService struct {
	store    repository.RecordStore
	meetings MeetingService
}

func NewTaskService(store repository.RecordStore, meetings MeetingService) TaskService {
	return &taskService{
		store:    store,
		meetings: meetings,
	}
}

func (s *taskService) Create(ctx context.Context, req dto.CreateTaskRequest) (*entities.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errs.Invalid("task title is required")
	}
	assignee := strings.TrimSpace(req.Assignee)
	if assignee == "" {
		assignee = DefaultAssignee
	}

	task := &entities.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Details:   strings.TrimSpace(req.Details),
		Status:    constant.TaskStatusPending,
		Assignee:  assignee,
		DueDate:   strings.TrimSpace(req.DueDate),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutTask(ctx, task); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("task_id", task.ID).Msg("task created")
	return task, nil
}

func (s *taskService) List(ctx context.Context) ([]*entities.Task, error) {
	return s.store.GetAllTasks(ctx)
}

func (s *taskService) find(ctx context.Context, id string) (*entities.Task, error) {
	tasks, err := s.store.GetAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", id, errs.ErrNotFound)
}

// Toggle flips a task between pending and completed in place.
func (s *taskService) Toggle(ctx context.Context, id string) (*entities.Task, error) {
	task, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == constant.TaskStatusCompleted {
		task.Status = constant.TaskStatusPending
	} else {
		task.Status = constant.TaskStatusCompleted
	}
	if err := s.store.PutTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTask(ctx, id)
}

// Derive parses the meeting's analysis tasks text. Nothing is persisted.
func (s *taskService) Derive(meetingID string) ([]entities.Task, error) {
	meeting, err := s.meetings.Get(meetingID)
	if err != nil {
		return nil, err
	}
	a := meeting.CurrentAnalysis()
	if a == nil {
		return []entities.Task{}, nil
	}

	parsed := ParseTasks(a.Tasks)
	tasks := make([]entities.Task, 0, len(parsed))
	for i, p := range parsed {
		id := meeting.ID
		tasks = append(tasks, entities.Task{
			ID:           DerivedTaskID(meeting.ID, i),
			Title:        p.Title,
			Details:      p.Details,
			Status:       constant.TaskStatusPending,
			Assignee:     p.Assignee,
			DueDate:      p.DueDate,
			CreatedAt:    meeting.CreatedAt,
			MeetingID:    &id,
			MeetingTitle: meeting.Title,
		})
	}
	return tasks, nil
}

// DerivedTaskID names the i-th task of a meeting. The same meeting and position always give the
// same id, so a repeated import finds the earlier copy.
func DerivedTaskID(meetingID string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/task/%d", meetingID, i)).String()
}

// Import persists the derived tasks of a meeting in one transaction. Tasks imported earlier keep
// their status.
func (s *taskService) Import(ctx context.Context, meetingID string) ([]*entities.Task, error) {
	derived, err := s.Derive(meetingID)
	if err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		return nil, errs.Invalid("meeting %s has no tasks to import", meetingID)
	}

	existing, err := s.store.GetAllTasks(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*entities.Task, len(existing))
	for _, t := range existing {
		known[t.ID] = t
	}

	imported := make([]*entities.Task, 0, len(derived))
	now := time.Now().UTC()
	err = s.store.Transaction(ctx, func(ctx context.Context) error {
		for i := range derived {
			if t, ok := known[derived[i].ID]; ok {
				imported = append(imported, t)
				continue
			}
			task := derived[i]
			task.CreatedAt = now
			if err := s.store.PutTask(ctx, &task); err != nil {
				return err
			}
			imported = append(imported, &task)
		}
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("meeting_id", meetingID).Msg("failed to import tasks")
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("meeting_id", meetingID).Int("tasks", len(imported)).Msg("tasks imported")
	return imported, nil
}

type ParsedTask struct {
	Title    string
	Details  string
	Assignee string
	DueDate  string
}

var (
	taskMarker   = regexp.MustCompile(`\d+\.\s`)
	assigneeLine = regexp.MustCompile(`(?i)^(assignee|owner|assigned to)\s*:\s*(.+)$`)
	dueLine      = regexp.MustCompile(`(?i)^(due date|due|deadline)\s*:\s*(.+)$`)
)

// ParseTasks splits numbered action items ("1. ...") into tasks. The first line of each item is
// its title; the remaining lines are details, with assignee and due-date lines lifted out.
func ParseTasks(text string) []ParsedTask {
	text = strings.TrimSpace(text)
	if text == "" || text == analysis.NoTasks {
		return nil
	}

	var tasks []ParsedTask
	for _, chunk := range taskMarker.Split(text, -1) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		lines := strings.Split(chunk, "\n")
		task := ParsedTask{
			Title:    strings.TrimSpace(lines[0]),
			Assignee: DefaultAssignee,
		}
		var details []string
		for _, line := range lines[1:] {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
			if line == "" {
				continue
			}
			if m := assigneeLine.FindStringSubmatch(line); m != nil {
				task.Assignee = strings.TrimSpace(m[2])
				continue
			}
			if m := dueLine.FindStringSubmatch(line); m != nil {
				task.DueDate = strings.TrimSpace(m[2])
				continue
			}
			details = append(details, line)
		}
		task.Details = strings.Join(details, "\n")
		tasks = append(tasks, task)
	}
	return tasks
}
