package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"iris/errs"
	"iris/pkg/analysis"
	"iris/pkg/observability"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatService interface {
	// Ask folds the streamed reply into the conversation and reports each fragment to onFragment.
	Ask(ctx context.Context, meetingID, question string, onFragment func(string)) (ChatMessage, error)
	History(meetingID string) []ChatMessage
	Reset(meetingID string)
}

// conversation serializes exchanges on one meeting so fragments always land on the last message.
type conversation struct {
	mu       sync.Mutex
	messages []ChatMessage
}

type chatService struct {
	meetings MeetingService
	analyzer Analyzer
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewChatService(meetings MeetingService, analyzer Analyzer, metrics *observability.Metrics) ChatService {
	return &chatService{
		meetings:      meetings,
		analyzer:      analyzer,
		metrics:       metrics,
		tracer:        observability.NewTracer(),
		conversations: make(map[string]*conversation),
	}
}

func (s *chatService) conversation(meetingID string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[meetingID]
	if !ok {
		c = &conversation{}
		s.conversations[meetingID] = c
	}
	return c
}

func (s *chatService) Ask(ctx context.Context, meetingID, question string, onFragment func(string)) (ChatMessage, error) {
	if question == "" {
		return ChatMessage{}, errs.Invalid("message is required")
	}
	meeting, err := s.meetings.Get(meetingID)
	if err != nil {
		return ChatMessage{}, err
	}
	if !meeting.HasTranscript() {
		return ChatMessage{}, errs.Invalid("meeting %s has no transcript yet", meetingID)
	}

	c := s.conversation(meetingID)
	c.mu.Lock()
	defer c.mu.Unlock()

	history := make([]analysis.Message, 0, len(c.messages))
	for _, m := range c.messages {
		history = append(history, analysis.Message{Role: m.Role, Content: m.Content})
	}
	now := time.Now().UTC()
	c.messages = append(c.messages,
		ChatMessage{Role: RoleUser, Content: question, CreatedAt: now},
		ChatMessage{Role: RoleAssistant, CreatedAt: now},
	)
	last := len(c.messages) - 1

	ctx, span := s.tracer.Start(ctx, observability.SpanChat, meetingID)
	var streamErr error
	for fragment, err := range s.analyzer.Chat(ctx, *meeting.Transcript, history, question) {
		if err != nil {
			streamErr = err
			break
		}
		c.messages[last].Content += fragment
		if onFragment != nil {
			onFragment(fragment)
		}
		if ctx.Err() != nil {
			break
		}
	}
	observability.End(span, streamErr)

	switch {
	case ctx.Err() != nil:
		// abandoned by the caller: keep what arrived, ask for nothing more
		s.count("cancelled")
		if c.messages[last].Content == "" {
			c.messages = c.messages[:last]
			return ChatMessage{}, ctx.Err()
		}
		return c.messages[last], ctx.Err()
	case streamErr != nil:
		s.count("error")
		zerolog.Ctx(ctx).Error().Err(streamErr).Str("meeting_id", meetingID).Msg("chat failed")
		notice := ChatMessage{
			Role:      RoleAssistant,
			Content:   fmt.Sprintf("Sorry, I couldn't answer that: %s", failureReason(streamErr)),
			CreatedAt: time.Now().UTC(),
		}
		if c.messages[last].Content == "" {
			c.messages[last] = notice
		} else {
			c.messages = append(c.messages, notice)
		}
		var failed *errs.AnalysisFailed
		if !errors.As(streamErr, &failed) {
			streamErr = &errs.AnalysisFailed{Reason: failureReason(streamErr), Err: streamErr}
		}
		return notice, streamErr
	}

	s.count("ok")
	return c.messages[last], nil
}

func (s *chatService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.ChatMessagesTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *chatService) History(meetingID string) []ChatMessage {
	s.mu.Lock()
	c, ok := s.conversations[meetingID]
	s.mu.Unlock()
	if !ok {
		return []ChatMessage{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (s *chatService) Reset(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, meetingID)
}
