package dto

import (
	"time"

	"iris/constant"
	"iris/entities"
)

// MeetingEvent is fanned out to SSE subscribers and published on the event bus.
type MeetingEvent struct {
	Type                constant.EventType `json:"type"`
	MeetingID           string             `json:"meetingId"`
	Stage               constant.Stage     `json:"stage,omitempty"`
	Progress            int                `json:"progress"`
	Message             string             `json:"message,omitempty"`
	Language            string             `json:"language,omitempty"`
	LanguageDisplayName string             `json:"languageDisplayName,omitempty"`
	Meeting             *entities.Meeting  `json:"meeting,omitempty"`
	OccurredAt          time.Time          `json:"occurredAt"`
}

// MeetingView is a meeting plus a playback handle valid until the media is released.
type MeetingView struct {
	entities.Meeting
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

type TranslationDecisionRequest struct {
	Translate *bool `json:"translate" binding:"required"`
}

type EditAnalysisRequest struct {
	Field string `json:"field" binding:"required"`
	Text  string `json:"text"`
}

type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

type ChatFragment struct {
	Content string `json:"content"`
}

type CreateTaskRequest struct {
	Title    string `json:"title" binding:"required"`
	Details  string `json:"details"`
	Assignee string `json:"assignee"`
	DueDate  string `json:"dueDate"`
}

type AnalyzeRequest struct {
	Transcript string `json:"transcript" binding:"required"`
	Query      string `json:"query"`
}

type AnalyzeResponse struct {
	Analysis entities.Analysis `json:"analysis"`
}

type TranscribeResponse struct {
	Transcript   string                `json:"transcript"`
	WordTimings  []entities.WordTiming `json:"wordTimings"`
	IsTranslated bool                  `json:"isTranslated"`
	Language     string                `json:"language"`
	LanguageName string                `json:"languageName"`
}

type DetectLanguageResponse struct {
	DetectedLanguage     string `json:"detectedLanguage"`
	DetectedLanguageName string `json:"detectedLanguageName"`
	Fallback             bool   `json:"fallback,omitempty"`
}

type TranscriptPosition struct {
	Offset    float64              `json:"offset"`
	WordIndex int                  `json:"wordIndex"`
	Word      *entities.WordTiming `json:"word,omitempty"`
}

type SeekResponse struct {
	WordIndex int     `json:"wordIndex"`
	Offset    float64 `json:"offset"`
}

type TrelloListRequest struct {
	BoardID      string `json:"boardId" binding:"required"`
	MeetingTitle string `json:"meetingTitle" binding:"required"`
}

type TrelloCardRequest struct {
	ListID string `json:"listId" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Desc   string `json:"desc"`
	Due    string `json:"due"`
}

// TrelloSyncRequest syncs the derived tasks of MeetingID, or every pending stored task when empty.
type TrelloSyncRequest struct {
	ListID    string `json:"listId" binding:"required"`
	MeetingID string `json:"meetingId"`
}

type SlackShareRequest struct {
	Channel   string `json:"channel" binding:"required"`
	MeetingID string `json:"meetingId" binding:"required"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
