package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"iris/dto"
	"iris/errs"
)

const eventSnapshot = "snapshot"

func startSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func sendEvent(c *gin.Context, name string, data any) {
	c.SSEvent(name, data)
	c.Writer.Flush()
}

func (a *api) meetingEvents(c *gin.Context) {
	id := c.Param("id")
	// subscribed before the snapshot, so a change in between is still relayed
	events, unsubscribe := a.Meetings.Subscribe()
	defer unsubscribe()
	meeting, err := a.Meetings.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	startSSE(c)
	sendEvent(c, eventSnapshot, meeting)
	a.relay(c, events, id)
}

func (a *api) allEvents(c *gin.Context) {
	events, unsubscribe := a.Meetings.Subscribe()
	defer unsubscribe()

	startSSE(c)
	a.relay(c, events, "")
}

// relay forwards hub events until the client leaves. An empty meetingID forwards everything.
func (a *api) relay(c *gin.Context, events <-chan dto.MeetingEvent, meetingID string) {
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if meetingID != "" && event.MeetingID != meetingID {
				continue
			}
			sendEvent(c, string(event.Type), event)
		}
	}
}

func (a *api) chat(c *gin.Context) {
	var req dto.ChatRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	started := false
	reply, err := a.Chat.Ask(ctx, c.Param("id"), req.Message, func(fragment string) {
		if !started {
			startSSE(c)
			started = true
		}
		sendEvent(c, "fragment", dto.ChatFragment{Content: fragment})
	})
	if err != nil && !started && isClientError(err) {
		respondError(c, err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !started {
		startSSE(c)
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("meeting_id", c.Param("id")).Msg("chat reply failed")
		_, body := errorBody(err)
		sendEvent(c, "error", body)
	}
	sendEvent(c, "done", reply)
}

func isClientError(err error) bool {
	return errors.Is(err, errs.ErrInvalidInput) || errors.Is(err, errs.ErrNotFound)
}

func (a *api) chatHistory(c *gin.Context) {
	if _, err := a.Meetings.Get(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.Chat.History(c.Param("id")))
}

func (a *api) resetChat(c *gin.Context) {
	a.Chat.Reset(c.Param("id"))
	c.Status(http.StatusNoContent)
}
