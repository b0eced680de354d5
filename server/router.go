package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"iris/service"
)

type Dependencies struct {
	Meetings     service.MeetingService
	Tasks        service.TaskService
	Chat         service.ChatService
	Integrations service.IntegrationService
	Transcriber  service.Transcriber
	Analyzer     service.Analyzer
	Gatherer     prometheus.Gatherer
	Auth         AuthConfig
}

type api struct {
	Dependencies
}

func NewRouter(logger zerolog.Logger, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	addHealth(r)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	a := &api{Dependencies: deps}
	g := r.Group("/api", identity(deps.Auth))

	g.POST("/meetings", a.uploadMeeting)
	g.GET("/meetings", a.listMeetings)
	g.GET("/meetings/:id", a.openMeeting)
	g.DELETE("/meetings/:id", a.deleteMeeting)
	g.POST("/meetings/:id/translation", a.decideTranslation)
	g.PATCH("/meetings/:id/analysis", a.editAnalysis)
	g.GET("/meetings/:id/media", a.streamMedia)
	g.GET("/meetings/:id/events", a.meetingEvents)
	g.GET("/events", a.allEvents)
	g.GET("/meetings/:id/transcript/position", a.transcriptPosition)
	g.GET("/meetings/:id/transcript/words/:index/seek", a.seekWord)

	g.POST("/meetings/:id/chat", a.chat)
	g.GET("/meetings/:id/chat", a.chatHistory)
	g.DELETE("/meetings/:id/chat", a.resetChat)

	g.GET("/meetings/:id/tasks", a.deriveTasks)
	g.POST("/meetings/:id/tasks/import", a.importTasks)
	g.GET("/tasks", a.listTasks)
	g.POST("/tasks", a.createTask)
	g.POST("/tasks/:id/toggle", a.toggleTask)
	g.DELETE("/tasks/:id", a.deleteTask)

	g.POST("/transcribe", a.transcribe)
	g.POST("/analyze", a.analyze)

	g.POST("/integrations/trello/boards", a.createBoard)
	g.POST("/integrations/trello/lists", a.createList)
	g.POST("/integrations/trello/cards", a.createCard)
	g.POST("/integrations/trello/sync", a.syncTasks)
	g.POST("/integrations/slack/share", a.share)

	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}
