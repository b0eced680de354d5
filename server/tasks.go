package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"iris/dto"
)

func (a *api) deriveTasks(c *gin.Context) {
	tasks, err := a.Tasks.Derive(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (a *api) importTasks(c *gin.Context) {
	tasks, err := a.Tasks.Import(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tasks)
}

func (a *api) listTasks(c *gin.Context) {
	tasks, err := a.Tasks.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (a *api) createTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if !bindJSON(c, &req) {
		return
	}
	task, err := a.Tasks.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (a *api) toggleTask(c *gin.Context) {
	task, err := a.Tasks.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (a *api) deleteTask(c *gin.Context) {
	if err := a.Tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) createBoard(c *gin.Context) {
	board, err := a.Integrations.CreateBoard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, board)
}

func (a *api) createList(c *gin.Context) {
	var req dto.TrelloListRequest
	if !bindJSON(c, &req) {
		return
	}
	list, err := a.Integrations.CreateList(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, list)
}

func (a *api) createCard(c *gin.Context) {
	var req dto.TrelloCardRequest
	if !bindJSON(c, &req) {
		return
	}
	card, err := a.Integrations.CreateCard(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (a *api) syncTasks(c *gin.Context) {
	var req dto.TrelloSyncRequest
	if !bindJSON(c, &req) {
		return
	}
	cards, err := a.Integrations.SyncTasks(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

func (a *api) share(c *gin.Context) {
	var req dto.SlackShareRequest
	if !bindJSON(c, &req) {
		return
	}
	ts, err := a.Integrations.Share(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ts": ts})
}
