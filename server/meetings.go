package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"iris/constant"
	"iris/dto"
	"iris/errs"
	"iris/service"
)

func readFormFile(c *gin.Context, field string) (*multipart.FileHeader, []byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, nil, errs.Invalid("%s file is required", field)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, errs.Invalid("reading %s: %v", field, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, errs.Invalid("reading %s: %v", field, err)
	}
	return fh, data, nil
}

// optionalBool is nil for an absent form value.
func optionalBool(value string) (*bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, errs.Invalid("translate must be true or false")
	}
	return &b, nil
}

func (a *api) uploadMeeting(c *gin.Context) {
	fh, data, err := readFormFile(c, "file")
	if err != nil {
		respondError(c, err)
		return
	}
	translate, err := optionalBool(c.PostForm("translate"))
	if err != nil {
		respondError(c, err)
		return
	}

	meeting, err := a.Meetings.Upload(c.Request.Context(), service.UploadInput{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
		Title:       c.PostForm("title"),
		Uploader:    identityFromContext(c.Request.Context()),
		Translate:   translate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, meeting)
}

func (a *api) listMeetings(c *gin.Context) {
	c.JSON(http.StatusOK, a.Meetings.List(c.Query("q")))
}

func (a *api) openMeeting(c *gin.Context) {
	view, err := a.Meetings.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *api) deleteMeeting(c *gin.Context) {
	id := c.Param("id")
	if err := a.Meetings.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	a.Chat.Reset(id)
	c.Status(http.StatusNoContent)
}

func (a *api) decideTranslation(c *gin.Context) {
	var req dto.TranslationDecisionRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := a.Meetings.DecideTranslation(c.Request.Context(), c.Param("id"), *req.Translate); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (a *api) editAnalysis(c *gin.Context) {
	var req dto.EditAnalysisRequest
	if !bindJSON(c, &req) {
		return
	}
	meeting, err := a.Meetings.EditAnalysis(c.Request.Context(), c.Param("id"), constant.AnalysisField(req.Field), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

func (a *api) streamMedia(c *gin.Context) {
	rc, contentType, err := a.Meetings.OpenMedia(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (a *api) transcriptPosition(c *gin.Context) {
	offset, err := strconv.ParseFloat(c.Query("t"), 64)
	if err != nil || offset < 0 {
		respondError(c, errs.Invalid("t must be a non-negative number of seconds"))
		return
	}
	meeting, err := a.Meetings.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	timings := meeting.Timings()
	pos := dto.TranscriptPosition{Offset: offset, WordIndex: service.ActiveWordIndex(offset, timings)}
	if pos.WordIndex != service.NoWord {
		word := timings[pos.WordIndex]
		pos.Word = &word
	}
	c.JSON(http.StatusOK, pos)
}

func (a *api) seekWord(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, errs.Invalid("word index must be an integer"))
		return
	}
	meeting, err := a.Meetings.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	offset, ok := service.SeekOffset(meeting.Timings(), index)
	if !ok {
		respondError(c, errs.Invalid("word index %d out of range", index))
		return
	}
	c.JSON(http.StatusOK, dto.SeekResponse{WordIndex: index, Offset: offset})
}
