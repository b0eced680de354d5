package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"iris/dto"
	"iris/entities"
	"iris/pkg/media"
	"iris/pkg/transcription"
)

// transcribe proxies one media payload to the speech provider without creating a meeting.
func (a *api) transcribe(c *gin.Context) {
	fh, data, err := readFormFile(c, "audio")
	if err != nil {
		respondError(c, err)
		return
	}
	m := media.Media{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}
	if m.Name == "" {
		m.Name = "audio.wav"
	}
	if m.ContentType == "" {
		m.ContentType = "audio/wav"
	}

	ctx := c.Request.Context()
	if c.PostForm("detectOnly") == "true" {
		lang := a.Transcriber.DetectLanguage(ctx, m)
		c.JSON(http.StatusOK, dto.DetectLanguageResponse{
			DetectedLanguage:     lang.Code,
			DetectedLanguageName: lang.DisplayName,
			Fallback:             lang.Fallback,
		})
		return
	}

	result, err := a.Transcriber.Transcribe(ctx, m, transcription.Options{
		Translate:    c.PostForm("translate") == "true",
		LanguageHint: c.PostForm("detectedLanguage"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	timings := result.WordTimings
	if timings == nil {
		timings = []entities.WordTiming{}
	}
	c.JSON(http.StatusOK, dto.TranscribeResponse{
		Transcript:   result.Text,
		WordTimings:  timings,
		IsTranslated: result.IsTranslated,
		Language:     result.Language.Code,
		LanguageName: result.Language.DisplayName,
	})
}

// analyze returns the structured analysis of a transcript, or streams a plain-text answer when
// a query is present.
func (a *api) analyze(c *gin.Context) {
	var req dto.AnalyzeRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if req.Query == "" {
		result, err := a.Analyzer.Analyze(ctx, req.Transcript)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.AnalyzeResponse{Analysis: entities.Analysis{
			Discussions: result.Discussions,
			Summary:     result.Summary,
			Tasks:       result.Tasks,
		}})
		return
	}

	started := false
	for fragment, err := range a.Analyzer.Chat(ctx, req.Transcript, nil, req.Query) {
		if err != nil {
			if !started {
				respondError(c, err)
				return
			}
			zerolog.Ctx(ctx).Warn().Err(err).Msg("analysis stream interrupted")
			return
		}
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.WriteString(fragment); err != nil {
			return
		}
		c.Writer.Flush()
	}
	if !started {
		c.Status(http.StatusOK)
	}
}
