package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"iris/constant"
	"iris/entities"
	"iris/errs"
	"iris/pkg/media"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "whisper-1"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type Options struct {
	Translate    bool
	LanguageHint string
}

// Result is the provider-independent transcription contract.
type Result struct {
	Text         string
	WordTimings  []entities.WordTiming
	IsTranslated bool
	Language     Language
}

type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		http:    httpClient,
	}
}

// DetectLanguage is advisory: provider failures return FallbackLanguage instead of an error.
func (c *Client) DetectLanguage(ctx context.Context, m media.Media) Language {
	var resp verboseResponse
	err := c.post(ctx, "/audio/transcriptions", m, map[string]string{
		"response_format": "verbose_json",
	}, nil, &resp)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("language detection failed, using fallback")
		return FallbackLanguage()
	}
	if resp.Language == "" {
		return FallbackLanguage()
	}
	return ResolveLanguage(resp.Language)
}

func (c *Client) Transcribe(ctx context.Context, m media.Media, opts Options) (*Result, error) {
	if opts.Translate {
		var resp textResponse
		if err := c.post(ctx, "/audio/translations", m, map[string]string{
			"response_format": "json",
		}, nil, &resp); err != nil {
			return nil, err
		}
		return &Result{
			Text:         strings.TrimSpace(resp.Text),
			WordTimings:  []entities.WordTiming{},
			IsTranslated: true,
			Language:     Language{Code: constant.PivotLanguage, DisplayName: constant.PivotLanguageName},
		}, nil
	}

	fields := map[string]string{
		"response_format": "verbose_json",
	}
	if opts.LanguageHint != "" {
		fields["language"] = opts.LanguageHint
	}
	var resp verboseResponse
	if err := c.post(ctx, "/audio/transcriptions", m, fields, map[string][]string{
		"timestamp_granularities[]": {"word"},
	}, &resp); err != nil {
		return nil, err
	}

	lang := ResolveLanguage(resp.Language)
	if lang.Code == "" {
		lang = ResolveLanguage(opts.LanguageHint)
	}
	if lang.Code == "" {
		lang = Language{Code: constant.PivotLanguage, DisplayName: constant.PivotLanguageName}
	}

	return &Result{
		Text:        strings.TrimSpace(resp.Text),
		WordTimings: normalizeWords(resp.Words),
		Language:    lang,
	}, nil
}

// normalizeWords drops provider-specific fields and orders entries by start offset.
func normalizeWords(words []verboseWord) []entities.WordTiming {
	if len(words) == 0 {
		return nil
	}
	timings := make([]entities.WordTiming, 0, len(words))
	for _, w := range words {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		end := w.End
		if end < w.Start {
			end = w.Start
		}
		timings = append(timings, entities.WordTiming{Word: word, Start: w.Start, End: end})
	}
	sort.SliceStable(timings, func(i, j int) bool {
		return timings[i].Start < timings[j].Start
	})
	return timings
}

func (c *Client) post(ctx context.Context, endpoint string, m media.Media, fields map[string]string, multi map[string][]string, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", c.model); err != nil {
		return failed("build request", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return failed("build request", err)
		}
	}
	for k, values := range multi {
		for _, v := range values {
			if err := writer.WriteField(k, v); err != nil {
				return failed("build request", err)
			}
		}
	}

	name := m.Name
	if name == "" {
		name = "audio.wav"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	contentType := m.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return failed("build request", err)
	}
	if _, err := part.Write(m.Data); err != nil {
		return failed("build request", err)
	}
	if err := writer.Close(); err != nil {
		return failed("build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return failed("build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failed("calling speech provider", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failed("reading response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &errs.TranscriptionFailed{
			Reason: fmt.Sprintf("speech provider error (HTTP %d): %s", resp.StatusCode, providerMessage(respBody)),
		}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return failed("parsing response", err)
	}
	return nil
}

func failed(reason string, err error) error {
	return &errs.TranscriptionFailed{Reason: fmt.Sprintf("%s: %v", reason, err), Err: err}
}

func providerMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type textResponse struct {
	Text string `json:"text"`
}

type verboseWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type verboseResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Words    []verboseWord `json:"words"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
