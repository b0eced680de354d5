package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"iris/errs"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	NoDiscussions = "No discussions found"
	NoSummary     = "No summary available"
	NoTasks       = "No tasks identified"
)

const analyzePrompt = `You analyze meeting transcripts. Reply with a JSON object with exactly three string fields:
"discussions": the main discussion points as a numbered list,
"summary": a concise summary of the meeting,
"tasks": the action items as a numbered list ("1. ..."), each followed by "Assignee: <name>" and "Due: <date>" lines when known.
Use an empty string for a field with nothing to report.`

const chatPrompt = `You answer questions about a meeting. Ground every answer in the transcript below and say so when the transcript does not contain the answer.

Transcript:
%s`

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Result is the provider-independent analysis contract.
type Result struct {
	Discussions string `json:"discussions"`
	Summary     string `json:"summary"`
	Tasks       string `json:"tasks"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
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
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		http:    httpClient,
	}
}

func (c *Client) Analyze(ctx context.Context, transcript string) (*Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errs.Invalid("transcript is required")
	}

	reqBody := completionRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: analyzePrompt},
			{Role: "user", Content: transcript},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	resp, err := c.do(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failed("reading response", err)
	}

	var completion completionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, failed("parsing response", err)
	}
	if len(completion.Choices) == 0 {
		return nil, &errs.AnalysisFailed{Reason: "empty response from analysis provider"}
	}

	var result Result
	content := completion.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, failed("parsing analysis", err)
	}
	return withPlaceholders(result), nil
}

// withPlaceholders keeps "nothing found" answers distinct from a failed request.
func withPlaceholders(r Result) *Result {
	if strings.TrimSpace(r.Discussions) == "" {
		r.Discussions = NoDiscussions
	}
	if strings.TrimSpace(r.Summary) == "" {
		r.Summary = NoSummary
	}
	if strings.TrimSpace(r.Tasks) == "" {
		r.Tasks = NoTasks
	}
	return &r
}

// Chat streams the assistant reply as text fragments in arrival order. The sequence is single-use;
// when the consumer stops iterating the response body is closed and nothing more is read. A failure
// is yielded once as *errs.AnalysisFailed and ends the sequence.
func (c *Client) Chat(ctx context.Context, transcript string, history []Message, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		messages := make([]Message, 0, len(history)+2)
		messages = append(messages, Message{Role: "system", Content: fmt.Sprintf(chatPrompt, transcript)})
		messages = append(messages, history...)
		messages = append(messages, Message{Role: "user", Content: message})

		resp, err := c.do(ctx, completionRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", failed("parsing stream chunk", err))
				return
			}
			if chunk.Error != nil {
				yield("", &errs.AnalysisFailed{Reason: chunk.Error.Message})
				return
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", failed("reading stream", err))
		}
	}
}

func (c *Client) do(ctx context.Context, body completionRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, failed("build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, failed("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failed("calling analysis provider", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &errs.AnalysisFailed{
			Reason: fmt.Sprintf("analysis provider error (HTTP %d): %s", resp.StatusCode, providerMessage(respBody)),
		}
	}
	return resp, nil
}

func failed(reason string, err error) error {
	return &errs.AnalysisFailed{Reason: fmt.Sprintf("%s: %v", reason, err), Err: err}
}

func providerMessage(body []byte) string {
	var e struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}
