package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL = "https://api.trello.com/1"

	BoardName = "IRIS Meeting Tasks"
	BoardDesc = "Tasks and action items from IRIS meetings"
)

var ErrNotConfigured = errors.New("trello is not configured")

type Config struct {
	APIKey     string
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type List struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IDBoard string `json:"idBoard"`
}

type Card struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	IDList string `json:"idList"`
	URL    string `json:"url"`
}

// Task is the subset of a task a card is built from.
type Task struct {
	Title       string
	Description string
	Assignee    string
	DueDate     string
	Priority    string
}

type Client struct {
	key     string
	token   string
	baseURL string
	http    *http.Client
}

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		key:     cfg.APIKey,
		token:   cfg.Token,
		baseURL: baseURL,
		http:    httpClient,
	}
}

func (c *Client) Configured() bool {
	return c.key != "" && c.token != ""
}

func (c *Client) CreateBoard(ctx context.Context) (*Board, error) {
	var board Board
	err := c.post(ctx, "/boards", map[string]any{
		"name":         BoardName,
		"desc":         BoardDesc,
		"defaultLists": true,
	}, &board)
	if err != nil {
		return nil, err
	}
	return &board, nil
}

func (c *Client) CreateList(ctx context.Context, boardID, meetingTitle string) (*List, error) {
	var list List
	err := c.post(ctx, "/lists", map[string]any{
		"name":    "Meeting: " + meetingTitle,
		"idBoard": boardID,
		"pos":     "top",
	}, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CreateCard(ctx context.Context, listID, name, desc, due string) (*Card, error) {
	body := map[string]any{
		"name":   name,
		"desc":   desc,
		"idList": listID,
		"pos":    "bottom",
	}
	if due != "" {
		body["due"] = due
	}
	var card Card
	if err := c.post(ctx, "/cards", body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// SyncTasks creates one card per task, concurrently. Cards come back in task order.
func (c *Client) SyncTasks(ctx context.Context, listID string, tasks []Task) ([]*Card, error) {
	cards := make([]*Card, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, task := range tasks {
		g.Go(func() error {
			card, err := c.CreateCard(ctx, listID, task.Title, CardDescription(task), "")
			if err != nil {
				return err
			}
			cards[i] = card
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cards, nil
}

func CardDescription(t Task) string {
	return fmt.Sprintf("Assignee: %s\nDue Date: %s\nPriority: %s\n\n%s", t.Assignee, t.DueDate, t.Priority, t.Description)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("key", c.key)
	query.Set("token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint+"?"+query.Encode(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling trello: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading trello response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trello API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing trello response: %w", err)
	}
	return nil
}
