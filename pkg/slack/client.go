package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

const (
	MeetingHeader = "📊 Meeting Insights"
	TasksHeader   = "📋 Action Items"
	TasksText     = "New tasks from meeting"
)

var ErrNotConfigured = errors.New("slack is not configured")

type Config struct {
	Token  string
	APIURL string
}

type Client struct {
	api        *slack.Client
	configured bool
}

func New(cfg Config) *Client {
	var opts []slack.Option
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Client{
		api:        slack.New(cfg.Token, opts...),
		configured: cfg.Token != "",
	}
}

func (c *Client) Configured() bool {
	return c.configured
}

// ShareMeeting posts meeting insights and returns the message timestamp.
func (c *Client) ShareMeeting(ctx context.Context, channel, meetingID, message string) (string, error) {
	return c.post(ctx, channel, message, blocks(MeetingHeader, meetingID, message))
}

func (c *Client) ShareTasks(ctx context.Context, channel, meetingID, message string) (string, error) {
	return c.post(ctx, channel, TasksText, blocks(TasksHeader, meetingID, message))
}

func (c *Client) post(ctx context.Context, channel, text string, b []slack.Block) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	if channel == "" {
		return "", errors.New("slack channel is required")
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(b...),
	)
	if err != nil {
		return "", fmt.Errorf("posting to slack: %w", err)
	}
	return ts, nil
}

func blocks(header, meetingID, message string) []slack.Block {
	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false)),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, message, false, false), nil, nil),
		slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, "Shared from IRIS • Meeting ID: "+meetingID, false, false)),
	}
}
