package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/http"
)

// SlackNotifier sends notifications to Slack via webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	client     *http.Client
}

// SlackOption is a functional option for SlackNotifier
type SlackOption func(*SlackNotifier)

// WithSlackChannel sets the Slack channel
func WithSlackChannel(channel string) SlackOption {
	return func(s *SlackNotifier) {
		s.channel = channel
	}
}

// WithSlackUsername sets the Slack bot username
func WithSlackUsername(username string) SlackOption {
	return func(s *SlackNotifier) {
		s.username = username
	}
}

// WithSlackIconEmoji sets the Slack bot icon emoji
func WithSlackIconEmoji(emoji string) SlackOption {
	return func(s *SlackNotifier) {
		s.iconEmoji = emoji
	}
}

// WithSlackClient replaces the HTTP client used to post messages
func WithSlackClient(c *http.Client) SlackOption {
	return func(s *SlackNotifier) {
		s.client = c
	}
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	s := &SlackNotifier{
		webhookURL: webhookURL,
		username:   "aidb-smoke",
		iconEmoji:  ":test_tube:",
		client:     http.NewClient(http.WithTimeout(10 * time.Second)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the name of the notifier
func (s *SlackNotifier) Name() string {
	return "slack"
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notify sends a notification to Slack
func (s *SlackNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	color := "good"
	emoji := ":white_check_mark:"

	switch {
	case !summary.Passed:
		color = "danger"
		emoji = ":x:"
	case summary.IsRecovery:
		emoji = ":tada:"
	case summary.ToleratedSteps > 0:
		color = "warning"
		emoji = ":warning:"
	}

	fields := []slackField{
		{Title: "Server", Value: summary.BaseURL, Short: true},
		{Title: "Steps", Value: fmt.Sprintf("%d/%d passed", summary.PassedSteps, summary.TotalSteps), Short: true},
		{Title: "Tolerated", Value: fmt.Sprintf("%d", summary.ToleratedSteps), Short: true},
		{Title: "Duration", Value: summary.Duration.Round(time.Millisecond).String(), Short: true},
	}

	var text strings.Builder
	if summary.Error != "" {
		fmt.Fprintf(&text, "*Error:* `%s`\n", summary.Error)
	}
	if len(summary.Tolerated) > 0 {
		text.WriteString("*Tolerated failures:*\n")
		for _, t := range summary.Tolerated {
			fmt.Fprintf(&text, "• %s\n", t)
		}
	}

	attachment := slackAttachment{
		Color:  color,
		Title:  fmt.Sprintf("%s %s", emoji, headline(summary)),
		Text:   text.String(),
		Fields: fields,
		Footer: "aidb-smoke " + summary.RunID,
		TS:     time.Now().Unix(),
	}

	msg := slackMessage{
		Channel:     s.channel,
		Username:    s.username,
		IconEmoji:   s.iconEmoji,
		Attachments: []slackAttachment{attachment},
	}

	return s.send(ctx, msg)
}

func (s *SlackNotifier) send(ctx context.Context, msg slackMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	resp, err := s.client.Post(ctx, s.webhookURL, data, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("slack API returned status %d: %s", resp.StatusCode, resp.BodyPreview(512))
	}

	return nil
}
