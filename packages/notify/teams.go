package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/http"
)

// TeamsNotifier sends notifications to Microsoft Teams via webhook
type TeamsNotifier struct {
	webhookURL string
	client     *http.Client
}

// TeamsOption is a functional option for TeamsNotifier
type TeamsOption func(*TeamsNotifier)

// WithTeamsClient replaces the HTTP client used to post cards
func WithTeamsClient(c *http.Client) TeamsOption {
	return func(t *TeamsNotifier) {
		t.client = c
	}
}

// NewTeamsNotifier creates a new Teams notifier
func NewTeamsNotifier(webhookURL string, opts ...TeamsOption) *TeamsNotifier {
	t := &TeamsNotifier{
		webhookURL: webhookURL,
		client:     http.NewClient(http.WithTimeout(10 * time.Second)),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Name returns the name of the notifier
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// teamsMessage is an Adaptive Card message
type teamsMessage struct {
	Type        string      `json:"type"`
	Attachments []teamsCard `json:"attachments"`
}

type teamsCard struct {
	ContentType string           `json:"contentType"`
	ContentURL  *string          `json:"contentUrl"`
	Content     teamsCardContent `json:"content"`
}

type teamsCardContent struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []teamsBlock `json:"body"`
}

type teamsBlock struct {
	Type      string        `json:"type"`
	Size      string        `json:"size,omitempty"`
	Weight    string        `json:"weight,omitempty"`
	Text      string        `json:"text,omitempty"`
	Color     string        `json:"color,omitempty"`
	Wrap      bool          `json:"wrap,omitempty"`
	Columns   []teamsColumn `json:"columns,omitempty"`
	Items     []teamsBlock  `json:"items,omitempty"`
	Spacing   string        `json:"spacing,omitempty"`
	Separator bool          `json:"separator,omitempty"`
}

type teamsColumn struct {
	Type  string       `json:"type"`
	Width string       `json:"width"`
	Items []teamsBlock `json:"items"`
}

func teamsFact(title, value, color string) teamsColumn {
	return teamsColumn{
		Type:  "Column",
		Width: "stretch",
		Items: []teamsBlock{
			{Type: "TextBlock", Text: "**" + title + "**", Wrap: true},
			{Type: "TextBlock", Text: value, Color: color, Wrap: true},
		},
	}
}

// Notify sends a notification to Microsoft Teams
func (t *TeamsNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	color := "good"
	if !summary.Passed {
		color = "attention"
	} else if summary.ToleratedSteps > 0 && !summary.IsRecovery {
		color = "warning"
	}

	body := []teamsBlock{
		{
			Type:   "TextBlock",
			Size:   "Large",
			Weight: "Bolder",
			Text:   headline(summary),
			Color:  color,
		},
		{
			Type: "TextBlock",
			Text: fmt.Sprintf("**Server:** %s", summary.BaseURL),
			Wrap: true,
		},
		{
			Type:      "ColumnSet",
			Separator: true,
			Spacing:   "Medium",
			Columns: []teamsColumn{
				teamsFact("Steps", fmt.Sprintf("%d", summary.TotalSteps), ""),
				teamsFact("Passed", fmt.Sprintf("%d", summary.PassedSteps), "good"),
				teamsFact("Tolerated", fmt.Sprintf("%d", summary.ToleratedSteps), "warning"),
				teamsFact("Failed", fmt.Sprintf("%d", summary.FailedSteps), "attention"),
				teamsFact("Duration", summary.Duration.Round(time.Millisecond).String(), ""),
			},
		},
	}

	if summary.Error != "" {
		body = append(body, teamsBlock{
			Type:      "TextBlock",
			Text:      fmt.Sprintf("**Error:** `%s`", summary.Error),
			Separator: true,
			Spacing:   "Medium",
			Wrap:      true,
		})
	}
	for _, tol := range summary.Tolerated {
		body = append(body, teamsBlock{
			Type: "TextBlock",
			Text: "- " + tol,
			Wrap: true,
		})
	}

	body = append(body, teamsBlock{
		Type:      "TextBlock",
		Text:      fmt.Sprintf("_aidb-smoke %s - %s_", summary.RunID, time.Now().Format(time.RFC3339)),
		Separator: true,
		Spacing:   "Medium",
	})

	msg := teamsMessage{
		Type: "message",
		Attachments: []teamsCard{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				ContentURL:  nil,
				Content: teamsCardContent{
					Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
					Type:    "AdaptiveCard",
					Version: "1.2",
					Body:    body,
				},
			},
		},
	}

	return t.send(ctx, msg)
}

func (t *TeamsNotifier) send(ctx context.Context, msg teamsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Teams message: %w", err)
	}

	resp, err := t.client.Post(ctx, t.webhookURL, data, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return fmt.Errorf("failed to send Teams notification: %w", err)
	}

	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		return fmt.Errorf("teams API returned status %d: %s", resp.StatusCode, resp.BodyPreview(512))
	}

	return nil
}
