// Package render shows fired notifications to the user.
package render

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/goccy/go-json"
	"github.com/resend/resend-go/v2"
)

// Content is the conventional payload shape. Payloads that are not JSON
// objects are shown verbatim as the body.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func ParseContent(payload []byte) Content {
	var c Content
	if err := json.Unmarshal(payload, &c); err == nil && (c.Title != "" || c.Body != "") {
		return c
	}
	return Content{Body: string(payload)}
}

func (c Content) subject(id int64) string {
	if c.Title != "" {
		return c.Title
	}
	return fmt.Sprintf("Reminder #%d", id)
}

// LogRenderer writes notifications to the log. Used in ENV=local.
type LogRenderer struct {
	logger *slog.Logger
}

func NewLogRenderer(logger *slog.Logger) *LogRenderer {
	return &LogRenderer{logger: logger.With("component", "log_renderer")}
}

func (r *LogRenderer) Render(ctx context.Context, n domain.Notification) (string, error) {
	c := ParseContent(n.Payload)
	r.logger.InfoContext(ctx, "notification",
		"schedule_id", n.ID,
		"title", c.subject(n.ID),
		"body", c.Body,
		"kind", n.Kind,
		"fire_count", n.FireCount,
	)
	return fmt.Sprintf("log:%d:%d", n.ID, n.FireCount), nil
}

// EmailRenderer delivers each notification as an email through Resend.
type EmailRenderer struct {
	client *resend.Client
	from   string
	to     []string
}

func NewEmailRenderer(client *resend.Client, from string, to []string) *EmailRenderer {
	return &EmailRenderer{client: client, from: from, to: to}
}

func (r *EmailRenderer) Render(ctx context.Context, n domain.Notification) (string, error) {
	c := ParseContent(n.Payload)
	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      r.to,
		Subject: c.subject(n.ID),
		Html:    "<p>" + strings.ReplaceAll(html.EscapeString(c.Body), "\n", "<br>") + "</p>",
		Text:    c.Body,
		Tags: []resend.Tag{
			{Name: "schedule_id", Value: fmt.Sprint(n.ID)},
			{Name: "kind", Value: string(n.Kind)},
		},
	}
	resp, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("send notification email: %w", err)
	}
	return "resend:" + resp.Id, nil
}

// Renderer matches scheduler.Renderer.
type Renderer interface {
	Render(ctx context.Context, n domain.Notification) (string, error)
}

// New returns a LogRenderer for kind "log" and an EmailRenderer for "email".
func New(kind, apiKey, from string, to []string, logger *slog.Logger) (Renderer, error) {
	switch kind {
	case "log":
		return NewLogRenderer(logger), nil
	case "email":
		return NewEmailRenderer(resend.NewClient(apiKey), from, to), nil
	}
	return nil, fmt.Errorf("unknown renderer %q", kind)
}
