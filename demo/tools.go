package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zero-day-ai/gauntlet/tool"
)

// Tool names.
const (
	SearchEmails        = "search_emails"
	GetCalendar         = "get_calendar"
	ReadPage            = "read_notion_page"
	SearchInternet      = "search_internet"
	SendEmail           = "send_email"
	CreateCalendarEvent = "create_calendar_event"
	UpdatePage          = "update_notion_page"
)

// Tools returns the demo toolset over d, in registration order.
func Tools(d *Data) []tool.Entry {
	return []tool.Entry{
		{
			Tool: tool.Tool{
				Name:        SearchEmails,
				Kind:        tool.KindQuery,
				Description: "Search emails in the given folder (inbox or sent). Returns a list of emails.",
				Source:      "returns the JSON list of emails stored under args.folder (default inbox); unknown folders give []",
			},
			Func: d.locked(d.searchEmails),
		},
		{
			Tool: tool.Tool{
				Name:        GetCalendar,
				Kind:        tool.KindQuery,
				Description: "Get calendar events, optionally filtered by date (YYYY-MM-DD). Returns a list of events.",
				Source:      "returns the JSON list of calendar events, filtered on exact date match when args.date is set",
			},
			Func: d.locked(d.getCalendar),
		},
		{
			Tool: tool.Tool{
				Name:        ReadPage,
				Kind:        tool.KindQuery,
				Description: "Read a Notion page by its slug (e.g. 'meeting-notes', 'todo-list', 'project-plan', 'api-keys').",
				Source:      "returns the page stored under args.page_slug as JSON, or {\"error\": \"Page '<slug>' not found\"}",
			},
			Func: d.locked(d.readPage),
		},
		{
			Tool: tool.Tool{
				Name:        SearchInternet,
				Kind:        tool.KindQuery,
				Description: "Search the internet for information. Returns a list of search results.",
				Source:      "returns a fixed JSON list of search results regardless of args.query",
			},
			Func: d.locked(d.searchInternet),
		},
		{
			Tool: tool.Tool{
				Name:        SendEmail,
				Kind:        tool.KindMutation,
				Description: "Send an email to the specified recipient.",
				Source:      "appends {to, subject, body} to the sent folder and returns it with status \"sent\"",
			},
			Func: d.locked(d.sendEmail),
		},
		{
			Tool: tool.Tool{
				Name:        CreateCalendarEvent,
				Kind:        tool.KindMutation,
				Description: "Create a new calendar event. Date format: YYYY-MM-DD, time format: HH:MM.",
				Source:      "appends the event (duration defaults to 60) and returns it with status \"created\"",
			},
			Func: d.locked(d.createCalendarEvent),
		},
		{
			Tool: tool.Tool{
				Name:        UpdatePage,
				Kind:        tool.KindMutation,
				Description: "Update a Notion page's content by its slug.",
				Source:      "replaces the content of args.page_slug; unknown slugs give {\"error\": \"Page '<slug>' not found\"}",
			},
			Func: d.locked(d.updatePage),
		},
	}
}

// Register adds the demo toolset to r.
func Register(r *tool.Registry, d *Data) {
	for _, e := range Tools(d) {
		r.Register(e.Tool, e.Func)
	}
}

func (d *Data) locked(fn tool.Func) tool.Func {
	return func(ctx context.Context, args tool.Args) (string, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return fn(ctx, args)
	}
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func notFound(slug string) (string, error) {
	return marshal(map[string]string{"error": fmt.Sprintf("Page '%s' not found", slug)})
}

func (d *Data) searchEmails(_ context.Context, args tool.Args) (string, error) {
	folder := args.String("folder")
	if folder == "" {
		folder = "inbox"
	}
	emails := d.Emails[folder]
	if emails == nil {
		emails = []Email{}
	}
	return marshal(emails)
}

func (d *Data) getCalendar(_ context.Context, args tool.Args) (string, error) {
	date := args.String("date")
	if date == "" {
		return marshal(d.Calendar)
	}
	events := []CalendarEvent{}
	for _, e := range d.Calendar {
		if e.Date == date {
			events = append(events, e)
		}
	}
	return marshal(events)
}

func (d *Data) readPage(_ context.Context, args tool.Args) (string, error) {
	slug := args.String("page_slug")
	page, ok := d.Pages[slug]
	if !ok {
		return notFound(slug)
	}
	return marshal(page)
}

func (d *Data) searchInternet(context.Context, tool.Args) (string, error) {
	return marshal(d.Search)
}

func (d *Data) sendEmail(_ context.Context, args tool.Args) (string, error) {
	sent := Email{
		ID:      fmt.Sprintf("s%d", len(d.Emails["sent"])+1),
		To:      args.String("to"),
		Subject: args.String("subject"),
		Body:    args.String("body"),
	}
	d.Emails["sent"] = append(d.Emails["sent"], sent)
	return marshal(map[string]string{
		"to":      sent.To,
		"subject": sent.Subject,
		"body":    sent.Body,
		"status":  "sent",
	})
}

func (d *Data) createCalendarEvent(_ context.Context, args tool.Args) (string, error) {
	duration := 60
	if raw := args.String("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		duration = n
	}
	e := CalendarEvent{
		ID:       fmt.Sprintf("c%d", len(d.Calendar)+1),
		Title:    args.String("title"),
		Date:     args.String("date"),
		Time:     args.String("time"),
		Duration: duration,
		Location: args.String("location"),
	}
	d.Calendar = append(d.Calendar, e)
	return marshal(map[string]any{
		"title":    e.Title,
		"date":     e.Date,
		"time":     e.Time,
		"duration": e.Duration,
		"location": e.Location,
		"status":   "created",
	})
}

func (d *Data) updatePage(_ context.Context, args tool.Args) (string, error) {
	slug := args.String("page_slug")
	page, ok := d.Pages[slug]
	if !ok {
		return notFound(slug)
	}
	page.Content = args.String("new_content")
	d.Pages[slug] = page
	return marshal(map[string]string{"page": slug, "status": "updated"})
}
