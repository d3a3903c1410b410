package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sink surfaces a notification to the user.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TerminalSink prints notifications as colored lines.
type TerminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalSink writes to w, or to color.Output when w is nil.
func NewTerminalSink(w io.Writer) *TerminalSink {
	if w == nil {
		w = color.Output
	}
	return &TerminalSink{w: w}
}

func (t *TerminalSink) Notify(_ context.Context, n Notification) error {
	title := color.New(color.FgCyan, color.Bold)
	if n.Style.Kind == KindGroup {
		title = color.New(color.FgMagenta, color.Bold)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s %s %s %s\n",
		n.Style.Icon,
		title.Sprint(n.Title),
		n.Body,
		color.HiBlackString("(%s, %s)", n.Style.Kind, n.Style.Duration))
	return err
}

// EmailSink mails notifications through SendGrid.
type EmailSink struct {
	From       string
	To         string
	DirectOnly bool

	send func(ctx context.Context, m *mail.SGMailV3) (int, string, error)
}

func NewEmailSink(apiKey, from, to string) *EmailSink {
	client := sendgrid.NewSendClient(apiKey)
	return &EmailSink{
		From: from,
		To:   to,
		send: func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
			resp, err := client.SendWithContext(ctx, m)
			if err != nil {
				return 0, "", err
			}
			return resp.StatusCode, resp.Body, nil
		},
	}
}

func (e *EmailSink) Notify(ctx context.Context, n Notification) error {
	if e.DirectOnly && n.Style.Kind != KindDirect {
		return nil
	}
	code, body, err := e.send(ctx, e.message(n))
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if code >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", code, body)
	}
	return nil
}

func (e *EmailSink) message(n Notification) *mail.SGMailV3 {
	from := mail.NewEmail("convsync", e.From)
	to := mail.NewEmail("", e.To)
	subject := "New message from " + n.Title
	plain := n.Title + ": " + n.Body
	rich := "<p><strong>" + html.EscapeString(n.Title) + "</strong></p><p>" + html.EscapeString(n.Body) + "</p>"
	return mail.NewSingleEmail(from, subject, to, plain, rich)
}
