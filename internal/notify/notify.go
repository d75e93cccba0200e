package notify

import (
	"context"
	"log"
	"strings"

	"careplanner/internal/service"
)

// Message is a rendered reminder for one template on one day.
type Message struct {
	TemplateID uint
	Date       string
	Priority   string
	Kind       service.ReminderKind
	Content    service.DisplayContent
	Spoken     string
}

// Notifier delivers reminders and free-form announcements such as the daily summary.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Announce(ctx context.Context, text string) error
}

// LogNotifier writes deliveries to the process log. It is used when no chat is configured.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Printf("[info] reminder %s %s template=%d date=%s priority=%s: %s | %q",
		msg.Content.Emoji, msg.Content.Heading, msg.TemplateID, msg.Date, msg.Priority,
		strings.ReplaceAll(msg.Content.Body, "\n", " / "), msg.Spoken)
	return nil
}

func (n *LogNotifier) Announce(_ context.Context, text string) error {
	n.logger.Printf("[info] announcement:\n%s", text)
	return nil
}
