package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"careplanner/internal/model"
	"careplanner/internal/notify"
	"careplanner/internal/repository"
	"careplanner/internal/service"
)

const cbCompletePrefix = "complete:"

const (
	iconOpen          = "⏳"
	iconDone          = "✅"
	iconHigh          = "❗"
	btnDone           = "✅ Done"
	menuLabelToday    = "📋 Today"
	menuLabelProgress = "📊 Progress"
	menuLabelSummary  = "📝 Summary"
	menuLabelHelp     = "ℹ️ Help"
)

// telegramAPI is the part of *tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Deps are the services the bot drives.
type Deps struct {
	Templates *service.TemplateService
	Records   *repository.RecordRepository
	Engine    *service.MaterializationEngine
	Tracker   *service.CompletionTracker
	Summary   *service.SummaryService
}

// Bot delivers reminders to one chat and lets that chat tick tasks off.
type Bot struct {
	api    telegramAPI
	chatID int64
	deps   Deps
}

func New(token string, chatID int64, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return newBot(api, chatID, deps), nil
}

func newBot(api telegramAPI, chatID int64, deps Deps) *Bot {
	return &Bot{api: api, chatID: chatID, deps: deps}
}

var _ notify.Notifier = (*Bot)(nil)

// Notify sends a reminder with a button that completes the task for msg.Date.
func (b *Bot) Notify(_ context.Context, msg notify.Message) error {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s <b>%s</b>", msg.Content.Emoji, escape(msg.Content.Heading)))
	if msg.Priority == string(model.PriorityHigh) {
		builder.WriteString(" " + iconHigh)
	}
	builder.WriteString("\n" + escape(msg.Content.Body))
	if msg.Content.ActionHint != "" {
		builder.WriteString("\n\n<i>" + escape(msg.Content.ActionHint) + "</i>")
	}

	out := tgbotapi.NewMessage(b.chatID, builder.String())
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnDone, completeData(msg.TemplateID, msg.Date)),
		),
	)
	if _, err := b.api.Send(out); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	return nil
}

// Announce sends HTML text such as the daily summary.
func (b *Bot) Announce(_ context.Context, text string) error {
	return b.sendText(b.chatID, text)
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || update.Message.Chat.ID != b.chatID {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
		return b.sendText(msg.Chat.ID, "I did not get that. Try /today or /help.")
	}

	log.Printf("[info] command from chat %d: /%s %s", msg.Chat.ID, msg.Command(), msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		return b.handleHelp(msg.Chat.ID)
	case "today":
		return b.sendDay(ctx, msg.Chat.ID, b.deps.Engine.Today())
	case "progress":
		return b.handleProgress(ctx, msg.Chat.ID)
	case "summary":
		return b.handleSummary(ctx, msg.Chat.ID)
	default:
		return b.sendText(msg.Chat.ID, "Command not supported. See /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelToday:
		return true, b.sendDay(ctx, msg.Chat.ID, b.deps.Engine.Today())
	case menuLabelProgress:
		return true, b.handleProgress(ctx, msg.Chat.ID)
	case menuLabelSummary:
		return true, b.handleSummary(ctx, msg.Chat.ID)
	case menuLabelHelp:
		return true, b.handleHelp(msg.Chat.ID)
	default:
		return false, nil
	}
}

func (b *Bot) handleHelp(chatID int64) error {
	text := "ℹ️ <b>Care planner</b>\n" +
		"Reminders arrive here with a ✅ button to tick them off.\n\n" +
		"• /today — today's tasks, tap to complete\n" +
		"• /progress — how much of today is done\n" +
		"• /summary — the end-of-day summary\n" +
		"• /help — this message"
	return b.sendText(chatID, text)
}

func (b *Bot) handleProgress(ctx context.Context, chatID int64) error {
	date := b.deps.Engine.Today()
	if err := b.deps.Engine.EnsureRecordsForDate(ctx, date); err != nil {
		log.Printf("[warn] materialize %s: %v", date, err)
	}
	p, err := b.deps.Tracker.Progress(ctx, date)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load progress: %s", escape(err.Error())))
	}
	return b.sendText(chatID, fmt.Sprintf("📊 %s: <b>%d of %d</b> done (%d%%)", date, p.Completed, p.Total, p.Percent()))
}

func (b *Bot) handleSummary(ctx context.Context, chatID int64) error {
	text, err := b.deps.Summary.DailySummary(ctx, b.deps.Engine.Today())
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not build the summary: %s", escape(err.Error())))
	}
	return b.sendText(chatID, text)
}

// sendDay lists the day's records, open ones with a complete button.
func (b *Bot) sendDay(ctx context.Context, chatID int64, date string) error {
	if err := b.deps.Engine.EnsureRecordsForDate(ctx, date); err != nil {
		log.Printf("[warn] materialize %s: %v", date, err)
	}
	recs, err := b.deps.Records.ListByDate(ctx, date)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	tpls, err := b.deps.Templates.List(ctx, true)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	byID := make(map[uint]model.TaskTemplate, len(tpls))
	for _, tpl := range tpls {
		byID[tpl.ID] = tpl
	}

	if len(recs) == 0 {
		return b.sendText(chatID, "Nothing planned for today.")
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 <b>Tasks for %s</b>\n\n", date))

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, rec := range recs {
		tpl, ok := byID[rec.TemplateID]
		if !ok {
			continue
		}
		icon := iconOpen
		if rec.IsCompleted {
			icon = iconDone
		}
		builder.WriteString(fmt.Sprintf("%s %s <i>(%s)</i>\n", icon, escape(tpl.Title), escape(tpl.Time)))
		if !rec.IsCompleted {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %s", iconDone, shortTitle(tpl.Title, 24)), completeData(tpl.ID, date)),
			))
		}
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	} else {
		msg.ReplyMarkup = mainMenuKeyboard()
	}
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != b.chatID {
		return nil
	}

	if !strings.HasPrefix(cb.Data, cbCompletePrefix) {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		return nil
	}

	log.Printf("[info] callback complete %s", strings.TrimPrefix(cb.Data, cbCompletePrefix))
	templateID, date, err := parseCompleteData(cb.Data)
	if err != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			log.Printf("callback ack: %v", err)
		}
		return nil
	}

	ack := "Marked as done"
	completeErr := b.deps.Tracker.SetCompletion(ctx, templateID, date, true)
	if completeErr != nil {
		ack = "Could not save, try again"
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, ack)); err != nil {
		log.Printf("callback ack: %v", err)
	}
	if completeErr != nil {
		return fmt.Errorf("complete template %d on %s: %w", templateID, date, completeErr)
	}

	tpl, err := b.deps.Templates.Get(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return b.sendText(cb.Message.Chat.ID, fmt.Sprintf("%s <b>%s</b> done for %s", iconDone, escape(tpl.Title), date))
}

func completeData(templateID uint, date string) string {
	return fmt.Sprintf("%s%d:%s", cbCompletePrefix, templateID, date)
}

func parseCompleteData(data string) (uint, string, error) {
	raw := strings.TrimPrefix(data, cbCompletePrefix)
	idPart, date, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, "", fmt.Errorf("callback %q has no date", data)
	}
	value, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, "", err
	}
	if _, err := model.ParseDate(date); err != nil {
		return 0, "", err
	}
	return uint(value), date, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func shortTitle(title string, maxLen int) string {
	clean := strings.Join(strings.Fields(title), " ")
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelToday),
			tgbotapi.NewKeyboardButton(menuLabelProgress),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSummary),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func escape(s string) string {
	return html.EscapeString(s)
}
