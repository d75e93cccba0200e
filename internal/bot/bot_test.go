package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"careplanner/internal/model"
	"careplanner/internal/notify"
	"careplanner/internal/repository"
	"careplanner/internal/service"
)

const testChat int64 = 4242

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.CallbackConfig
	updates  chan tgbotapi.Update
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.requests = append(f.requests, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {}

type testEnv struct {
	api     *fakeAPI
	bot     *Bot
	deps    Deps
	records *repository.RecordRepository
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "bot.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	templates := repository.NewTemplateRepository(db, nil)
	records := repository.NewRecordRepository(db, nil, time.UTC)
	scheduler := service.NewReminderScheduler(service.NewCronAlarms(service.NewSchedulerService(time.UTC), service.CapabilityUnsupported), time.UTC)
	deps := Deps{
		Templates: service.NewTemplateService(templates, scheduler),
		Records:   records,
		Engine:    service.NewMaterializationEngine(templates, records, time.UTC),
		Tracker:   service.NewCompletionTracker(records),
		Summary:   service.NewSummaryService(templates, records),
	}
	api := newFakeAPI()
	return testEnv{api: api, bot: newBot(api, testChat, deps), deps: deps, records: records}
}

func (e testEnv) addTemplate(t *testing.T, title, clock string) *model.TaskTemplate {
	t.Helper()
	tpl, err := e.deps.Templates.Create(context.Background(), service.TemplateInput{Title: title, Time: clock})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func buttons(t *testing.T, msg tgbotapi.MessageConfig) []tgbotapi.InlineKeyboardButton {
	t.Helper()
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup is %T, want inline keyboard", msg.ReplyMarkup)
	}
	var out []tgbotapi.InlineKeyboardButton
	for _, row := range markup.InlineKeyboard {
		out = append(out, row...)
	}
	return out
}

func TestNotifySendsCompleteButton(t *testing.T) {
	env := newTestEnv(t)
	content := service.NewContentGenerator()
	msg := notify.Message{
		TemplateID: 12,
		Date:       "2024-01-15",
		Priority:   "HIGH",
		Content:    content.BuildDisplayContent("Take <Metformin>", ""),
	}
	if err := env.bot.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(env.api.sent) != 1 {
		t.Fatalf("%d messages sent, want 1", len(env.api.sent))
	}
	out := env.api.sent[0]
	if out.ChatID != testChat || out.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("message=%+v", out)
	}
	if !strings.Contains(out.Text, "Take &lt;Metformin&gt;") || !strings.Contains(out.Text, iconHigh) {
		t.Fatalf("text=%q", out.Text)
	}
	bs := buttons(t, out)
	if len(bs) != 1 || bs[0].CallbackData == nil || *bs[0].CallbackData != "complete:12:2024-01-15" {
		t.Fatalf("buttons=%+v", bs)
	}
}

func TestParseCompleteData(t *testing.T) {
	id, date, err := parseCompleteData("complete:7:2024-01-15")
	if err != nil || id != 7 || date != "2024-01-15" {
		t.Fatalf("got %d %q %v", id, date, err)
	}
	for _, bad := range []string{"complete:7", "complete:x:2024-01-15", "complete:7:15/01/2024"} {
		if _, _, err := parseCompleteData(bad); err == nil {
			t.Errorf("parseCompleteData(%q) succeeded", bad)
		}
	}
}

func TestCallbackCompletesRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.addTemplate(t, "Evening walk", "6:00 PM")

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    completeData(tpl.ID, "2024-01-15"),
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChat}},
	}
	if err := env.bot.handleCallback(ctx, cb); err != nil {
		t.Fatalf("handleCallback: %v", err)
	}
	rec, err := env.records.Get(ctx, tpl.ID, "2024-01-15")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.IsCompleted || rec.CompletedAt == nil {
		t.Fatalf("record not completed: %+v", rec)
	}
	if len(env.api.requests) != 1 || env.api.requests[0].Text != "Marked as done" {
		t.Fatalf("ack=%+v", env.api.requests)
	}
}

func TestCallbackFromOtherChatIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tpl := env.addTemplate(t, "Evening walk", "6:00 PM")

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb-2",
		Data:    completeData(tpl.ID, "2024-01-15"),
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChat + 1}},
	}
	if err := env.bot.handleCallback(ctx, cb); err != nil {
		t.Fatalf("handleCallback: %v", err)
	}
	if _, err := env.records.Get(ctx, tpl.ID, "2024-01-15"); err == nil {
		t.Fatalf("stranger completed a task")
	}
}

func TestTodayCommandViaPolling(t *testing.T) {
	env := newTestEnv(t)
	done := env.addTemplate(t, "Take Metformin", "8:00 AM")
	open := env.addTemplate(t, "Evening walk", "6:00 PM")
	today := env.deps.Engine.Today()
	if err := env.deps.Tracker.SetCompletion(context.Background(), done.ID, today, true); err != nil {
		t.Fatalf("SetCompletion: %v", err)
	}

	env.api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/today",
		Chat:     &tgbotapi.Chat{ID: testChat},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/today")}},
	}}
	close(env.api.updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := env.bot.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(env.api.sent) != 1 {
		t.Fatalf("%d messages sent, want 1", len(env.api.sent))
	}
	out := env.api.sent[0]
	if !strings.Contains(out.Text, "✅ Take Metformin") || !strings.Contains(out.Text, "⏳ Evening walk") {
		t.Fatalf("text=%q", out.Text)
	}
	bs := buttons(t, out)
	if len(bs) != 1 || *bs[0].CallbackData != completeData(open.ID, today) {
		t.Fatalf("buttons=%+v", bs)
	}
}

func TestShortTitle(t *testing.T) {
	if got := shortTitle("  Take\nMetformin  ", 24); got != "Take Metformin" {
		t.Fatalf("shortTitle=%q", got)
	}
	if got := shortTitle("Check blood pressure twice", 10); got != "Check blo…" {
		t.Fatalf("shortTitle=%q", got)
	}
}
