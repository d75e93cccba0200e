package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"careplanner/internal/model"
	"careplanner/internal/repository"
)

// SummaryService builds the end-of-day progress message.
type SummaryService struct {
	templates *repository.TemplateRepository
	records   *repository.RecordRepository
}

func NewSummaryService(templates *repository.TemplateRepository, records *repository.RecordRepository) *SummaryService {
	return &SummaryService{templates: templates, records: records}
}

// DailySummary renders the day's records as HTML-safe text, open tasks first.
func (s *SummaryService) DailySummary(ctx context.Context, date string) (string, error) {
	tpls, err := s.templates.ListAll(ctx)
	if err != nil {
		return "", err
	}
	recs, err := s.records.ListByDate(ctx, date)
	if err != nil {
		return "", err
	}

	byID := make(map[uint]model.TaskTemplate, len(tpls))
	for _, tpl := range tpls {
		byID[tpl.ID] = tpl
	}

	var open, done []model.DailyTaskRecord
	for _, rec := range recs {
		if _, ok := byID[rec.TemplateID]; !ok {
			continue
		}
		if rec.IsCompleted {
			done = append(done, rec)
		} else {
			open = append(open, rec)
		}
	}
	byClock := func(list []model.DailyTaskRecord) {
		sort.SliceStable(list, func(i, j int) bool {
			hi, mi, _ := model.ParseClock(byID[list[i].TemplateID].Time)
			hj, mj, _ := model.ParseClock(byID[list[j].TemplateID].Time)
			return hi*60+mi < hj*60+mj
		})
	}
	byClock(open)
	byClock(done)

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily care summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s · %d of %d done\n\n", date, len(done), len(open)+len(done)))

	builder.WriteString("⏳ <b>Still open</b>\n")
	if len(open) == 0 {
		builder.WriteString("— nothing left, well done!\n")
	}
	for _, rec := range open {
		builder.WriteString(formatRecordLine("⏳", byID[rec.TemplateID]))
	}

	builder.WriteString("\n✅ <b>Completed</b>\n")
	if len(done) == 0 {
		builder.WriteString("— nothing completed yet\n")
	}
	for _, rec := range done {
		builder.WriteString(formatRecordLine("✅", byID[rec.TemplateID]))
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatRecordLine(icon string, tpl model.TaskTemplate) string {
	line := fmt.Sprintf("%s %s <i>(%s)</i>", icon, html.EscapeString(strings.TrimSpace(tpl.Title)), html.EscapeString(tpl.Time))
	if tpl.Priority == model.PriorityHigh {
		line += " ❗"
	}
	return line + "\n"
}
