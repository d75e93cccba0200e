package service

import (
	"fmt"
	"strings"
)

// ReminderKind is the care bucket a reminder title falls into.
type ReminderKind string

const (
	KindMedication  ReminderKind = "medication"
	KindExercise    ReminderKind = "exercise"
	KindNutrition   ReminderKind = "nutrition"
	KindMonitoring  ReminderKind = "monitoring"
	KindSleep       ReminderKind = "sleep"
	KindAppointment ReminderKind = "appointment"
	KindGeneral     ReminderKind = "general"
)

// kindKeywords is checked top to bottom; the first bucket with a match wins.
var kindKeywords = []struct {
	kind     ReminderKind
	keywords []string
}{
	{KindMedication, []string{"take", "medicine", "pill", "tablet", "medication"}},
	{KindExercise, []string{"exercise", "workout", "walk", "run", "gym"}},
	{KindNutrition, []string{"eat", "meal", "food", "drink", "water", "breakfast", "lunch", "dinner"}},
	{KindMonitoring, []string{"check", "monitor", "measure", "pressure", "sugar", "glucose"}},
	{KindSleep, []string{"sleep", "rest", "bed", "meditation", "relax", "breathe"}},
	{KindAppointment, []string{"doctor", "appointment", "visit"}},
}

// DisplayContent is what a notification shows.
type DisplayContent struct {
	Emoji       string `json:"emoji"`
	Heading     string `json:"heading"`
	Body        string `json:"body"`
	ActionHint  string `json:"actionHint"`
	AccentColor string `json:"accentColor"`
}

type kindStyle struct {
	emoji, heading, actionHint, color string
}

var kindStyles = map[ReminderKind]kindStyle{
	KindMedication:  {"💊", "Medication Reminder", "Tap to mark as taken", "#E53935"},
	KindExercise:    {"🏃", "Time to Move", "Tap when you're done", "#43A047"},
	KindNutrition:   {"🥗", "Meal Time", "Tap once you've eaten", "#FB8C00"},
	KindMonitoring:  {"📊", "Health Check", "Tap to log your reading", "#1E88E5"},
	KindSleep:       {"😴", "Rest & Relax", "Tap when you're winding down", "#8E24AA"},
	KindAppointment: {"🩺", "Appointment", "Tap to confirm", "#00897B"},
	KindGeneral:     {"🔔", "Reminder", "Tap to mark as done", "#546E7A"},
}

// ContentGenerator turns a reminder title into notification and speech text.
// It is stateless and deterministic.
type ContentGenerator struct{}

func NewContentGenerator() *ContentGenerator {
	return &ContentGenerator{}
}

// Classify returns the first bucket whose keyword occurs in title, ignoring case.
func (g *ContentGenerator) Classify(title string) ReminderKind {
	lower := strings.ToLower(title)
	for _, bucket := range kindKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.kind
			}
		}
	}
	return KindGeneral
}

func (g *ContentGenerator) BuildDisplayContent(title, description string) DisplayContent {
	style := kindStyles[g.Classify(title)]
	body := strings.TrimSpace(title)
	if d := strings.TrimSpace(description); d != "" {
		body += "\n" + d
	}
	return DisplayContent{
		Emoji:       style.emoji,
		Heading:     style.heading,
		Body:        body,
		ActionHint:  style.actionHint,
		AccentColor: style.color,
	}
}

// BuildSpokenMessage returns a short friendly phrase suitable for text-to-speech.
func (g *ContentGenerator) BuildSpokenMessage(title string) string {
	title = strings.TrimSpace(title)
	switch g.Classify(title) {
	case KindMedication:
		return fmt.Sprintf("Hello! It's time to take your %s medicine. Please don't skip it.", medicineName(title))
	case KindExercise:
		return fmt.Sprintf("It's time for your %s. A little movement goes a long way!", activityName(title))
	case KindNutrition:
		return fmt.Sprintf("It's time for your %s. Enjoy it and eat well!", mealName(title))
	case KindMonitoring:
		return fmt.Sprintf("Please take a moment to check your %s now.", metricName(title))
	case KindSleep:
		return fmt.Sprintf("It's time to slow down and rest. %s.", title)
	case KindAppointment:
		return fmt.Sprintf("Friendly reminder: %s. Please get ready in time.", title)
	default:
		return fmt.Sprintf("Hello! This is your reminder to %s.", strings.ToLower(title))
	}
}

var (
	medicineNoise = map[string]bool{
		"take": true, "medicine": true, "medicines": true, "medication": true, "medications": true,
		"pill": true, "pills": true, "tablet": true, "tablets": true, "your": true, "my": true, "the": true,
	}
	phraseBreaks = map[string]bool{
		"before": true, "after": true, "with": true, "at": true, "in": true, "on": true,
		"for": true, "during": true, "and": true,
	}
)

// medicineName strips the verbs and nouns around a medicine name:
// "Take Metformin before breakfast" -> "Metformin".
func medicineName(title string) string {
	var kept []string
	for _, word := range strings.Fields(title) {
		w := strings.ToLower(strings.Trim(word, ".,!?:;"))
		if phraseBreaks[w] {
			break
		}
		if medicineNoise[w] || w == "" {
			continue
		}
		kept = append(kept, strings.Trim(word, ".,!?:;"))
	}
	if len(kept) == 0 {
		return "prescribed"
	}
	return strings.Join(kept, " ")
}

var activities = []struct{ keyword, name string }{
	{"walk", "walk"},
	{"run", "run"},
	{"jog", "jog"},
	{"yoga", "yoga session"},
	{"swim", "swim"},
	{"stretch", "stretching"},
	{"cycl", "bike ride"},
	{"gym", "gym session"},
	{"workout", "workout"},
}

func activityName(title string) string {
	lower := strings.ToLower(title)
	for _, a := range activities {
		if strings.Contains(lower, a.keyword) {
			return a.name
		}
	}
	return "exercise session"
}

var meals = []string{"breakfast", "lunch", "dinner", "snack"}

func mealName(title string) string {
	lower := strings.ToLower(title)
	for _, m := range meals {
		if strings.Contains(lower, m) {
			return m
		}
	}
	if strings.Contains(lower, "water") {
		return "glass of water"
	}
	return "meal"
}

var metrics = []struct{ keyword, name string }{
	{"pressure", "blood pressure"},
	{"sugar", "blood sugar"},
	{"glucose", "blood sugar"},
	{"weight", "weight"},
	{"pulse", "heart rate"},
	{"heart", "heart rate"},
	{"temperature", "temperature"},
	{"oxygen", "oxygen level"},
}

func metricName(title string) string {
	lower := strings.ToLower(title)
	for _, m := range metrics {
		if strings.Contains(lower, m.keyword) {
			return m.name
		}
	}
	return "health parameters"
}
