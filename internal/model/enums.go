package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the 12-hour clock format of TaskTemplate.Time.
const TimeLayout = "3:04 PM"

type TimeBlock string

const (
	Morning   TimeBlock = "MORNING"
	Afternoon TimeBlock = "AFTERNOON"
	Evening   TimeBlock = "EVENING"
	Night     TimeBlock = "NIGHT"
)

type Category string

const (
	CategoryMedication Category = "MEDICATION"
	CategoryExercise   Category = "EXERCISE"
	CategoryDiet       Category = "DIET"
	CategoryMonitoring Category = "MONITORING"
	CategoryLifestyle  Category = "LIFESTYLE"
	CategoryGeneral    Category = "GENERAL"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// SyncState tracks an entity against its remote mirror.
type SyncState string

const (
	SyncLocalOnly SyncState = "local_only"
	SyncSynced    SyncState = "synced"
	SyncStale     SyncState = "stale"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryMedication, CategoryExercise, CategoryDiet, CategoryMonitoring, CategoryLifestyle, CategoryGeneral:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func (b TimeBlock) Valid() bool {
	switch b {
	case Morning, Afternoon, Evening, Night:
		return true
	}
	return false
}

// ParseCategory accepts any casing; empty input maps to GENERAL.
func ParseCategory(raw string) (Category, error) {
	if strings.TrimSpace(raw) == "" {
		return CategoryGeneral, nil
	}
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", raw)
	}
	return c, nil
}

// ParsePriority accepts any casing; empty input maps to MEDIUM.
func ParsePriority(raw string) (Priority, error) {
	if strings.TrimSpace(raw) == "" {
		return PriorityMedium, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", raw)
	}
	return p, nil
}

// ParseClock parses a "h:mm AM" string into hour (0-23) and minute.
func ParseClock(raw string) (hour, minute int, err error) {
	t, err := time.Parse(TimeLayout, strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected h:mm AM/PM", raw)
	}
	return t.Hour(), t.Minute(), nil
}

// DeriveTimeBlock groups a 12-hour time into its part of the day.
// Unparseable times fall into MORNING.
func DeriveTimeBlock(clock string) TimeBlock {
	hour, _, err := ParseClock(clock)
	if err != nil {
		return Morning
	}
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	case hour >= 17 && hour < 21:
		return Evening
	default:
		return Night
	}
}
