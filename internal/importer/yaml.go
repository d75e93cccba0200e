package importer

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"careplanner/internal/model"
	"careplanner/internal/service"
)

// YAMLTemplate represents a single recurring task in the care plan.
type YAMLTemplate struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Time        string `yaml:"time"`
	TimeBlock   string `yaml:"time_block,omitempty"`
	Category    string `yaml:"category,omitempty"`
	Priority    string `yaml:"priority,omitempty"`
	Active      *bool  `yaml:"active,omitempty"`
}

// YAMLInput represents the root structure of a care plan file.
type YAMLInput struct {
	Templates []YAMLTemplate `yaml:"templates"`
}

type templateCreator interface {
	Create(ctx context.Context, input service.TemplateInput) (*model.TaskTemplate, error)
	SetActive(ctx context.Context, id uint, active bool) (*model.TaskTemplate, error)
	List(ctx context.Context, includeInactive bool) ([]model.TaskTemplate, error)
}

// Import parses a YAML care plan and creates its templates. Entries whose title
// and time match an existing template are skipped, so re-importing a plan is safe.
// Returns the number of templates created.
func Import(ctx context.Context, s templateCreator, data []byte) (int, error) {
	var input YAMLInput
	if err := yaml.Unmarshal(data, &input); err != nil {
		return 0, fmt.Errorf("YAML parse error: %w", err)
	}

	if len(input.Templates) == 0 {
		return 0, fmt.Errorf("no templates found in YAML")
	}

	existing, err := s.List(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, tpl := range existing {
		seen[dedupKey(tpl.Title, tpl.Time)] = true
	}

	count := 0
	for _, yt := range input.Templates {
		created, err := importTemplate(ctx, s, yt, seen)
		if err != nil {
			return count, err
		}
		if created {
			count++
		}
	}
	return count, nil
}

func importTemplate(ctx context.Context, s templateCreator, yt YAMLTemplate, seen map[string]bool) (bool, error) {
	if strings.TrimSpace(yt.Title) == "" {
		return false, fmt.Errorf("template title is required")
	}
	key := dedupKey(yt.Title, yt.Time)
	if seen[key] {
		return false, nil
	}

	tpl, err := s.Create(ctx, service.TemplateInput{
		Title:       yt.Title,
		Description: yt.Description,
		Time:        yt.Time,
		TimeBlock:   yt.TimeBlock,
		Category:    yt.Category,
		Priority:    yt.Priority,
	})
	if err != nil {
		return false, fmt.Errorf("add template %q: %w", yt.Title, err)
	}
	seen[key] = true

	if yt.Active != nil && !*yt.Active {
		if _, err := s.SetActive(ctx, tpl.ID, false); err != nil {
			return true, fmt.Errorf("deactivate %q: %w", yt.Title, err)
		}
	}
	return true, nil
}

// dedupKey compares titles case-insensitively and times by their minute of day.
func dedupKey(title, clock string) string {
	key := strings.ToLower(strings.TrimSpace(title)) + "|"
	hour, minute, err := model.ParseClock(clock)
	if err != nil {
		return key + strings.TrimSpace(clock)
	}
	return fmt.Sprintf("%s%02d:%02d", key, hour, minute)
}
