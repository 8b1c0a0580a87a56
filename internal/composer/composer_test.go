package composer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// stubGenerator returns a fixed generation or error, optionally after a delay.
type stubGenerator struct {
	out   string
	err   error
	delay time.Duration
}

func (s *stubGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.out, s.err
}

func nudgeRule() models.ProactiveRule {
	return models.ProactiveRule{
		ID:              "low_steps_nudge",
		Name:            "Gentle walk nudge",
		Type:            models.CheckInTypeActivityNudge,
		Priority:        models.PriorityLow,
		Enabled:         true,
		Title:           "Time for a stroll?",
		MessageTemplate: "Only {steps.count} steps so far this {time_of_day}.",
		Suggestion:      "A short walk around the block counts.",
		Conditions: []models.RuleCondition{
			{SignalType: models.SignalTypeSteps, Field: "count", Operator: models.OperatorLT, Value: 2000},
		},
	}
}

func stepsSnapshot(count float64) map[models.SignalType]models.Signal {
	return map[models.SignalType]models.Signal{
		models.SignalTypeSteps: {
			Type:      models.SignalTypeSteps,
			Timestamp: time.Now(),
			Value:     map[string]any{"count": count},
		},
	}
}

func TestRender(t *testing.T) {
	morning := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	snapshot := map[models.SignalType]models.Signal{
		models.SignalTypeSteps: {
			Type:  models.SignalTypeSteps,
			Value: map[string]any{"count": 850.0, "goalPct": 42.5},
		},
		models.SignalTypeWeather: {
			Type:  models.SignalTypeWeather,
			Value: map[string]any{"condition": "sunny"},
		},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"integral number drops fraction", "You walked {steps.count} steps.", "You walked 850 steps."},
		{"fractional number keeps one decimal", "{steps.goalPct}% of your goal.", "42.5% of your goal."},
		{"string value", "It is {weather.condition} outside.", "It is sunny outside."},
		{"time of day", "Good {time_of_day}!", "Good morning!"},
		{"unknown signal renders empty", "Pressure is {vitals.bp}.", "Pressure is ."},
		{"unknown field renders empty", "Mood: {steps.mood}.", "Mood: ."},
		{"no placeholders", "Just checking in.", "Just checking in."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.template, snapshot, morning); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short message", 480); got != "short message" {
		t.Errorf("message under cap changed: %q", got)
	}

	msg := "First sentence here. Second sentence that runs much longer than the cap allows."
	got := Truncate(msg, 40)
	if got != "First sentence here." {
		t.Errorf("expected cut at sentence boundary, got %q", got)
	}

	msg = "a message with no sentence punctuation that simply keeps going and going"
	got = Truncate(msg, 30)
	if len(got) > 31 { // word cut plus ellipsis rune
		t.Errorf("truncated message too long: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("word-boundary cut missing ellipsis: %q", got)
	}

	if got := Truncate("abcdefghij", 5); got != "abcde" {
		t.Errorf("hard cut = %q, want abcde", got)
	}

	// Multibyte text must never be cut mid-rune.
	if got := Truncate(strings.Repeat("å", 10), 5); got != "ååååå" {
		t.Errorf("hard cut on multibyte = %q, want 5 runes", got)
	}
	msg = "Hälsningar från din vän som skriver ett väldigt långt meddelande utan något slut"
	got = Truncate(msg, 30)
	if !utf8.ValidString(got) {
		t.Errorf("truncation produced invalid UTF-8: %q", got)
	}
	if utf8.RuneCountInString(got) > 30 {
		t.Errorf("truncated message over cap: %d runes", utf8.RuneCountInString(got))
	}
}

func TestComposeTemplateOnly(t *testing.T) {
	comp := New()
	title, message, suggestion := comp.Compose(context.Background(), nudgeRule(), stepsSnapshot(850))
	if title != "Time for a stroll?" {
		t.Errorf("title = %q", title)
	}
	if !strings.HasPrefix(message, "Only 850 steps so far this ") {
		t.Errorf("message = %q", message)
	}
	if suggestion != "A short walk around the block counts." {
		t.Errorf("suggestion = %q", suggestion)
	}

	rule := nudgeRule()
	rule.Title = ""
	title, _, _ = comp.Compose(context.Background(), rule, stepsSnapshot(850))
	if title != rule.Name {
		t.Errorf("empty title should fall back to rule name, got %q", title)
	}
}

func TestComposeEnhancement(t *testing.T) {
	comp := New(WithGenerator(&stubGenerator{out: "You're doing great — fancy a little walk?"}))
	_, message, _ := comp.Compose(context.Background(), nudgeRule(), stepsSnapshot(850))
	if message != "You're doing great — fancy a little walk?" {
		t.Errorf("enhanced message not used: %q", message)
	}
}

func TestComposeEnhancementFallbacks(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
		opts []Option
	}{
		{"generator error", &stubGenerator{err: errors.New("api unavailable")}, nil},
		{"empty generation", &stubGenerator{out: "   "}, nil},
		{"timeout", &stubGenerator{out: "too late", delay: time.Second},
			[]Option{WithEnhanceTimeout(20 * time.Millisecond)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithGenerator(tt.gen)}, tt.opts...)
			comp := New(opts...)
			start := time.Now()
			_, message, _ := comp.Compose(context.Background(), nudgeRule(), stepsSnapshot(850))
			if !strings.HasPrefix(message, "Only 850 steps") {
				t.Errorf("expected template fallback, got %q", message)
			}
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Errorf("compose took %v, should be bounded by the enhancement timeout", elapsed)
			}
		})
	}
}

func TestComposeEnhancedMessageIsTruncated(t *testing.T) {
	long := strings.Repeat("Take a walk. ", 100)
	comp := New(WithGenerator(&stubGenerator{out: long}), WithMaxLength(60))
	_, message, _ := comp.Compose(context.Background(), nudgeRule(), stepsSnapshot(850))
	if len(message) > 60 {
		t.Errorf("enhanced message not truncated: %d chars", len(message))
	}
}
