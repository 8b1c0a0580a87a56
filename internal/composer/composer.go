// Package composer turns triggered rules and signal context into user-facing
// check-in messages.
//
// Composition is a two-stage pipeline: a deterministic template stage that
// always succeeds, and an optional AI enhancement stage bounded by a timeout.
// Enhancement errors are swallowed with fallback, never surfaced to the user.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// DefaultEnhanceTimeout bounds the AI enhancement call per check-in.
const DefaultEnhanceTimeout = 3 * time.Second

// Generator is the external text-generation collaborator. Implemented by
// genai.Client; mocked in tests.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Opts holds configuration options for the composer.
type Opts struct {
	Generator      Generator
	EnhanceTimeout time.Duration
	MaxLength      int
	Tone           string
	AvoidTopics    []string
}

// Option defines a configuration option for the composer.
type Option func(*Opts)

// WithGenerator enables the AI enhancement stage.
func WithGenerator(g Generator) Option {
	return func(o *Opts) { o.Generator = g }
}

// WithEnhanceTimeout overrides the enhancement call timeout.
func WithEnhanceTimeout(d time.Duration) Option {
	return func(o *Opts) { o.EnhanceTimeout = d }
}

// WithMaxLength overrides the rendered message length cap.
func WithMaxLength(n int) Option {
	return func(o *Opts) { o.MaxLength = n }
}

// WithTone sets the requested tone for AI-enhanced messages.
func WithTone(tone string) Option {
	return func(o *Opts) { o.Tone = tone }
}

// WithAvoidTopics sets topics the AI enhancement must steer clear of.
func WithAvoidTopics(topics []string) Option {
	return func(o *Opts) { o.AvoidTopics = topics }
}

// Composer renders check-in content for triggered rules.
type Composer struct {
	generator      Generator
	enhanceTimeout time.Duration
	maxLength      int
	tone           string
	avoidTopics    []string
}

// New creates a composer. Without a generator only the template stage runs.
func New(opts ...Option) *Composer {
	cfg := Opts{
		EnhanceTimeout: DefaultEnhanceTimeout,
		MaxLength:      models.MaxMessageLength,
		Tone:           "warm and unhurried",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Composer{
		generator:      cfg.Generator,
		enhanceTimeout: cfg.EnhanceTimeout,
		maxLength:      cfg.MaxLength,
		tone:           cfg.Tone,
		avoidTopics:    cfg.AvoidTopics,
	}
}

// Compose produces the title, message and suggestion for a check-in emitted
// by rule, using the tick's signal snapshot. It always returns usable content.
func (c *Composer) Compose(ctx context.Context, rule models.ProactiveRule, snapshot map[models.SignalType]models.Signal) (title, message, suggestion string) {
	title = rule.Title
	if title == "" {
		title = rule.Name
	}
	message = Render(rule.MessageTemplate, snapshot, time.Now())
	suggestion = rule.Suggestion

	if c.generator != nil {
		if enhanced, ok := c.enhance(ctx, rule, message); ok {
			message = enhanced
		}
	}
	return title, Truncate(message, c.maxLength), suggestion
}

// enhance asks the generator for a friendlier rendition of the template
// message within the configured timeout. Returns ok=false on any failure.
func (c *Composer) enhance(ctx context.Context, rule models.ProactiveRule, rendered string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.enhanceTimeout)
	defer cancel()

	system := c.systemPrompt()
	user := fmt.Sprintf("Check-in type: %s. Time of day: %s. Rewrite this check-in message, keeping all facts in it: %q",
		rule.Type, timeOfDay(time.Now()), rendered)

	out, err := c.generator.Generate(ctx, system, user)
	if err != nil {
		slog.Debug("composer.enhance: falling back to template", "rule_id", rule.ID, "error", err)
		return "", false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		slog.Debug("composer.enhance: empty generation, falling back to template", "rule_id", rule.ID)
		return "", false
	}
	return out, true
}

func (c *Composer) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write short, caring check-in messages for an elderly companion app. Tone: %s. Keep it under %d characters. One or two sentences.",
		c.tone, c.maxLength)
	if len(c.avoidTopics) > 0 {
		fmt.Fprintf(&b, " Never mention: %s.", strings.Join(c.avoidTopics, ", "))
	}
	return b.String()
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\.([A-Za-z0-9_]+)\}|\{time_of_day\}`)

// Render substitutes {signal.field} placeholders with values from the
// snapshot and {time_of_day} with a coarse daypart. Unknown placeholders
// render as an empty string.
func Render(template string, snapshot map[models.SignalType]models.Signal, now time.Time) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if match == "{time_of_day}" {
			return timeOfDay(now)
		}
		groups := placeholderPattern.FindStringSubmatch(match)
		sig, ok := snapshot[models.SignalType(groups[1])]
		if !ok || sig.Value == nil {
			slog.Debug("composer.Render: placeholder has no signal", "placeholder", match)
			return ""
		}
		val, ok := sig.Value[groups[2]]
		if !ok {
			slog.Debug("composer.Render: placeholder has no field", "placeholder", match)
			return ""
		}
		return formatValue(val)
	})
}

// formatValue renders a signal value for message text. JSON numbers decode as
// float64; integral values drop the fraction.
func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%.1f", n)
	case string:
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}

// timeOfDay buckets a timestamp into a human daypart.
func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 5:
		return "night"
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	case h < 21:
		return "evening"
	default:
		return "night"
	}
}

// Truncate caps msg at max characters, preferring the last sentence boundary,
// then the last word boundary, then a hard cut with an ellipsis. Limits are
// counted in runes so a cut never lands mid-character.
func Truncate(msg string, max int) string {
	if max <= 0 || utf8.RuneCountInString(msg) <= max {
		return msg
	}
	cut := string([]rune(msg)[:max])
	if idx := lastSentenceEnd(cut); idx > 0 {
		return strings.TrimSpace(cut[:idx+1])
	}
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		return strings.TrimSpace(cut[:idx]) + "…"
	}
	return cut
}

func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}
