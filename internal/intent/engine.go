// Package intent implements reminder intent detection: deciding whether a
// chat message describes a schedulable event and extracting structured
// title/time/category information from it.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatmind/chatmind/internal/core"
	"github.com/chatmind/chatmind/internal/llm"
	"github.com/chatmind/chatmind/internal/logging"
)

// Confidence assigned to rule-extracted intents. Lower than typical model
// confidence to reflect the rule pass's lower precision.
const ruleConfidence = 0.6

// DefaultConflictWindow flags reminders within this much of the candidate's
// time of day on the same date.
const DefaultConflictWindow = 60 * time.Minute

// DefaultDetectTimeout bounds the structured-extraction model call; on
// expiry the engine falls through to the rule pass as if the call failed.
const DefaultDetectTimeout = 20 * time.Second

// ReminderSource supplies existing reminders for the conflict check.
type ReminderSource interface {
	GetByDate(t time.Time) ([]*core.Reminder, error)
}

// Config for the engine
type Config struct {
	ConflictWindow time.Duration
	DetectTimeout  time.Duration
}

// Engine detects reminder intents in chat messages.
type Engine struct {
	llm       llm.Service    // may be nil: rule pass only
	reminders ReminderSource // may be nil: conflict check skipped

	conflictWindow time.Duration
	detectTimeout  time.Duration

	// now is injectable for tests
	now func() time.Time
}

// New creates a detection engine. Both collaborators are optional.
func New(service llm.Service, reminders ReminderSource, cfg Config) *Engine {
	if cfg.ConflictWindow <= 0 {
		cfg.ConflictWindow = DefaultConflictWindow
	}
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = DefaultDetectTimeout
	}

	return &Engine{
		llm:            service,
		reminders:      reminders,
		conflictWindow: cfg.ConflictWindow,
		detectTimeout:  cfg.DetectTimeout,
		now:            time.Now,
	}
}

// Detect decides whether text describes a reminder-worthy event. It returns
// nil when no intent is found; it never returns an error, because every
// failure path (model down, unparseable output, no pattern match) is
// defined to mean "no result" or "degrade to the rule pass".
func (e *Engine) Detect(ctx context.Context, text string, contextMsgs []core.Message, provenance core.Provenance, convID core.ConversationID) *core.DetectedIntent {
	if !hasTimeReference(text) {
		return nil
	}
	if !hasTrigger(text) {
		return nil
	}

	intent := e.extractLLM(ctx, text, contextMsgs)
	if intent == nil {
		intent = e.extractRuleBased(text)
	}
	if intent == nil {
		return nil
	}

	intent.SourceText = text
	intent.Provenance = provenance
	intent.ConversationID = convID

	e.checkConflicts(intent)
	return intent
}

// DetectAsync runs Detect off the caller's path and delivers the result
// (possibly nil) to the callback. Callers must tolerate the result arriving
// after their own context has moved on; there is no cancellation of an
// in-flight detection.
func (e *Engine) DetectAsync(ctx context.Context, text string, contextMsgs []core.Message, provenance core.Provenance, convID core.ConversationID, fn func(*core.DetectedIntent)) {
	go func() {
		fn(e.Detect(ctx, text, contextMsgs, provenance, convID))
	}()
}

// -----------------------------------------------------------------------------
// Structured-extraction pass
// -----------------------------------------------------------------------------

// extractionResult is the strict JSON shape the model is asked for.
type extractionResult struct {
	Found       bool    `json:"found"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Date        string  `json:"date"` // YYYY-MM-DD
	Time        string  `json:"time"` // HH:MM, 24h
	EventType   string  `json:"event_type"`
	Confidence  float64 `json:"confidence"`
}

// extractLLM asks the model for structured event data. Any failure -
// transport, timeout, unparseable output, no event, past timestamp -
// returns nil so the caller falls through to the rule pass.
func (e *Engine) extractLLM(ctx context.Context, text string, contextMsgs []core.Message) *core.DetectedIntent {
	if e.llm == nil || !e.llm.Available() {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.detectTimeout)
	defer cancel()

	now := e.now()
	system := fmt.Sprintf(`You extract scheduled events from chat messages. The current date and time is %s (%s).

Analyze the last message, using the earlier lines only as context. Respond with ONLY a JSON object (no markdown, no explanation):
{
    "found": true or false whether the message proposes or accepts a concrete event,
    "title": "short event title",
    "description": "one sentence description",
    "date": "YYYY-MM-DD",
    "time": "HH:MM in 24-hour clock",
    "event_type": "meeting", "work", "health", "sports", "social", "reminder", "personal" or "other",
    "confidence": 0.0-1.0 how confident you are
}`, now.Format("2006-01-02 15:04"), now.Weekday())

	var transcript strings.Builder
	for _, m := range contextMsgs {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Sender, m.Text)
	}
	fmt.Fprintf(&transcript, "Message to analyze: %s", text)

	response, err := e.llm.Chat(callCtx, system, []llm.Turn{{Role: "user", Content: transcript.String()}})
	if err != nil {
		logging.Debug("structured extraction unavailable, using rule pass: %v", err)
		return nil
	}

	result, ok := parseExtraction(response)
	if !ok || !result.Found || strings.TrimSpace(result.Date) == "" {
		return nil
	}

	when, err := resolveDateTime(result.Date, result.Time, now.Location())
	if err != nil {
		logging.Debug("extraction returned unusable date %q %q: %v", result.Date, result.Time, err)
		return nil
	}
	// Past timestamps are discarded, not corrected.
	if !when.After(now) {
		return nil
	}

	category := core.EventCategory(strings.ToLower(result.EventType))
	if !core.KnownCategory(string(category)) {
		category = Classify(text)
	}

	confidence := result.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.8
	}

	title := strings.TrimSpace(result.Title)
	if title == "" {
		title = titleFor(text)
	}

	return &core.DetectedIntent{
		Title:       title,
		Description: strings.TrimSpace(result.Description),
		When:        &when,
		Category:    category,
		Confidence:  confidence,
		MatchedText: strings.TrimSpace(result.Date + " " + result.Time),
	}
}

// parseExtraction defensively parses the model output: code fences are
// stripped and a parse failure is "no result", never an error.
func parseExtraction(response string) (*extractionResult, bool) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var result extractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		logging.Debug("unparseable extraction output: %v", err)
		return nil, false
	}
	return &result, true
}

func resolveDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	if clock == "" {
		clock = "09:00"
	}
	return time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+clock, loc)
}

// -----------------------------------------------------------------------------
// Rule-based pass
// -----------------------------------------------------------------------------

func (e *Engine) extractRuleBased(text string) *core.DetectedIntent {
	match := extractRule(text, e.now())
	if match == nil {
		return nil
	}

	when := match.when
	return &core.DetectedIntent{
		Title:       titleFor(text),
		Description: text,
		When:        &when,
		Category:    Classify(text),
		Confidence:  ruleConfidence,
		MatchedText: match.matched,
	}
}

// -----------------------------------------------------------------------------
// Conflict check
// -----------------------------------------------------------------------------

// checkConflicts flags existing same-date reminders within the conflict
// window of the candidate's time of day. Best-effort: a store failure is
// logged and the intent returned unflagged, never blocked.
func (e *Engine) checkConflicts(intent *core.DetectedIntent) {
	if intent.When == nil || e.reminders == nil {
		return
	}

	existing, err := e.reminders.GetByDate(*intent.When)
	if err != nil {
		logging.Warn("conflict check unavailable: %v", err)
		return
	}

	candidate := minuteOfDay(*intent.When)
	for _, r := range existing {
		diff := candidate - minuteOfDay(r.EventAt.In(intent.When.Location()))
		if diff < 0 {
			diff = -diff
		}
		if time.Duration(diff)*time.Minute <= e.conflictWindow {
			intent.HasConflict = true
			intent.Conflicts = append(intent.Conflicts, r)
		}
	}
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
