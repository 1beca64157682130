package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Gates
// -----------------------------------------------------------------------------

// timeRefPatterns is the fixed temporal vocabulary. A message that matches
// none of these cannot describe a schedulable event and is dropped before
// any extraction work.
var timeRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|weekend)\b`),
	regexp.MustCompile(`(?i)\bnext week\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(am|pm)\b`),
	regexp.MustCompile(`(?i)\b(am|pm)\b`),
}

// acceptancePhrases signal the other party agreeing to a proposed plan.
var acceptancePhrases = []string{
	"yes", "yeah", "yep", "sure", "ok", "okay", "sounds good", "i'm in",
	"im in", "let's do it", "lets do it", "works for me", "see you",
	"deal", "confirmed",
}

// triggerKeywords signal scheduling language. Matched as word prefixes so
// "remind" also catches "reminder" and "reminds", and "meet" catches
// "meeting" and "meets".
var triggerKeywords = []string{
	"remind", "remember", "meet", "appointment", "call", "event",
	"plan", "schedule",
}

var (
	acceptanceRes []*regexp.Regexp
	triggerRes    []*regexp.Regexp
)

func init() {
	for _, p := range acceptancePhrases {
		acceptanceRes = append(acceptanceRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(p)+`\b`))
	}
	for _, k := range triggerKeywords {
		triggerRes = append(triggerRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(k)))
	}
}

// hasTimeReference is the first gate.
func hasTimeReference(text string) bool {
	for _, p := range timeRefPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// hasTrigger is the second gate: an acceptance phrase or a scheduling
// keyword.
func hasTrigger(text string) bool {
	for _, p := range acceptanceRes {
		if p.MatchString(text) {
			return true
		}
	}
	for _, p := range triggerRes {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Rule-based extraction
// -----------------------------------------------------------------------------

// defaultHour is used when a date reference carries no clock time.
const defaultHour = 9

const clockPattern = `(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`

var (
	tomorrowAtRe = regexp.MustCompile(`(?i)\btomorrow\s+at\s+` + clockPattern)
	todayAtRe    = regexp.MustCompile(`(?i)\btoday\s+at\s+` + clockPattern)
	bareAtRe     = regexp.MustCompile(`(?i)\bat\s+` + clockPattern + `\b`)
	weekdayAtRe  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\s+at\s+` + clockPattern)

	bareTomorrowRe = regexp.MustCompile(`(?i)\btomorrow\b`)
	bareWeekdayRe  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ruleMatch is the output of the rule pass.
type ruleMatch struct {
	when    time.Time
	matched string // the raw date/time substring
}

// extractRule pattern-matches the fixed scheduling phrases, in order,
// first match wins. Returns nil when no pattern applies.
func extractRule(text string, now time.Time) *ruleMatch {
	// "tomorrow at H(:MM)(am|pm)"
	if m := tomorrowAtRe.FindStringSubmatch(text); m != nil {
		hour, minute := parseClock(m[1], m[2], m[3])
		when := dayAt(now.AddDate(0, 0, 1), hour, minute)
		return &ruleMatch{when: when, matched: m[0]}
	}

	// "today at H(:MM)(am|pm)"
	if m := todayAtRe.FindStringSubmatch(text); m != nil {
		hour, minute := parseClock(m[1], m[2], m[3])
		when := dayAt(now, hour, minute)
		return &ruleMatch{when: when, matched: m[0]}
	}

	// "<weekday> at H(:MM)(am|pm)" - next occurrence of that weekday; when
	// today is that weekday the plan is for next week, not for a time that
	// may already be gone.
	if m := weekdayAtRe.FindStringSubmatch(text); m != nil {
		hour, minute := parseClock(m[2], m[3], m[4])
		when := dayAt(now.AddDate(0, 0, daysUntil(now, weekdays[strings.ToLower(m[1])])), hour, minute)
		return &ruleMatch{when: when, matched: m[0]}
	}

	// bare "at H(:MM)(am|pm)" - today, rolled to the next day if already
	// past.
	if m := bareAtRe.FindStringSubmatch(text); m != nil {
		hour, minute := parseClock(m[1], m[2], m[3])
		when := dayAt(now, hour, minute)
		if !when.After(now) {
			when = when.AddDate(0, 0, 1)
		}
		return &ruleMatch{when: when, matched: m[0]}
	}

	// Date references with no clock time default to 9:00.
	if m := bareTomorrowRe.FindString(text); m != "" {
		return &ruleMatch{when: dayAt(now.AddDate(0, 0, 1), defaultHour, 0), matched: m}
	}
	if m := bareWeekdayRe.FindStringSubmatch(text); m != nil {
		when := dayAt(now.AddDate(0, 0, daysUntil(now, weekdays[strings.ToLower(m[1])])), defaultHour, 0)
		return &ruleMatch{when: when, matched: m[0]}
	}

	return nil
}

// parseClock converts captured hour/minute/ampm strings into a 24h clock.
// pm adds 12 unless the hour is already >= 12; am turns a 12 into 0.
func parseClock(hourStr, minuteStr, ampm string) (int, int) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return defaultHour, 0
	}
	minute := 0
	if minuteStr != "" {
		minute, _ = strconv.Atoi(minuteStr)
	}

	switch strings.ToLower(ampm) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}

	if hour > 23 {
		hour = defaultHour
	}
	if minute > 59 {
		minute = 0
	}
	return hour, minute
}

// dayAt returns the given calendar day at hour:minute in its location.
func dayAt(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

// daysUntil returns days from now to the next occurrence of target,
// treating "today" as next week.
func daysUntil(now time.Time, target time.Weekday) int {
	days := (int(target) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return days
}
