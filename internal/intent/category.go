package intent

import (
	"strings"

	"github.com/chatmind/chatmind/internal/core"
)

// categoryFamily is one keyword family mapped to a category.
type categoryFamily struct {
	category core.EventCategory
	keywords []string
}

// categoryFamilies in priority order: the first family with a keyword hit
// wins. The order is policy and must not be reordered, or classification
// stops being deterministic for texts that hit several families.
var categoryFamilies = []categoryFamily{
	{core.CategoryMeeting, []string{"meeting", "meet", "sync", "standup", "presentation", "interview"}},
	{core.CategoryWork, []string{"work", "office", "project", "deadline", "client", "shift"}},
	{core.CategoryHealth, []string{"doctor", "dentist", "appointment", "clinic", "hospital", "checkup", "therapy"}},
	{core.CategorySports, []string{"futsal", "football", "soccer", "gym", "practice", "match", "game", "run", "tennis", "basketball"}},
	{core.CategorySocial, []string{"dinner", "lunch", "coffee", "party", "drinks", "hangout", "birthday", "movie"}},
	{core.CategoryReminder, []string{"remind", "remember", "don't forget", "dont forget"}},
	{core.CategoryPersonal, []string{"errand", "shopping", "pickup", "pick up", "family", "home"}},
}

// Classify maps free text to an event category by keyword family, falling
// back to CategoryOther.
func Classify(text string) core.EventCategory {
	lower := strings.ToLower(text)
	for _, fam := range categoryFamilies {
		for _, kw := range fam.keywords {
			if strings.Contains(lower, kw) {
				return fam.category
			}
		}
	}
	return core.CategoryOther
}

// titleKeywords pick a short human title for rule-extracted events.
var titleKeywords = []string{
	"futsal", "meeting", "call", "dinner", "lunch", "coffee", "gym",
	"appointment", "interview", "party", "practice", "game", "movie",
}

// titleFor returns a title derived from the first matching keyword,
// title-cased, or "Event" when nothing matches.
func titleFor(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range titleKeywords {
		if strings.Contains(lower, kw) {
			return strings.ToUpper(kw[:1]) + kw[1:]
		}
	}
	return "Event"
}
